package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	ListenPort int
}

const contextKeyRequestID = "_health_request_id"

// NewApp builds a Fiber application with panic recovery, request IDs and
// structured access logs. Callers mount routes on the returned app.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		AppName:       "health-analytics",
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	return app, nil
}

// requestContextMiddleware 生成请求 ID，并在请求结束后输出一条访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		fields := logrus.Fields{
			"action":      "http_request",
			"request_id":  reqID,
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": time.Since(started).Milliseconds(),
		}
		entry := logger.WithFields(fields)
		switch {
		case err != nil && !errors.As(err, &fe):
			entry.WithError(err).Error("request failed")
		case status >= fiber.StatusInternalServerError:
			entry.Warn("request completed with server error")
		default:
			entry.Debug("request completed")
		}
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// RenderError 输出统一的 JSON 错误体，并附带请求 ID 便于对照日志。
func RenderError(c fiber.Ctx, status int, code string, err error) error {
	payload := fiber.Map{
		"error":      code,
		"request_id": RequestID(c),
	}
	if err != nil {
		payload["detail"] = err.Error()
	}
	return c.Status(status).JSON(payload)
}
