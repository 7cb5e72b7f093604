package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/solstice035/health-analytics/internal/cache"
	"github.com/solstice035/health-analytics/internal/server"
)

// RegisterCacheRoutes 暴露 /-/cache 管理接口：统计、键列表与失效。
func RegisterCacheRoutes(app *fiber.App, coord *cache.Coordinator, logger *logrus.Logger) {
	if app == nil || coord == nil {
		return
	}

	app.Get("/-/cache/stats", func(c fiber.Ctx) error {
		return c.JSON(coord.Stats(c.Context()))
	})

	app.Get("/-/cache/keys", func(c fiber.Ctx) error {
		keys, err := coord.Store().Keys(c.Context())
		if err != nil {
			return server.RenderError(c, fiber.StatusInternalServerError, "cache_unreadable", err)
		}
		if keys == nil {
			keys = []string{}
		}
		return c.JSON(fiber.Map{"keys": keys, "count": len(keys)})
	})

	app.Delete("/-/cache/:key", func(c fiber.Ctx) error {
		key := strings.TrimSpace(c.Params("key"))
		if key == "" {
			return server.RenderError(c, fiber.StatusBadRequest, "cache_key_required", nil)
		}
		if err := coord.Invalidate(c.Context(), key); err != nil {
			return server.RenderError(c, fiber.StatusInternalServerError, "invalidate_failed", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		removed, err := coord.InvalidateAll(c.Context())
		if err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"action":     "cache_clear",
					"request_id": server.RequestID(c),
					"removed":    removed,
				}).WithError(err).Warn("cache clear incomplete")
			}
			return server.RenderError(c, fiber.StatusInternalServerError, "invalidate_failed", err)
		}
		return c.JSON(fiber.Map{"removed": removed})
	})
}
