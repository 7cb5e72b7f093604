package routes

import (
	"errors"
	"io/fs"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/solstice035/health-analytics/internal/fingerprint"
	"github.com/solstice035/health-analytics/internal/healthdata"
	"github.com/solstice035/health-analytics/internal/remotefile"
	"github.com/solstice035/health-analytics/internal/server"
)

// DayRouteOptions 控制按日期查询与预热接口的默认值。
type DayRouteOptions struct {
	// WarmDays 是未传 days 参数时预热与区间查询的天数。
	WarmDays int
	// MaxDays 限制单次请求的天数。
	MaxDays int
	Now     func() time.Time
}

const defaultMaxDays = 366

// RegisterDayRoutes 暴露按日期读取汇总、查看状态与预热的接口。
func RegisterDayRoutes(app *fiber.App, repo *healthdata.Repository, opts DayRouteOptions) {
	if app == nil || repo == nil {
		return
	}
	if opts.WarmDays <= 0 {
		opts.WarmDays = 30
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = defaultMaxDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	app.Post("/-/cache/warm", func(c fiber.Ctx) error {
		end, days, err := rangeParams(c, opts)
		if err != nil {
			return server.RenderError(c, fiber.StatusBadRequest, "invalid_range", err)
		}
		report, err := repo.WarmRecent(c.Context(), end, days)
		if err != nil {
			return server.RenderError(c, fiber.StatusServiceUnavailable, "warm_interrupted", err)
		}
		return c.JSON(report)
	})

	app.Get("/-/days", func(c fiber.Ctx) error {
		end, days, err := rangeParams(c, opts)
		if err != nil {
			return server.RenderError(c, fiber.StatusBadRequest, "invalid_range", err)
		}
		result, err := repo.LoadRange(c.Context(), end, days)
		if err != nil {
			return server.RenderError(c, fiber.StatusInternalServerError, "range_failed", err)
		}
		return c.JSON(result)
	})

	app.Get("/-/days/:date", func(c fiber.Ctx) error {
		date, err := healthdata.ParseDate(c.Params("date"))
		if err != nil {
			return server.RenderError(c, fiber.StatusBadRequest, "invalid_date", err)
		}
		summary, err := repo.SummarizeDay(c.Context(), date)
		if err != nil {
			return renderDayError(c, err)
		}
		return c.JSON(summary)
	})

	app.Get("/-/days/:date/status", func(c fiber.Ctx) error {
		date, err := healthdata.ParseDate(c.Params("date"))
		if err != nil {
			return server.RenderError(c, fiber.StatusBadRequest, "invalid_date", err)
		}
		status, err := repo.Status(c.Context(), date)
		if err != nil {
			return server.RenderError(c, fiber.StatusInternalServerError, "status_failed", err)
		}
		return c.JSON(status)
	})
}

// renderDayError 区分文件不存在（404）、暂时无法读取（503）与其它错误（500）。
func renderDayError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist) || errors.Is(err, fingerprint.ErrSourceMissing):
		return server.RenderError(c, fiber.StatusNotFound, "source_unavailable", err)
	case errors.Is(err, remotefile.ErrUnavailable):
		return server.RenderError(c, fiber.StatusServiceUnavailable, "source_unavailable", err)
	default:
		return server.RenderError(c, fiber.StatusInternalServerError, "summary_failed", err)
	}
}

func rangeParams(c fiber.Ctx, opts DayRouteOptions) (time.Time, int, error) {
	end := healthdata.Yesterday(opts.Now())
	if raw := c.Query("end"); raw != "" {
		parsed, err := healthdata.ParseDate(raw)
		if err != nil {
			return time.Time{}, 0, err
		}
		end = parsed
	}

	days := opts.WarmDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > opts.MaxDays {
			return time.Time{}, 0, errors.New("days must be between 1 and " + strconv.Itoa(opts.MaxDays))
		}
		days = n
	}
	return end, days, nil
}
