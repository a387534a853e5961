package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/catalogue-reservation/internal/config"
)

// NewFixedWindow limits each caller to cfg.Limit requests per route within
// cfg.Window.  Counters live in Redis so every replica shares them.  Redis
// failures let the request through.
func NewFixedWindow(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.SugaredLogger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	log = log.Named("ratelimit")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			window := now.UnixNano() / int64(cfg.Window)
			key := buildRateKey(cfg, c, window)
			ctx := c.Request().Context()

			pipe := rdb.TxPipeline()
			incr := pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, cfg.Window)
			if _, err := pipe.Exec(ctx); err != nil {
				log.Warnw("redis error, not limiting", "key", key, "err", err)
				return next(c)
			}
			count := incr.Val()

			remaining := int64(cfg.Limit) - count
			if remaining < 0 {
				remaining = 0
			}
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(cfg.Limit) {
				resetAt := time.Unix(0, (window+1)*int64(cfg.Window))
				secs := int(resetAt.Sub(now).Seconds() + 0.999)
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context, window int64) string {
	route := c.Request().Method + " " + c.Path()
	return strings.Join([]string{cfg.Prefix, rateKeyOwner(c), route, strconv.FormatInt(window, 10)}, ":")
}
