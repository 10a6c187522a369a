package middleware

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig configures the Redis fixed-window limiter.
type RateLimitConfig struct {
	Redis          *redis.Client
	RPS            int            // default budget per window; 0 disables limiting
	PerSource      map[string]int // budget overrides keyed by lower-cased source service
	KeyPrefix      string         // default "rl:src:"
	Window         time.Duration  // default 1s
	RetryAfterHint bool
	Now            func() time.Time
}

func (cfg RateLimitConfig) limitFor(who string) int {
	if n, ok := cfg.PerSource[who]; ok {
		return n
	}
	return cfg.RPS
}

// window returns the counter key for who at now and the time left in that window.
func (cfg RateLimitConfig) window(who string, now time.Time) (string, time.Duration) {
	w := int64(cfg.Window)
	slot := now.UnixNano() / w
	left := time.Duration(w - now.UnixNano()%w)
	return cfg.KeyPrefix + who + ":" + strconv.FormatInt(slot, 10), left
}

// RateLimitMiddleware limits each calling service (or client IP when the
// caller is anonymous) to its budget per window. Limiting is skipped when
// Redis cannot be reached.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:src:"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			who, ok := SourceServiceFromCtx(c)
			if !ok {
				who = "ip:" + c.RealIP()
			}
			limit := cfg.limitFor(who)
			if limit <= 0 || cfg.Redis == nil {
				return next(c)
			}

			key, left := cfg.window(who, cfg.Now())
			ctx := c.Request().Context()

			var used *redis.IntCmd
			_, err := cfg.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
				used = p.Incr(ctx, key)
				p.Expire(ctx, key, 2*cfg.Window)
				return nil
			})
			if err != nil {
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(int64(limit)-used.Val(), 0), 10))

			if used.Val() > int64(limit) {
				if cfg.RetryAfterHint {
					h.Set("Retry-After", strconv.Itoa(int((left+time.Second-1)/time.Second)))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}
