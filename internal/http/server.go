package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labops/relay/internal/config"
	"github.com/labops/relay/internal/http/middleware"
	"github.com/labops/relay/internal/model"
	"github.com/labops/relay/internal/repository"
	"github.com/labops/relay/internal/service/intake"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BrokerHealthLister is served by both the in-process monitor state and the
// persisted table.
type BrokerHealthLister interface {
	List(ctx context.Context) ([]model.BrokerHealth, error)
}

// Deps wires the server. Optional dependencies left nil disable their routes.
type Deps struct {
	Config   config.Config
	Log      *zap.Logger
	Gatherer prometheus.Gatherer

	BrokerHealth BrokerHealthLister
	Intake       *intake.Service
	Reports      repository.CHEventsRepository
	Redis        *redis.Client
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	log := d.Log.With(zap.String("component", "http"))

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), requestLogger(log))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	v1 := e.Group("/v1")
	if d.BrokerHealth != nil {
		v1.GET("/broker-health", brokerHealthHandler(d.BrokerHealth, log))
	}
	if d.Reports != nil {
		v1.GET("/reports/outbox", listDeliveredHandler(d.Reports, log))
	}
	if d.Intake != nil {
		// middlewares
		srcMW := middleware.SourceServiceMiddleware(d.Config.HTTP.AllowedSources)
		rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Redis:          d.Redis,
			RPS:            d.Config.RateLimit.RPS,
			PerSource:      d.Config.RateLimit.PerSource,
			KeyPrefix:      "rl:src:",
			Window:         time.Second,
			RetryAfterHint: true,
		})
		v1.POST("/sync-up-requests", submitSyncUpHandler(d.Intake, log), srcMW, rlMW)
	}

	return &Server{e: e, log: log}
}

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.e }

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	})
}
