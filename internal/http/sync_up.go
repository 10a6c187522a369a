package http

import (
	"errors"
	"net/http"

	"github.com/labops/relay/internal/http/middleware"
	"github.com/labops/relay/internal/service/intake"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type syncUpReq struct {
	LookupKeys []string `json:"lookupKeys"`
}

func submitSyncUpHandler(svc *intake.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req syncUpReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		// set by SourceServiceMiddleware
		src, ok := middleware.SourceServiceFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing source service"})
		}

		r, err := svc.Submit(c.Request().Context(), src, req.LookupKeys)
		if err != nil {
			switch {
			case errors.Is(err, intake.ErrNoLookupKeys), errors.Is(err, intake.ErrTooManyKeys):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}

			log.Error("sync-up submit failed", zap.String("source_service", src), zap.Error(err))

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		keys, _ := r.LookupKeys()
		return c.JSON(http.StatusAccepted, map[string]any{
			"accepted":    true,
			"id":          r.ID,
			"status":      r.Status.String(),
			"lookup_keys": keys,
		})
	}
}
