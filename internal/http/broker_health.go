package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func brokerHealthHandler(src BrokerHealthLister, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		rows, err := src.List(c.Request().Context())
		if err != nil {
			log.Error("broker health list failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(rows),
			"results": rows,
		})
	}
}
