package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labops/relay/internal/repository"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func listDeliveredHandler(chRepo repository.CHEventsRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := repository.EventFilter{
			Source:      strings.TrimSpace(c.QueryParam("source")),
			EventType:   strings.TrimSpace(c.QueryParam("event_type")),
			AggregateID: strings.TrimSpace(c.QueryParam("aggregate_id")),
			Limit:       50,
		}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				f.Limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				f.Offset = n
			}
		}
		if v := c.QueryParam("since"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			}
			f.Since = ts
		}

		rows, err := chRepo.ListDelivered(c.Request().Context(), f)
		if err != nil {
			log.Error("clickhouse list failed", zap.Error(err))

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   f.Limit,
			"offset":  f.Offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
