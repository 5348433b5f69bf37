package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/retailedge/internal/models"
	"github.com/your-org/retailedge/pkg/dto"
)

type ZoneLister interface {
	ListZoneStats(ctx context.Context, camera string) ([]models.ZoneStat, error)
}

// ZoneHandler serves the zone statistics mirrored to Postgres.
type ZoneHandler struct {
	db ZoneLister
}

func NewZoneHandler(db ZoneLister) *ZoneHandler {
	return &ZoneHandler{db: db}
}

func (h *ZoneHandler) List(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "zone statistics database not configured"})
		return
	}

	stats, err := h.db.ListZoneStats(c.Request.Context(), c.Param("camera"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	items := make([]dto.ZoneStat, 0, len(stats))
	for _, s := range stats {
		items = append(items, dto.ZoneStat{
			Camera:      s.Camera,
			Zone:        s.Zone,
			Visits:      s.Visits,
			HotSpots:    s.HotSpots,
			AvgDwell:    s.AvgDwell,
			GeneratedAt: s.GeneratedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, dto.ZoneStatListResponse{Zones: items, Total: len(items)})
}
