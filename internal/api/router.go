package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/retailedge/internal/aggregate"
	"github.com/your-org/retailedge/internal/api/handlers"
	"github.com/your-org/retailedge/internal/api/ws"
	"github.com/your-org/retailedge/internal/auth"
)

type RouterConfig struct {
	APIKey string
	// ReportDir holds the per-camera reports; MasterPath defaults to
	// ReportDir/master_heatmap.json.
	ReportDir  string
	MasterPath string
	Combiner   *aggregate.Combiner
	// Zones is nil when no database is configured.
	Zones  handlers.ZoneLister
	Hub    *ws.Hub
	Checks map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Reports
	reportH := handlers.NewReportHandler(cfg.ReportDir, cfg.MasterPath, cfg.Combiner)
	v1.GET("/reports", reportH.List)
	v1.GET("/reports/:camera", reportH.Get)
	v1.GET("/master", reportH.Master)
	v1.POST("/master/rebuild", reportH.Rebuild)
	v1.GET("/master/chart", reportH.Chart)

	// Zone statistics
	zoneH := handlers.NewZoneHandler(cfg.Zones)
	v1.GET("/zones/:camera", zoneH.List)

	return r
}
