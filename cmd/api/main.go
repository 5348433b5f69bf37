package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/retailedge/internal/aggregate"
	"github.com/your-org/retailedge/internal/api"
	"github.com/your-org/retailedge/internal/api/handlers"
	"github.com/your-org/retailedge/internal/api/ws"
	"github.com/your-org/retailedge/internal/config"
	"github.com/your-org/retailedge/internal/models"
	"github.com/your-org/retailedge/internal/observability"
	"github.com/your-org/retailedge/internal/queue"
	"github.com/your-org/retailedge/internal/storage"
	"github.com/your-org/retailedge/pkg/dto"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting retail edge API", "port", cfg.Server.Port, "reports", cfg.Heatmap.OutDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handlers.Check{}
	routerCfg := api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		ReportDir:  cfg.Heatmap.OutDir,
		MasterPath: cfg.Heatmap.MasterFile,
		Combiner:   aggregate.NewCombiner(nil, logger),
		Checks:     checks,
	}

	// Connect to Postgres
	if cfg.Database.Enabled() {
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			slog.Warn("ensure schema", "error", err)
		}
		routerCfg.Zones = db
		checks["postgres"] = db.Ping
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()
	routerCfg.Hub = hub

	// Broadcast live frame events and report notices
	if cfg.NATS.Enabled() {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			ns, err := queue.StartEmbedded("0.0.0.0", cfg.NATS.Port, cfg.NATS.StoreDir)
			if err != nil {
				slog.Error("start embedded nats", "error", err)
				os.Exit(1)
			}
			defer ns.Shutdown()
			url = ns.ClientURL()
			slog.Info("embedded nats listening", "url", url)
		}

		consumer, err := queue.NewConsumer(url)
		if err != nil {
			slog.Error("create consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
		if err := consumer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		checks["nats"] = func(context.Context) error { return consumer.Ping() }

		err = consumer.ConsumeFrameEvents(ctx, "api-frames", func(_ context.Context, ev *models.FrameEvent) error {
			hub.BroadcastEvent(dto.FrameEventWS(ev))
			return nil
		})
		if err != nil {
			slog.Warn("start frame consumer", "error", err)
		}

		err = consumer.ConsumeReports(ctx, "api-reports", func(_ context.Context, n *models.ReportNotice) error {
			hub.BroadcastEvent(dto.ReportNoticeWS(n))
			return nil
		})
		if err != nil {
			slog.Warn("start report consumer", "error", err)
		}
	}

	if cfg.MinIO.Enabled() {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Warn("minio unavailable", "error", err)
		} else {
			checks["minio"] = minioStore.Ping
		}
	}

	router := api.NewRouter(routerCfg)

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
