package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/retailedge/internal/ads"
	"github.com/your-org/retailedge/internal/aggregate"
	"github.com/your-org/retailedge/internal/camera"
	"github.com/your-org/retailedge/internal/config"
	"github.com/your-org/retailedge/internal/heatmap"
	"github.com/your-org/retailedge/internal/ingest"
	"github.com/your-org/retailedge/internal/models"
	"github.com/your-org/retailedge/internal/observability"
	"github.com/your-org/retailedge/internal/queue"
	"github.com/your-org/retailedge/internal/storage"
	"github.com/your-org/retailedge/internal/vision"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	source := flag.String("source", "", "camera source: device index, file, RTSP/HTTP or YouTube URL")
	cameraID := flag.String("camera", "", "camera id used in reports")
	heatmapOnly := flag.Bool("heatmap-only", false, "skip face analysis and ad selection")
	overlay := flag.Bool("overlay", false, "write the latest heatmap overlay as <camera>_overlay.jpg")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *source != "" {
		cfg.Camera.Source = *source
	}
	if *cameraID != "" {
		cfg.Camera.ID = *cameraID
	}
	if *heatmapOnly {
		cfg.Vision.DisableFaces = true
	}

	logger := observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting retail edge", "camera_id", cfg.Camera.ID, "source", cfg.Camera.Source)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize ONNX Runtime
	if err := vision.InitRuntime(cfg.Vision.SharedLibPath); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer vision.DestroyRuntime()

	m, err := vision.LoadModels(cfg.Vision)
	if err != nil {
		slog.Error("load models", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	deps := camera.Deps{Detector: m.Persons, Logger: logger}
	if m.Faces != nil {
		deps.Analyzer = m.Faces
	}

	if !*heatmapOnly {
		engine, err := ads.NewEngine(cfg.Ads.RulesFile, nil, logger)
		if err != nil {
			slog.Warn("ad rules unavailable, ad selection disabled", "path", cfg.Ads.RulesFile, "error", err)
		} else {
			deps.Selector = engine
			if cfg.Ads.Watch {
				go func() {
					if err := engine.Watch(ctx); err != nil {
						slog.Warn("watch ad rules", "error", err)
					}
				}()
			}
		}
	}

	if cfg.NATS.Enabled() {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			ns, err := queue.StartEmbedded("", cfg.NATS.Port, cfg.NATS.StoreDir)
			if err != nil {
				slog.Error("start embedded nats", "error", err)
				os.Exit(1)
			}
			defer ns.Shutdown()
			url = ns.ClientURL()
		}
		producer, err := queue.NewProducer(url)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		deps.Publisher = producer
	}

	if cfg.Database.Enabled() {
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			slog.Warn("postgres unavailable, zone mirror disabled", "error", err)
		} else {
			defer db.Close()
			if err := db.EnsureSchema(ctx); err != nil {
				slog.Warn("ensure schema", "error", err)
			}
			deps.Zones = db
		}
	}

	if cfg.MinIO.Enabled() {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Warn("minio unavailable, uploads disabled", "error", err)
		} else {
			if err := minioStore.EnsureBucket(ctx); err != nil {
				slog.Warn("ensure minio bucket", "error", err)
			}
			deps.Objects = minioStore
		}
	}

	hmCfg := heatmap.DefaultConfig(cfg.Camera.ID)
	hmCfg.DwellThreshold = cfg.Heatmap.DwellThreshold
	hmCfg.HotThreshold = cfg.Heatmap.HotThreshold
	hmCfg.CellSize = cfg.Heatmap.CellSize
	hmCfg.OutDir = cfg.Heatmap.OutDir

	renderEvery := cfg.Camera.RenderEvery
	if !*overlay {
		renderEvery = 0
	}
	session, err := camera.NewSession(camera.Config{
		CameraID:      cfg.Camera.ID,
		FrameSkip:     cfg.Camera.FrameSkip,
		RenderEvery:   renderEvery,
		MinPersonConf: cfg.Vision.MinPersonConf,
		Tracker: vision.TrackerConfig{
			IOUThreshold: cfg.Tracking.IOUThreshold,
			MaxAge:       cfg.Tracking.MaxAge,
		},
		Heatmap:  hmCfg,
		Snapshot: cfg.Heatmap.Snapshot,
		ZonePlot: cfg.Heatmap.ZonePlot,
	}, deps)
	if err != nil {
		slog.Error("create camera session", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("edge metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	overlayPath := filepath.Join(cfg.Heatmap.OutDir, heatmap.OverlayFileName(cfg.Camera.ID))
	reader := ingest.NewReader(models.Source{
		CameraID: cfg.Camera.ID,
		URL:      cfg.Camera.Source,
		FPS:      cfg.Camera.FPS,
		Width:    cfg.Vision.FrameWidth,
	}, logger)

	runErr := reader.Run(ctx, func(ctx context.Context, img image.Image) error {
		res, err := session.ProcessFrame(ctx, img)
		if err != nil {
			return err
		}
		if res.Overlay != nil {
			if err := writeJPEG(overlayPath, res.Overlay); err != nil {
				slog.Warn("write overlay", "error", err)
			}
		}
		return nil
	})
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("camera source stopped", "error", runErr)
	}

	// Save heatmap and aggregate master report
	finishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out, err := session.Finish(finishCtx)
	if err != nil {
		slog.Error("save heatmap outputs", "error", err)
	} else if out.Report != "" {
		if _, err := aggregate.NewCombiner(nil, logger).Combine(cfg.Heatmap.OutDir, cfg.Heatmap.MasterFile); err != nil {
			slog.Error("combine reports", "error", err)
		}
	}

	slog.Info("retail edge stopped")
}

func writeJPEG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 85}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
