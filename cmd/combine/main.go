package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/your-org/retailedge/internal/aggregate"
	"github.com/your-org/retailedge/internal/config"
	"github.com/your-org/retailedge/internal/models"
	"github.com/your-org/retailedge/internal/observability"
	"github.com/your-org/retailedge/internal/queue"
	"github.com/your-org/retailedge/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	dir := flag.String("dir", "", "directory holding per-camera reports (default heatmap.out_dir)")
	master := flag.String("master", "", "master report path (default heatmap.master_file)")
	chart := flag.String("chart", "", "also write an HTML chart of the aggregate to this path")
	fetch := flag.Bool("fetch", false, "download camera reports from MinIO before combining")
	watch := flag.Bool("watch", false, "re-combine on every report notice from NATS")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *dir == "" {
		*dir = cfg.Heatmap.OutDir
	}
	if *master == "" {
		*master = cfg.Heatmap.MasterFile
	}

	logger := observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var minioStore *storage.MinIOStore
	if *fetch {
		if !cfg.MinIO.Enabled() {
			slog.Error("-fetch needs minio.endpoint")
			os.Exit(1)
		}
		minioStore, err = storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
	}

	c := &combiner{
		combiner: aggregate.NewCombiner(nil, logger),
		dir:      *dir,
		master:   *master,
		chart:    *chart,
		minio:    minioStore,
	}

	if err := c.run(ctx); err != nil {
		slog.Error("combine reports", "error", err)
		os.Exit(1)
	}
	if !*watch {
		return
	}

	if !cfg.NATS.Enabled() || cfg.NATS.URL == "" {
		slog.Error("-watch needs nats.url")
		os.Exit(1)
	}
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()
	if err := consumer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	err = consumer.ConsumeReports(ctx, "combiner", func(ctx context.Context, n *models.ReportNotice) error {
		slog.Info("report notice", "camera_id", n.CameraID, "zones", n.Zones)
		return c.run(ctx)
	})
	if err != nil {
		slog.Error("start report consumer", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("combiner stopped")
}

type combiner struct {
	combiner *aggregate.Combiner
	dir      string
	master   string
	chart    string
	minio    *storage.MinIOStore
}

func (c *combiner) run(ctx context.Context) error {
	if c.minio != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, time.Minute)
		paths, err := c.minio.FetchReports(fetchCtx, storage.ReportPrefix, c.dir)
		cancel()
		if err != nil {
			slog.Warn("fetch reports", "error", err)
		} else {
			slog.Info("fetched reports", "count", len(paths))
		}
	}

	res, err := c.combiner.Combine(c.dir, c.master)
	if err != nil {
		return err
	}
	for _, s := range res.Skipped {
		slog.Warn("skipped report", "file", filepath.Base(s.Path), "reason", s.Reason)
	}

	if c.chart != "" {
		if err := writeChart(c.chart, res.Master.Aggregate); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
		slog.Info("chart saved", "path", c.chart)
	}
	return nil
}

func writeChart(path string, agg aggregate.Aggregate) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := aggregate.RenderChart(agg, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
