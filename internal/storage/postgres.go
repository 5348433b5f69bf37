package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/retailedge/internal/config"
	"github.com/your-org/retailedge/internal/heatmap"
	"github.com/your-org/retailedge/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS zone_stats (
	camera       TEXT             NOT NULL,
	zone         TEXT             NOT NULL,
	visits       INTEGER          NOT NULL,
	hot_spots    INTEGER          NOT NULL,
	avg_dwell    DOUBLE PRECISION NOT NULL,
	generated_at TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (camera, zone)
)`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the zone statistics table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveZoneStats replaces the rows of the report's camera with its zones.
func (s *PostgresStore) SaveZoneStats(ctx context.Context, r heatmap.Report) error {
	rows, err := ZoneRows(r)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM zone_stats WHERE camera = $1`, r.Camera); err != nil {
		return fmt.Errorf("clear zone stats: %w", err)
	}

	batch := &pgx.Batch{}
	for _, z := range rows {
		batch.Queue(
			`INSERT INTO zone_stats (camera, zone, visits, hot_spots, avg_dwell, generated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			z.Camera, z.Zone, z.Visits, z.HotSpots, z.AvgDwell, z.GeneratedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert zone stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListZoneStats returns the stored zones of a camera, busiest first.
func (s *PostgresStore) ListZoneStats(ctx context.Context, camera string) ([]models.ZoneStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT camera, zone, visits, hot_spots, avg_dwell, generated_at
		 FROM zone_stats WHERE camera = $1 ORDER BY visits DESC, zone`, camera)
	if err != nil {
		return nil, fmt.Errorf("list zone stats: %w", err)
	}
	defer rows.Close()

	stats, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.ZoneStat])
	if err != nil {
		return nil, fmt.Errorf("scan zone stats: %w", err)
	}
	return stats, nil
}

// ZoneRows flattens a report into table rows.
func ZoneRows(r heatmap.Report) ([]models.ZoneStat, error) {
	if r.Camera == "" {
		return nil, fmt.Errorf("report has no camera")
	}
	generated := time.Now().UTC()
	if r.GeneratedAt != "" {
		t, err := time.Parse(time.RFC3339, r.GeneratedAt)
		if err != nil {
			return nil, fmt.Errorf("parse generated_at: %w", err)
		}
		generated = t
	}

	rows := make([]models.ZoneStat, 0, len(r.Zones))
	for _, z := range r.Zones {
		rows = append(rows, models.ZoneStat{
			Camera:      r.Camera,
			Zone:        z.Zone,
			Visits:      z.Visits,
			HotSpots:    z.HotSpots,
			AvgDwell:    z.AvgDwell,
			GeneratedAt: generated,
		})
	}
	return rows, nil
}
