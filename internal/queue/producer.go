package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/retailedge/internal/models"
)

const (
	TracksStreamName   = "TRACKS"
	TracksSubjectBase  = "tracks"
	ReportsStreamName  = "REPORTS"
	ReportsSubjectBase = "reports"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

func connect(natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// StreamConfigs returns the JetStream streams the pipeline uses.
func StreamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        TracksStreamName,
			Subjects:    []string{TracksSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      10 * time.Minute,
			MaxMsgs:     500000,
			MaxBytes:    512 * 1024 * 1024,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
			Description: "Per-frame tracked persons, dwell events and ad choices",
		},
		{
			Name:        ReportsStreamName,
			Subjects:    []string{ReportsSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Description: "Heatmap report notices",
		},
	}
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	return ensureStreams(ctx, p.js, StreamConfigs())
}

func ensureStreams(ctx context.Context, js jetstream.JetStream, streams []jetstream.StreamConfig) error {
	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishFrameEvent publishes one processed frame to tracks.<camera>.
func (p *Producer) PublishFrameEvent(ctx context.Context, ev *models.FrameEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal frame event: %w", err)
	}

	subject := TracksSubject(ev.CameraID)
	_, err = p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(ev.ID.String()))
	if err != nil {
		return fmt.Errorf("publish frame event: %w", err)
	}
	return nil
}

// PublishReport announces a saved heatmap report on reports.<camera>.
func (p *Producer) PublishReport(ctx context.Context, n *models.ReportNotice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal report notice: %w", err)
	}

	subject := ReportsSubject(n.CameraID)
	_, err = p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(n.ID.String()))
	if err != nil {
		return fmt.Errorf("publish report notice: %w", err)
	}
	return nil
}

// TracksSubject returns the subject frame events of a camera go to.
func TracksSubject(cameraID string) string {
	return TracksSubjectBase + "." + subjectToken(cameraID)
}

// ReportsSubject returns the subject report notices of a camera go to.
func ReportsSubject(cameraID string) string {
	return ReportsSubjectBase + "." + subjectToken(cameraID)
}

// subjectToken turns a camera id into a single NATS subject token.
func subjectToken(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, id)
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
