package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	"github.com/your-org/retailedge/internal/models"
	"github.com/your-org/retailedge/internal/observability"
)

// FrameHandler receives each decoded frame in order.
type FrameHandler func(ctx context.Context, frame image.Image) error

// ErrStopReading can be returned by a FrameHandler to end Run without error.
var ErrStopReading = errors.New("stop reading")

// Reader pulls frames from one camera source and retries the extraction
// with exponential backoff when it fails.
type Reader struct {
	src        models.Source
	maxRetries int
	resolve    func(ctx context.Context, src models.Source) (string, error)
	logger     *slog.Logger
}

func NewReader(src models.Source, logger *slog.Logger) *Reader {
	if src.Type == "" {
		src.Type = models.DetectSourceType(src.URL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		src:        src,
		maxRetries: 3,
		resolve:    ResolveYouTubeURL,
		logger:     logger.With("camera_id", src.CameraID),
	}
}

// Source returns the source with its detected type.
func (r *Reader) Source() models.Source { return r.src }

// Run blocks until the source ends, the context is cancelled, the handler
// returns ErrStopReading, or every retry failed. Local files are not retried
// once they produced frames.
func (r *Reader) Run(ctx context.Context, handler FrameHandler) error {
	observability.ActiveCameras.Inc()
	defer observability.ActiveCameras.Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stopped bool
	var decoded int
	onFrame := func(data []byte) error {
		img, err := DecodeJPEG(data)
		if err != nil {
			return err
		}
		decoded++
		if err := handler(ctx, img); err != nil {
			if errors.Is(err, ErrStopReading) {
				stopped = true
				cancel()
				return nil
			}
			return err
		}
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt)) * time.Second // 2s, 4s, 8s
			r.logger.Warn("retrying source extraction", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}

		src := r.src
		// YouTube stream URLs expire, resolve them on every attempt.
		if src.Type == models.SourceTypeYouTube {
			resolved, err := r.resolve(ctx, src)
			if err != nil {
				lastErr = err
				r.logger.Warn("youtube resolve failed", "error", err)
				continue
			}
			src.URL = resolved
		}

		extractor := &FFmpegExtractor{}
		err := extractor.StartExtraction(ctx, src, onFrame)
		if stopped || ctx.Err() != nil {
			return nil
		}
		if err == nil {
			r.logger.Info("source ended", "frames", decoded)
			return nil
		}
		if src.Type == models.SourceTypeFile && decoded > 0 {
			return err
		}

		lastErr = err
		r.logger.Error("source extraction failed", "attempt", attempt, "error", err)
	}

	return fmt.Errorf("source failed after %d retries: %w", r.maxRetries, lastErr)
}

// DecodeJPEG decodes one frame produced by the extractor.
func DecodeJPEG(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg frame: %w", err)
	}
	return img, nil
}
