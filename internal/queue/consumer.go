package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/retailedge/internal/models"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// EnsureStreams creates the streams from the consumer side, so consumers can
// start before any producer.
func (c *Consumer) EnsureStreams(ctx context.Context) error {
	return ensureStreams(ctx, c.js, StreamConfigs())
}

// ConsumeFrameEvents delivers new frame events from every camera.
func (c *Consumer) ConsumeFrameEvents(ctx context.Context, consumerName string, handler func(context.Context, *models.FrameEvent) error) error {
	return c.consume(ctx, TracksStreamName, TracksSubjectBase+".>", consumerName, 10*time.Second, jetstream.DeliverNewPolicy,
		func(ctx context.Context, msg jetstream.Msg) error {
			var ev models.FrameEvent
			if err := json.Unmarshal(msg.Data(), &ev); err != nil {
				return errPoison{fmt.Errorf("decode frame event: %w", err)}
			}
			return handler(ctx, &ev)
		})
}

// ConsumeReports delivers report notices, including those published before
// the consumer was first created.
func (c *Consumer) ConsumeReports(ctx context.Context, consumerName string, handler func(context.Context, *models.ReportNotice) error) error {
	return c.consume(ctx, ReportsStreamName, ReportsSubjectBase+".>", consumerName, 30*time.Second, jetstream.DeliverAllPolicy,
		func(ctx context.Context, msg jetstream.Msg) error {
			var n models.ReportNotice
			if err := json.Unmarshal(msg.Data(), &n); err != nil {
				return errPoison{fmt.Errorf("decode report notice: %w", err)}
			}
			return handler(ctx, &n)
		})
}

// errPoison marks a message that can never be processed.
type errPoison struct{ error }

func (c *Consumer) consume(ctx context.Context, streamName, filter, consumerName string, ackWait time.Duration, deliver jetstream.DeliverPolicy, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", streamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    3,
		FilterSubject: filter,
		DeliverPolicy: deliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(2*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch error", "stream", streamName, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				err := handler(ctx, msg)
				switch err.(type) {
				case nil:
					_ = msg.Ack()
				case errPoison:
					slog.Error("dropping undecodable message", "subject", msg.Subject(), "error", err)
					_ = msg.Term()
				default:
					slog.Error("process message error", "subject", msg.Subject(), "error", err)
					_ = msg.Nak()
				}
			}
		}
	}()

	slog.Info("consumer started", "stream", streamName, "consumer", consumerName)
	return nil
}

func (c *Consumer) Ping() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
