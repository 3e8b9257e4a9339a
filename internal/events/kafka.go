package events

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes changes to a topic, hashing the record key onto a
// partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for cfg.Topic.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Zstd,
	}}
}

// NewPublisher returns a Kafka publisher when the feed is enabled, otherwise
// a NopPublisher.
func NewPublisher(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(cfg)
}

// Publish writes all changes synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(changes))
	for _, c := range changes {
		msg, err := Encode(c)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Handler processes a batch of decoded changes. Offsets are committed only
// after it returns nil.
type Handler func(ctx context.Context, changes []Change) error

// ListenerConfig tunes batching of the consumer loop.
type ListenerConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	RetryDelay   time.Duration
}

// Listener consumes the change feed with at-least-once delivery.
type Listener struct {
	reader messageReader
	cfg    ListenerConfig
}

// NewListener creates a consumer-group listener for cfg.Topic.
func NewListener(cfg config.KafkaConfig, lc ListenerConfig) *Listener {
	return newListener(kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	}), lc)
}

func newListener(r messageReader, lc ListenerConfig) *Listener {
	if lc.BatchSize <= 0 {
		lc.BatchSize = 500
	}
	if lc.BatchTimeout <= 0 {
		lc.BatchTimeout = 2 * time.Second
	}
	if lc.RetryDelay <= 0 {
		lc.RetryDelay = 2 * time.Second
	}
	return &Listener{reader: r, cfg: lc}
}

// Run blocks until ctx is cancelled. Messages accumulate until the batch is
// full or the batch timeout passes, then go to handle. A failing handler is
// retried with the same batch; undecodable messages are logged and committed.
func (l *Listener) Run(ctx context.Context, handle Handler) error {
	changes := make([]Change, 0, l.cfg.BatchSize)
	msgs := make([]kafka.Message, 0, l.cfg.BatchSize)

	flush := func() error {
		if len(msgs) == 0 {
			return nil
		}
		for {
			err := handle(ctx, changes)
			if err == nil {
				break
			}
			logger.CtxError(ctx, "Change handler failed (retrying): changes=%d, error=%v", len(changes), err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.cfg.RetryDelay):
			}
		}
		if err := l.reader.CommitMessages(ctx, msgs...); err != nil {
			logger.CtxWarn(ctx, "Failed to commit offsets: error=%v", err)
		}
		changes = changes[:0]
		msgs = msgs[:0]
		return nil
	}

	deadline := time.Now().Add(l.cfg.BatchTimeout)
	for {
		if ctx.Err() != nil {
			return nil
		}

		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		msg, err := l.reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				if err := flush(); err != nil {
					return ignoreCancel(err)
				}
				deadline = time.Now().Add(l.cfg.BatchTimeout)
				continue
			case errors.Is(err, context.Canceled):
				return nil
			default:
				logger.CtxError(ctx, "Kafka fetch error: %v", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(l.cfg.RetryDelay):
				}
				continue
			}
		}

		msgs = append(msgs, msg)
		if c, err := Decode(msg); err != nil {
			logger.CtxWarn(ctx, "Skipping malformed change: error=%v", err)
		} else {
			changes = append(changes, c)
		}

		if len(msgs) >= l.cfg.BatchSize {
			if err := flush(); err != nil {
				return ignoreCancel(err)
			}
			deadline = time.Now().Add(l.cfg.BatchTimeout)
		}
	}
}

// Close closes the reader.
func (l *Listener) Close() error {
	return l.reader.Close()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// GroupBySupplier splits a batch into external ids per supplier, keeping the
// first-seen order and dropping repeats.
func GroupBySupplier(changes []Change) map[string][]string {
	out := make(map[string][]string)
	seen := make(map[string]bool)
	for _, c := range changes {
		if seen[c.Key()] {
			continue
		}
		seen[c.Key()] = true
		out[c.SupplierID] = append(out[c.SupplierID], c.ExternalID)
	}
	return out
}
