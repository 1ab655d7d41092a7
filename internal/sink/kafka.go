// Package sink forwards ingested readings to downstream systems.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xtxerr/catwatch/internal/broadcast"
	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/types"
)

// subscriberName identifies the sink in the broadcaster registry.
const subscriberName = "kafka"

// writeTimeout bounds one batch write.
const writeTimeout = 10 * time.Second

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes every broadcast reading as a JSON message keyed by
// profile. It is an ordinary broadcast subscriber, so a slow broker loses
// readings to drop-oldest instead of stalling ingestion. Failed batches are
// logged and counted, never retried.
type Kafka struct {
	w         MessageWriter
	b         *broadcast.Broadcaster
	topic     string
	batchSize int
	log       *slog.Logger

	// State
	running atomic.Bool
	sub     atomic.Pointer[broadcast.Subscription]
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	sent    atomic.Int64
	batches atomic.Int64
	errors  atomic.Int64
	failed  atomic.Int64
}

// KafkaStats holds sink statistics.
type KafkaStats struct {
	Topic   string `json:"topic"`
	Sent    int64  `json:"sent"`
	Batches int64  `json:"batches"`
	Errors  int64  `json:"errors"`
	Failed  int64  `json:"failed"`
	Dropped int64  `json:"dropped"`
	Running bool   `json:"running"`
}

// NewKafka creates a sink writing to the brokers in cfg.
func NewKafka(cfg config.KafkaConfig, b *broadcast.Broadcaster) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    cfg.BatchSize,
		Async:        false,
	}
	return newKafka(w, b, cfg.Topic, cfg.BatchSize)
}

func newKafka(w MessageWriter, b *broadcast.Broadcaster, topic string, batchSize int) *Kafka {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Kafka{
		w:         w,
		b:         b,
		topic:     topic,
		batchSize: batchSize,
		log:       logging.Component("sink").With("topic", topic),
	}
}

// Start subscribes to the broadcaster and forwards readings until Stop or
// ctx is cancelled.
func (k *Kafka) Start(ctx context.Context) error {
	if !k.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	ctx, k.cancel = context.WithCancel(ctx)
	sub := k.b.Subscribe(subscriberName)
	k.sub.Store(sub)

	k.wg.Add(1)
	go k.run(ctx, sub)

	k.log.Info("kafka sink started", "batch_size", k.batchSize)
	return nil
}

// Stop unsubscribes, waits for the in-flight batch and closes the writer.
func (k *Kafka) Stop() error {
	if !k.running.CompareAndSwap(true, false) {
		return nil
	}

	k.cancel()
	k.wg.Wait()
	k.b.Unsubscribe(k.sub.Load())

	if err := k.w.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}

	k.log.Info("kafka sink stopped", "sent", k.sent.Load())
	return nil
}

func (k *Kafka) run(ctx context.Context, sub *broadcast.Subscription) {
	defer k.wg.Done()

	batch := make([]kafka.Message, 0, k.batchSize)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-sub.C():
			if !ok {
				return
			}
			batch = k.append(batch, r)

			// Take whatever is already queued, up to a full batch.
		fill:
			for len(batch) < k.batchSize {
				select {
				case r, ok := <-sub.C():
					if !ok {
						break fill
					}
					batch = k.append(batch, r)
				default:
					break fill
				}
			}

			k.flush(ctx, batch)
			batch = batch[:0]
		}
	}
}

func (k *Kafka) append(batch []kafka.Message, r types.Reading) []kafka.Message {
	msg, err := Message(r)
	if err != nil {
		k.errors.Add(1)
		k.log.Error("encode reading", "error", err, "timestamp", r.Timestamp)
		return batch
	}
	return append(batch, msg)
}

func (k *Kafka) flush(ctx context.Context, batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := k.w.WriteMessages(ctx, batch...); err != nil {
		k.errors.Add(1)
		k.failed.Add(int64(len(batch)))
		k.log.Warn("kafka write failed", "error", err, "messages", len(batch))
		return
	}

	k.batches.Add(1)
	k.sent.Add(int64(len(batch)))
}

// Message encodes a reading as a Kafka message keyed by its profile.
func Message(r types.Reading) (kafka.Message, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(r.Profile),
		Value: value,
		Time:  r.Timestamp,
	}, nil
}

// Stats returns sink statistics.
func (k *Kafka) Stats() KafkaStats {
	s := KafkaStats{
		Topic:   k.topic,
		Sent:    k.sent.Load(),
		Batches: k.batches.Load(),
		Errors:  k.errors.Load(),
		Failed:  k.failed.Load(),
		Running: k.running.Load(),
	}
	if sub := k.sub.Load(); sub != nil {
		s.Dropped = sub.Dropped()
	}
	return s
}
