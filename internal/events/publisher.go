// Package events publishes ride session phase changes to Kafka.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-lifecycle/internal/clock"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/session"
)

// Publisher sends lifecycle events somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, ev models.LifecycleEvent) error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher returns an async writer; Publish never waits on the
// brokers, delivery failures are reported through log.
func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn("kafka write", slog.String("detail", fmt.Sprintf(msg, args...)))
		}),
	})
	return &KafkaPublisher{writer: w}
}

// Publish keys messages by ride id so one ride's events stay ordered within
// a partition.
func (k *KafkaPublisher) Publish(ctx context.Context, ev models.LifecycleEvent) error {
	b, err := ev.Marshal()
	if err != nil {
		return err
	}
	key := ev.SessionID
	if ev.Ride != nil && ev.Ride.ID != "" {
		key = ev.Ride.ID
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Attach publishes one event per phase change of m, starting with its
// current phase. Countdown ticks are not published. The returned func
// detaches.
func Attach(m *session.Machine, pub Publisher, clk clock.Clock, log *slog.Logger) (cancel func()) {
	var (
		mu      sync.Mutex
		seen    bool
		lastSeq uint64
		last    session.Phase
	)
	handle := func(s session.Snapshot) {
		mu.Lock()
		if seen && (s.Seq <= lastSeq || s.Phase == last) {
			if s.Seq > lastSeq {
				lastSeq = s.Seq
			}
			mu.Unlock()
			return
		}
		seen, lastSeq, last = true, s.Seq, s.Phase
		mu.Unlock()

		ev := models.LifecycleEvent{
			SessionID: s.SessionID,
			Role:      s.Role,
			Phase:     s.Phase.String(),
			At:        clk.Now().UTC(),
			Ride:      s.Ride,
		}
		ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		if err := pub.Publish(ctx, ev); err != nil {
			log.Warn("lifecycle event not published",
				slog.String("session_id", s.SessionID), slog.String("phase", ev.Phase), slog.Any("error", err))
		}
	}
	cancel = m.Subscribe(handle)
	handle(m.Snapshot())
	return cancel
}
