// mirror.go - Optional event mirror to a Kafka topic.
//
// The mirror taps the bus and republishes every event as JSON, keyed by
// channel so per-channel ordering survives partitioning. It is a plain
// subscriber: a stalled broker gets the mirror disconnected like any other
// slow consumer, never back-pressuring publishers.

package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"darkpool/internal/bus"
)

// Mirror republishes bus events to Kafka.
type Mirror struct {
	writer *kafka.Writer
	handle *bus.Handle
	log    *zap.Logger
	done   chan struct{}
}

// NewMirror attaches a mirror to the bus. brokers must be non-empty.
func NewMirror(brokers []string, topic string, b *bus.Bus, log *zap.Logger) *Mirror {
	m := &Mirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		handle: b.NewHandle(),
		log:    log,
		done:   make(chan struct{}),
	}
	b.Tap(m.handle)
	return m
}

// Run drains the tap until the handle closes. Call in its own goroutine.
func (m *Mirror) Run() {
	defer close(m.done)
	for ev := range m.handle.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			m.log.Error("event marshal failed", zap.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = m.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(ev.Channel),
			Value: data,
		})
		cancel()
		if err != nil {
			m.log.Warn("event mirror write failed",
				zap.String("event", ev.Type),
				zap.Error(err),
			)
		}
	}
}

// Close detaches from the bus and closes the writer.
func (m *Mirror) Close() error {
	m.handle.Close()
	<-m.done
	return m.writer.Close()
}
