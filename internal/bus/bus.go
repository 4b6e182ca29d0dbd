// bus.go - Typed topic publish with per-subscriber bounded fan-out.
//
// Publishers never block: every subscriber handle owns a bounded outbound
// queue drained by its own writer (the gateway's write pump, the Kafka
// mirror's loop). A handle whose queue overflows is disconnected.

package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event topics.
const (
	TopicOrderSubmitted      = "order:submitted"
	TopicOrderMatched        = "order:matched"
	TopicProofGenerating     = "proof:generating"
	TopicProofGenerated      = "proof:generated"
	TopicProofFailed         = "proof:failed"
	TopicSettlementQueued    = "settlement:queued"
	TopicSettlementTxBuilt   = "settlement:txBuilt"
	TopicSettlementConfirmed = "settlement:confirmed"
	TopicSettlementFailed    = "settlement:failed"
	TopicSignatureAdded      = "signature:added"
	TopicSignatureComplete   = "signature:complete"
)

// Channel name constructors.
func OrderbookChannel(asset string) string    { return "orderbook:" + asset }
func TraderChannel(addr string) string        { return "trader:" + addr }
func SettlementChannel(matchID string) string { return "settlement:" + matchID }

// Event is one delivered message. Timestamp is Unix milliseconds.
type Event struct {
	Type      string         `json:"event"`
	Channel   string         `json:"channel"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// Handle is one subscriber's end of the bus. Events arrive on Events() in
// the order the bus accepted them per channel.
type Handle struct {
	ID uuid.UUID

	bus  *Bus
	out  chan Event
	once sync.Once

	mu       sync.Mutex
	channels map[string]struct{}
	tap      bool
}

// Events returns the subscriber's delivery queue. The channel closes when
// the handle is detached (explicitly or as a slow consumer).
func (h *Handle) Events() <-chan Event {
	return h.out
}

// Subscribe registers the handle on a channel. Idempotent.
func (h *Handle) Subscribe(channel string) {
	h.mu.Lock()
	h.channels[channel] = struct{}{}
	h.mu.Unlock()
	h.bus.attach(channel, h)
}

// Unsubscribe removes the handle from a channel. Idempotent.
func (h *Handle) Unsubscribe(channel string) {
	h.mu.Lock()
	delete(h.channels, channel)
	h.mu.Unlock()
	h.bus.detach(channel, h)
}

// Close releases every subscription and closes the delivery queue.
func (h *Handle) Close() {
	h.mu.Lock()
	channels := make([]string, 0, len(h.channels))
	for c := range h.channels {
		channels = append(channels, c)
	}
	h.channels = make(map[string]struct{})
	tap := h.tap
	h.tap = false
	h.mu.Unlock()

	for _, c := range channels {
		h.bus.detach(c, h)
	}
	if tap {
		h.bus.untap(h)
	}
	h.once.Do(func() { close(h.out) })
}

// Bus routes events to channel subscribers.
type Bus struct {
	mu        sync.RWMutex
	channels  map[string]map[uuid.UUID]*Handle
	taps      map[uuid.UUID]*Handle
	queueSize int
	log       *zap.Logger
}

// New creates a bus. queueSize bounds each subscriber's outbound queue.
func New(queueSize int, log *zap.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Bus{
		channels:  make(map[string]map[uuid.UUID]*Handle),
		taps:      make(map[uuid.UUID]*Handle),
		queueSize: queueSize,
		log:       log,
	}
}

// NewHandle creates an unattached subscriber handle.
func (b *Bus) NewHandle() *Handle {
	return &Handle{
		ID:       uuid.New(),
		bus:      b,
		out:      make(chan Event, b.queueSize),
		channels: make(map[string]struct{}),
	}
}

// Tap registers the handle for every event regardless of channel. Used by
// the broker mirror.
func (b *Bus) Tap(h *Handle) {
	h.mu.Lock()
	h.tap = true
	h.mu.Unlock()
	b.mu.Lock()
	b.taps[h.ID] = h
	b.mu.Unlock()
}

func (b *Bus) untap(h *Handle) {
	b.mu.Lock()
	delete(b.taps, h.ID)
	b.mu.Unlock()
}

func (b *Bus) attach(channel string, h *Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.channels[channel]
	if subs == nil {
		subs = make(map[uuid.UUID]*Handle)
		b.channels[channel] = subs
	}
	subs[h.ID] = h
}

func (b *Bus) detach(channel string, h *Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.channels[channel]; subs != nil {
		delete(subs, h.ID)
		if len(subs) == 0 {
			delete(b.channels, channel)
		}
	}
}

// SubscriberCount reports the number of handles on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// Publish fans one event out to every subscriber of the listed channels and
// to every tap. A subscriber whose queue is full is disconnected rather than
// allowed to back-pressure the publisher.
func (b *Bus) Publish(eventType string, channels []string, data map[string]any) {
	now := time.Now().UnixMilli()
	var slow []*Handle

	b.mu.RLock()
	for _, channel := range channels {
		ev := Event{Type: eventType, Channel: channel, Data: data, Timestamp: now}
		for _, h := range b.channels[channel] {
			select {
			case h.out <- ev:
			default:
				slow = append(slow, h)
			}
		}
	}
	for _, h := range b.taps {
		ev := Event{Type: eventType, Channel: firstChannel(channels), Data: data, Timestamp: now}
		select {
		case h.out <- ev:
		default:
			slow = append(slow, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range slow {
		b.log.Warn("dropping slow subscriber",
			zap.String("subscriber", h.ID.String()),
			zap.String("event", eventType),
		)
		go h.Close()
	}
}

func firstChannel(channels []string) string {
	if len(channels) > 0 {
		return channels[0]
	}
	return ""
}

// String renders an event for logs.
func (e Event) String() string {
	return fmt.Sprintf("%s@%s", e.Type, e.Channel)
}
