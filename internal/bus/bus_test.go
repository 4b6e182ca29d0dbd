package bus

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPublishRoutesToSubscribedChannels(t *testing.T) {
	b := New(16, zap.NewNop())
	h := b.NewHandle()
	defer h.Close()
	h.Subscribe(OrderbookChannel("GOLD"))

	b.Publish(TopicOrderSubmitted, []string{OrderbookChannel("GOLD")}, map[string]any{"asset": "GOLD"})
	b.Publish(TopicOrderSubmitted, []string{OrderbookChannel("SILVER")}, map[string]any{"asset": "SILVER"})

	select {
	case ev := <-h.Events():
		if ev.Channel != OrderbookChannel("GOLD") {
			t.Errorf("routed to %s", ev.Channel)
		}
		if ev.Data["asset"] != "GOLD" {
			t.Errorf("wrong payload: %v", ev.Data)
		}
		if ev.Timestamp == 0 {
			t.Errorf("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
	select {
	case ev := <-h.Events():
		t.Fatalf("received event for an unsubscribed channel: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultiChannelFanOut(t *testing.T) {
	b := New(16, zap.NewNop())
	buyer := b.NewHandle()
	seller := b.NewHandle()
	defer buyer.Close()
	defer seller.Close()
	buyer.Subscribe(TraderChannel("CBUYER"))
	seller.Subscribe(TraderChannel("CSELLER"))

	b.Publish(TopicOrderMatched,
		[]string{TraderChannel("CBUYER"), TraderChannel("CSELLER")},
		map[string]any{"matchId": "m1"})

	for name, h := range map[string]*Handle{"buyer": buyer, "seller": seller} {
		select {
		case ev := <-h.Events():
			if ev.Data["matchId"] != "m1" {
				t.Errorf("%s got wrong event: %v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s received nothing", name)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(16, zap.NewNop())
	h := b.NewHandle()
	defer h.Close()
	ch := SettlementChannel("m1")
	h.Subscribe(ch)
	h.Unsubscribe(ch)

	b.Publish(TopicSettlementQueued, []string{ch}, nil)
	select {
	case ev := <-h.Events():
		t.Fatalf("event after unsubscribe: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if n := b.SubscriberCount(ch); n != 0 {
		t.Errorf("subscriber count = %d after unsubscribe", n)
	}
}

func TestPerChannelFIFO(t *testing.T) {
	b := New(64, zap.NewNop())
	h := b.NewHandle()
	defer h.Close()
	ch := SettlementChannel("m1")
	h.Subscribe(ch)

	types := []string{TopicProofGenerating, TopicProofGenerated, TopicSignatureAdded, TopicSignatureComplete}
	for _, ty := range types {
		b.Publish(ty, []string{ch}, nil)
	}
	for i, want := range types {
		select {
		case ev := <-h.Events():
			if ev.Type != want {
				t.Fatalf("event %d = %s, want %s", i, ev.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("stream ended early at %d", i)
		}
	}
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	b := New(2, zap.NewNop())
	slow := b.NewHandle()
	fast := b.NewHandle()
	defer fast.Close()
	ch := OrderbookChannel("GOLD")
	slow.Subscribe(ch)
	fast.Subscribe(ch)

	// Overflow the slow handle's queue; nothing reads from it. The fast
	// handle keeps up by taking each event as it is published.
	for i := 0; i < 5; i++ {
		b.Publish(TopicOrderSubmitted, []string{ch}, nil)
		select {
		case <-fast.Events():
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber missed event %d", i)
		}
	}

	// The slow handle is detached and its queue closed.
	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount(ch) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("slow subscriber was never dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Fast subscribers keep receiving.
	b.Publish(TopicOrderSubmitted, []string{ch}, nil)
	count := 0
	for {
		select {
		case _, ok := <-fast.Events():
			if !ok {
				t.Fatalf("fast handle closed")
			}
			count++
			if count >= 3 {
				return
			}
		case <-time.After(time.Second):
			if count == 0 {
				t.Fatalf("fast subscriber starved")
			}
			return
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(4, zap.NewNop())
	h := b.NewHandle()
	h.Subscribe(OrderbookChannel("GOLD"))
	h.Close()
	h.Close()
	if _, ok := <-h.Events(); ok {
		t.Errorf("events channel still open after Close")
	}
}

func TestTapSeesEverything(t *testing.T) {
	b := New(16, zap.NewNop())
	tap := b.NewHandle()
	defer tap.Close()
	b.Tap(tap)

	b.Publish(TopicOrderSubmitted, []string{OrderbookChannel("GOLD")}, nil)
	b.Publish(TopicSettlementConfirmed, []string{SettlementChannel("m")}, nil)

	for i := 0; i < 2; i++ {
		select {
		case <-tap.Events():
		case <-time.After(time.Second):
			t.Fatalf("tap missed event %d", i)
		}
	}
}
