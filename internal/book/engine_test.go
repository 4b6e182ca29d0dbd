package book

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"darkpool/internal/bus"
)

func newTestEngine(t *testing.T) (*Engine, *bus.Bus) {
	t.Helper()
	b := bus.New(64, zap.NewNop())
	e := NewEngine(b, zap.NewNop())
	t.Cleanup(e.Close)
	return e, b
}

func TestEngineSubmitAndMatch(t *testing.T) {
	e, _ := newTestEngine(t)

	res, err := e.Submit(testOrder("GOLD", Buy, 100, 50))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(res.Matches) != 0 {
		t.Fatalf("unexpected match on an empty book")
	}
	if len(res.Snapshot.Buys) != 1 {
		t.Errorf("snapshot missing the resting buy")
	}

	res, err = e.Submit(testOrder("GOLD", Sell, 100, 50))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(res.Matches))
	}
	if len(res.Snapshot.Buys) != 0 || len(res.Snapshot.Sells) != 0 {
		t.Errorf("snapshot should be empty after the match")
	}

	n, err := e.PendingCount()
	if err != nil || n != 1 {
		t.Errorf("PendingCount = %d,%v, want 1", n, err)
	}
	pending, err := e.DrainPending()
	if err != nil || len(pending) != 1 {
		t.Fatalf("DrainPending = %d,%v, want 1", len(pending), err)
	}
	if n, _ := e.PendingCount(); n != 0 {
		t.Errorf("queue not empty after drain")
	}

	completed, err := e.Matches()
	if err != nil || len(completed) != 1 {
		t.Errorf("completed log = %d,%v, want 1", len(completed), err)
	}
}

func TestEngineAssignsMonotonicSeq(t *testing.T) {
	e, _ := newTestEngine(t)
	var last uint64
	for i := 0; i < 5; i++ {
		res, err := e.Submit(testOrder("GOLD", Buy, int64(i+1), 10))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if res.Order.Seq <= last {
			t.Errorf("seq not monotonic: %d after %d", res.Order.Seq, last)
		}
		last = res.Order.Seq
	}
}

func TestEnginePublishesEvents(t *testing.T) {
	e, b := newTestEngine(t)
	h := b.NewHandle()
	defer h.Close()
	h.Subscribe(bus.OrderbookChannel("GOLD"))

	if _, err := e.Submit(testOrder("GOLD", Buy, 100, 50)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := e.Submit(testOrder("GOLD", Sell, 100, 50)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	var types []string
	timeout := time.After(2 * time.Second)
	for len(types) < 3 {
		select {
		case ev := <-h.Events():
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("timed out waiting for events; got %v", types)
		}
	}
	want := []string{bus.TopicOrderSubmitted, bus.TopicOrderSubmitted, bus.TopicOrderMatched}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event order %v, want %v", types, want)
		}
	}
}

func TestEngineMatchedEventPayload(t *testing.T) {
	e, b := newTestEngine(t)
	h := b.NewHandle()
	defer h.Close()
	h.Subscribe(bus.TraderChannel("CSELLER"))

	buy := testOrder("GOLD", Buy, 100, 52)
	buy.Trader = "CBUYER"
	sell := testOrder("GOLD", Sell, 100, 48)
	sell.Trader = "CSELLER"
	if _, err := e.Submit(buy); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := e.Submit(sell); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.Events():
			if ev.Type != bus.TopicOrderMatched {
				continue
			}
			if ev.Data["buyerAddress"] != "CBUYER" || ev.Data["sellerAddress"] != "CSELLER" {
				t.Errorf("wrong parties in payload: %v", ev.Data)
			}
			if ev.Data["executionPrice"] != int64(50) {
				t.Errorf("executionPrice = %v, want 50", ev.Data["executionPrice"])
			}
			return
		case <-deadline:
			t.Fatalf("no order:matched event delivered")
		}
	}
}

func TestEngineClosedErrors(t *testing.T) {
	b := bus.New(16, zap.NewNop())
	e := NewEngine(b, zap.NewNop())
	e.Close()
	if _, err := e.Submit(testOrder("GOLD", Buy, 1, 1)); err != ErrEngineClosed {
		t.Errorf("Submit after Close = %v, want ErrEngineClosed", err)
	}
	if _, err := e.Matches(); err != ErrEngineClosed {
		t.Errorf("Matches after Close = %v, want ErrEngineClosed", err)
	}
}
