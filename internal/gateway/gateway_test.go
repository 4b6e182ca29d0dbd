package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"darkpool/internal/bus"
)

func dialTest(t *testing.T) (*bus.Bus, *websocket.Conn) {
	t.Helper()
	b := bus.New(64, zap.NewNop())
	srv := NewServer(DefaultConfig(), b, zap.NewNop())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return b, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return f
}

func TestSubscribeAckAndEventDelivery(t *testing.T) {
	b, conn := dialTest(t)

	channel := bus.OrderbookChannel("GOLD")
	if err := conn.WriteJSON(Frame{Type: FrameSubscribe, Channel: channel}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ack := readFrame(t, conn)
	if ack.Type != FrameSubscribed || ack.Channel != channel {
		t.Fatalf("ack = %+v", ack)
	}

	// Wait for the bus registration to be visible, then publish.
	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount(channel) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(bus.TopicOrderSubmitted, []string{channel}, map[string]any{"asset": "GOLD"})

	ev := readFrame(t, conn)
	if ev.Type != FrameEvent || ev.Event != bus.TopicOrderSubmitted {
		t.Fatalf("event frame = %+v", ev)
	}
	if ev.Channel != channel || ev.Data["asset"] != "GOLD" {
		t.Errorf("event payload = %+v", ev)
	}
	if ev.Timestamp == 0 {
		t.Errorf("event missing timestamp")
	}
}

func TestUnsubscribeAck(t *testing.T) {
	b, conn := dialTest(t)
	channel := bus.TraderChannel("CTRADER")

	conn.WriteJSON(Frame{Type: FrameSubscribe, Channel: channel})
	readFrame(t, conn)
	conn.WriteJSON(Frame{Type: FrameUnsubscribe, Channel: channel})
	ack := readFrame(t, conn)
	if ack.Type != FrameUnsubscribed || ack.Channel != channel {
		t.Fatalf("ack = %+v", ack)
	}

	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount(channel) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPingPongEchoesTimestamp(t *testing.T) {
	_, conn := dialTest(t)
	conn.WriteJSON(Frame{Type: FramePing, Timestamp: 123456})
	pong := readFrame(t, conn)
	if pong.Type != FramePong || pong.Timestamp != 123456 {
		t.Fatalf("pong = %+v", pong)
	}
}

func TestUnknownTypeReturnsError(t *testing.T) {
	_, conn := dialTest(t)
	conn.WriteJSON(Frame{Type: "trade"})
	f := readFrame(t, conn)
	if f.Type != FrameError || f.Message == "" {
		t.Fatalf("error frame = %+v", f)
	}
}

func TestSubscribeRequiresChannel(t *testing.T) {
	_, conn := dialTest(t)
	conn.WriteJSON(Frame{Type: FrameSubscribe})
	f := readFrame(t, conn)
	if f.Type != FrameError {
		t.Fatalf("frame = %+v", f)
	}
}

func TestDisconnectReleasesSubscriptions(t *testing.T) {
	b, conn := dialTest(t)
	channel := bus.SettlementChannel("m1")
	conn.WriteJSON(Frame{Type: FrameSubscribe, Channel: channel})
	readFrame(t, conn)

	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount(channel) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for b.SubscriberCount(channel) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("disconnect did not release subscriptions")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
