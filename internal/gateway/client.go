// client.go - One connected gateway client.
//
// readPump handles inbound frames; writePump is the sole writer on the
// connection and multiplexes bus events, acks, and the heartbeat. Disconnect
// releases every subscription through the bus handle.

package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"darkpool/internal/bus"
)

type client struct {
	srv    *Server
	conn   *websocket.Conn
	handle *bus.Handle
	send   chan Frame // acks, pongs, errors from the read side

	unanswered atomic.Int32
	closeOnce  sync.Once
}

func newClient(s *Server, conn *websocket.Conn) *client {
	c := &client{
		srv:    s,
		conn:   conn,
		handle: s.bus.NewHandle(),
		send:   make(chan Frame, 16),
	}
	conn.SetPongHandler(func(string) error {
		c.unanswered.Store(0)
		return nil
	})
	return c
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.handle.Close()
		c.conn.Close()
		c.srv.log.Info("client disconnected", zap.String("client", c.handle.ID.String()))
	})
}

func (c *client) readPump() {
	defer c.close()
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case FrameSubscribe:
			if f.Channel == "" {
				c.reply(Frame{Type: FrameError, Message: "subscribe requires a channel"})
				continue
			}
			c.handle.Subscribe(f.Channel)
			c.reply(Frame{Type: FrameSubscribed, Channel: f.Channel})
		case FrameUnsubscribe:
			if f.Channel == "" {
				c.reply(Frame{Type: FrameError, Message: "unsubscribe requires a channel"})
				continue
			}
			c.handle.Unsubscribe(f.Channel)
			c.reply(Frame{Type: FrameUnsubscribed, Channel: f.Channel})
		case FramePing:
			c.reply(Frame{Type: FramePong, Timestamp: f.Timestamp})
		default:
			c.reply(Frame{Type: FrameError, Message: "unknown message type " + f.Type})
		}
	}
}

// reply queues a frame for the writer. Dropping the connection is better
// than blocking the read loop behind a wedged writer.
func (c *client) reply(f Frame) {
	select {
	case c.send <- f:
	default:
		c.close()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return
			}
			if !c.write(f) {
				return
			}
		case ev, ok := <-c.handle.Events():
			if !ok {
				// Dropped by the bus as a slow subscriber.
				return
			}
			f := Frame{
				Type:      FrameEvent,
				Event:     ev.Type,
				Channel:   ev.Channel,
				Data:      ev.Data,
				Timestamp: ev.Timestamp,
			}
			if !c.write(f) {
				return
			}
		case <-ticker.C:
			if int(c.unanswered.Load()) >= c.srv.cfg.MaxMissedPings {
				c.srv.log.Warn("client heartbeat lost", zap.String("client", c.handle.ID.String()))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.unanswered.Add(1)
		}
	}
}

func (c *client) write(f Frame) bool {
	c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(f); err != nil {
		c.srv.log.Debug("client write failed",
			zap.String("client", c.handle.ID.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}
