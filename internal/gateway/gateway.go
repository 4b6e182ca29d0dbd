// gateway.go - Pub/sub gateway over websockets.
//
// Clients hold one long-lived bidirectional stream and exchange framed JSON
// messages: subscribe/unsubscribe with acks, server-pushed events, and
// ping/pong. Each client is backed by one bus handle with a bounded queue;
// a slow client loses its handle and is terminated.

package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"darkpool/internal/bus"
)

// Frame is the wire envelope for every gateway message.
type Frame struct {
	Type      string         `json:"type"`
	Channel   string         `json:"channel,omitempty"`
	Event     string         `json:"event,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Frame types.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameEvent        = "event"
	FramePing         = "ping"
	FramePong         = "pong"
	FrameError        = "error"
)

// Config tunes the gateway.
type Config struct {
	// PingInterval is the server heartbeat period.
	PingInterval time.Duration
	// MaxMissedPings terminates a client after this many unanswered pings.
	MaxMissedPings int
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
}

// DefaultConfig pings every 30 s and tolerates one unanswered ping.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		MaxMissedPings: 2,
		WriteTimeout:   10 * time.Second,
	}
}

// Server upgrades HTTP connections and bridges them onto the bus.
type Server struct {
	cfg      Config
	bus      *bus.Bus
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer wires a gateway onto the bus.
func NewServer(cfg Config, b *bus.Bus, log *zap.Logger) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MaxMissedPings <= 0 {
		cfg.MaxMissedPings = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Server{
		cfg: cfg,
		bus: b,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 12,
			WriteBufferSize: 1 << 12,
			// The browser UI is served from another origin in development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the client until disconnect.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := newClient(s, conn)
	s.log.Info("client connected", zap.String("client", c.handle.ID.String()))
	go c.writePump()
	c.readPump()
}
