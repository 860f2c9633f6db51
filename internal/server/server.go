// Package server exposes the relay over HTTP.
//
// The server mounts three route groups on one mux:
//
//   - /realtime — the WebSocket endpoint a shopper's browser connects to;
//     each accepted connection becomes one relay session.
//   - /healthz, /readyz — liveness and readiness probes.
//   - /metrics — Prometheus scrape endpoint.
//
// All routes pass through the observability middleware, so every request
// (including the WebSocket upgrade) gets a span, a correlation id, and a
// duration sample.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moalsayed95/zalanko/internal/health"
	"github.com/moalsayed95/zalanko/internal/observe"
	"github.com/moalsayed95/zalanko/internal/relay"
)

// Compile-time assertion that the WebSocket wrapper satisfies the relay's
// client channel contract.
var _ relay.ClientChannel = (*wsChannel)(nil)

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithMetrics sets the metrics sink used by the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns restricts which browser origins may open a relay
// session. Empty means same-origin only, which is the websocket library
// default.
func WithOriginPatterns(patterns []string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// RelayFactory builds the relay serving one client connection. Shopper state
// (cart, favorites, preferences) lives in the tool handlers behind the relay,
// so every connection needs its own instance; shared dependencies like the
// catalog store and the upstream dialer are captured by the factory closure.
type RelayFactory func() *relay.Relay

// Server routes HTTP traffic to the relay and its probes.
type Server struct {
	newRelay       RelayFactory
	health         *health.Handler
	metrics        *observe.Metrics
	originPatterns []string
}

// New creates a Server serving relays built by f and the given health handler.
func New(f RelayFactory, h *health.Handler, opts ...Option) *Server {
	s := &Server{newRelay: f, health: h}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the full route tree wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /realtime", s.handleRealtime)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

// handleRealtime upgrades the request to a WebSocket and runs one relay
// session on it. The handler blocks for the lifetime of the session; the
// relay closes the channel on teardown.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}

	ch := newWSChannel(conn)
	if err := s.newRelay().Serve(r.Context(), ch); err != nil && !isClientHangup(err) {
		observe.Logger(r.Context()).Warn("relay session failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "session ended")
}

// isClientHangup reports whether a session error is an ordinary browser
// disconnect. The relay surfaces read failures on the client leg as channel
// errors; a normal close status inside one means the shopper simply left.
func isClientHangup(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// ── WebSocket channel ──

// wsChannel adapts a coder/websocket connection to relay.ClientChannel.
// Outbound frames are JSON-marshalled; inbound frames are handed to the relay
// raw, since the relay classifies and forwards them itself.
type wsChannel struct {
	conn *websocket.Conn

	// writeMu serialises Send: the relay's pumps and tool-dispatch goroutines
	// all write to the client leg.
	writeMu sync.Mutex

	closeOnce sync.Once
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn}
}

// Send marshals v and writes it as one text message.
func (c *wsChannel) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: marshal frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("server: write frame: %w", err)
	}
	return nil
}

// Recv blocks until the next client frame arrives and returns its raw bytes.
func (c *wsChannel) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("server: read frame: %w", err)
	}
	return data, nil
}

// Close tears the connection down. Safe to call more than once.
func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
			slog.Debug("websocket close", "err", err)
		}
	})
	return nil
}
