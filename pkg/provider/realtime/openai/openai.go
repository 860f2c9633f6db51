// Package openai implements the realtime.Dialer interface for OpenAI's
// Realtime API (and Azure OpenAI realtime deployments, which speak the same
// protocol under a different URL shape).
//
// It establishes a bidirectional WebSocket connection and exchanges JSON
// events according to the Realtime API protocol. The channel is a thin
// frame-level wrapper: it decodes the event envelope so callers can classify
// frames, but performs no routing or tool handling itself.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/moalsayed95/zalanko/pkg/provider/realtime"
)

// Compile-time assertions that Dialer and channel satisfy the realtime interfaces.
var _ realtime.Dialer = (*Dialer)(nil)
var _ realtime.Channel = (*channel)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the model (or Azure deployment name) used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Used for Azure endpoints and
// to point tests at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// WithAPIKeyHeader changes the header the API key is sent in. OpenAI expects
// "Authorization: Bearer <key>" (the default); Azure expects "api-key: <key>".
func WithAPIKeyHeader(header string) Option {
	return func(d *Dialer) { d.keyHeader = header }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer implements realtime.Dialer for the OpenAI Realtime API.
type Dialer struct {
	apiKey    string
	model     string
	baseURL   string
	keyHeader string
}

// New creates a Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial opens a WebSocket connection to the realtime endpoint and sends the
// initial session.update frame built from cfg. The returned channel is ready
// for Recv/Send immediately.
func (d *Dialer) Dial(ctx context.Context, cfg realtime.SessionConfig) (realtime.Channel, error) {
	wsURL := fmt.Sprintf("%s?model=%s", d.baseURL, d.model)

	header := http.Header{"OpenAI-Beta": []string{"realtime=v1"}}
	if d.keyHeader != "" {
		header.Set(d.keyHeader, d.apiKey)
	} else {
		header.Set("Authorization", "Bearer "+d.apiKey)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("openai realtime: dial: %w", err)
	}

	chCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		conn:   conn,
		ctx:    chCtx,
		cancel: cancel,
	}

	if err := ch.Send(ctx, sessionUpdate(cfg)); err != nil {
		ch.Close()
		return nil, fmt.Errorf("openai realtime: session update: %w", err)
	}
	return ch, nil
}

// sessionUpdate builds the session.update frame from cfg.
func sessionUpdate(cfg realtime.SessionConfig) map[string]any {
	session := map[string]any{
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
	}
	if cfg.Voice != "" {
		session["voice"] = cfg.Voice
	}
	if cfg.Instructions != "" {
		session["instructions"] = cfg.Instructions
	}
	if len(cfg.Tools) > 0 {
		session["tools"] = cfg.Tools
		session["tool_choice"] = "auto"
	}
	switch cfg.TurnDetection {
	case "", "server_vad":
		session["turn_detection"] = map[string]any{"type": "server_vad"}
	case "none":
		session["turn_detection"] = nil
	}
	if cfg.Temperature > 0 {
		session["temperature"] = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		session["max_response_output_tokens"] = cfg.MaxTokens
	}
	return map[string]any{"type": "session.update", "session": session}
}

// ── channel ────────────────────────────────────────────────────────────────────

type channel struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Send marshals v and writes it as a text WebSocket message.
func (c *channel) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("openai realtime: channel closed")
	}
	c.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai realtime: marshal: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("openai realtime: write: %w", err)
	}
	return nil
}

// Recv reads the next frame and decodes its envelope. A JSON parse failure
// yields realtime.ErrMalformedEvent; the channel remains usable.
func (c *channel) Recv(ctx context.Context) (*realtime.Event, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if c.ctx.Err() != nil {
			return nil, fmt.Errorf("openai realtime: channel closed: %w", c.ctx.Err())
		}
		return nil, fmt.Errorf("openai realtime: read: %w", err)
	}

	evt := &realtime.Event{}
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("%w: %v", realtime.ErrMalformedEvent, err)
	}
	evt.Raw = data
	return evt, nil
}

// Close terminates the channel. Idempotent.
func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
