// Package relay implements the realtime tool-orchestration relay: the
// component between one client WebSocket and one upstream realtime-AI
// session. It forwards audio and control frames in both directions,
// intercepts the model's tool-call requests, executes them through the
// dispatcher, and re-injects results into the model context and the client
// UI stream while enforcing barge-in and ordering semantics.
//
// Concurrency model: one read pump per channel, both funneling into the
// Session's mutex-guarded transition point. Tool handlers run on their own
// goroutines so a slow handler never blocks audio relaying.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/moalsayed95/zalanko/internal/observe"
	"github.com/moalsayed95/zalanko/internal/tool"
	"github.com/moalsayed95/zalanko/pkg/provider/realtime"
)

// ClientChannel is the relay's view of the browser connection: JSON frames
// out, raw frames in. Implementations must support concurrent Send calls.
type ClientChannel interface {
	// Send marshals v as JSON and writes it as one frame.
	Send(ctx context.Context, v any) error

	// Recv blocks until the next frame arrives and returns its raw bytes.
	Recv(ctx context.Context) ([]byte, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Option is a functional option for configuring a Relay.
type Option func(*Relay)

// WithMetrics sets the metrics sink for session gauges and frame counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// Relay pairs client connections with upstream realtime sessions and routes
// frames between them. One Relay serves many concurrent sessions; all
// per-conversation state lives in the Session created by Serve.
type Relay struct {
	dialer     realtime.Dialer
	cfg        realtime.SessionConfig
	registry   *tool.Registry
	dispatcher *tool.Dispatcher
	metrics    *observe.Metrics
}

// New creates a Relay. The registry's tool definitions are attached to the
// session configuration sent upstream at dial time.
func New(dialer realtime.Dialer, cfg realtime.SessionConfig, registry *tool.Registry, dispatcher *tool.Dispatcher, opts ...Option) *Relay {
	cfg.Tools = registry.Definitions()
	r := &Relay{
		dialer:     dialer,
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Serve runs one session to completion: dials the upstream, pumps both legs,
// and tears both channels down when either fails. It returns nil on a clean
// upstream close; a client disconnect surfaces as a ChannelError wrapping the
// transport error, which callers can inspect for the close status.
func (r *Relay) Serve(ctx context.Context, client ClientChannel) error {
	upstream, err := r.dialer.Dial(ctx, r.cfg)
	if err != nil {
		_ = client.Send(ctx, newErrorFrame("ChannelError", "upstream connection failed"))
		return fmt.Errorf("relay: dial upstream: %w", err)
	}

	sess := NewSession()
	log := observe.Logger(ctx).With(slog.String("session_id", sess.ID()))
	log.Info("session started")

	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(ctx, 1)
		defer r.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.clientPump(gctx, log, sess, client, upstream) })
	g.Go(func() error { return r.upstreamPump(gctx, log, sess, client, upstream) })

	err = g.Wait()

	// Either leg failing tears both down so the peer connection never
	// lingers. Outstanding tool handlers observe gctx cancellation.
	sess.Terminate()
	_ = upstream.Close()
	_ = client.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("session ended", "err", err, "turn_state", sess.TurnState().String())
		return err
	}
	log.Info("session ended")
	return nil
}

// ── Client pump ──

// clientPump reads frames from the browser leg, classifies them, and
// forwards them upstream. It returns a ChannelError on I/O failure and
// errChannelCorrupt when the malformed-frame guard trips.
func (r *Relay) clientPump(ctx context.Context, log *slog.Logger, sess *Session, client ClientChannel, upstream realtime.Channel) error {
	authoritative := map[string]any{
		"instructions": r.cfg.Instructions,
		"voice":        r.cfg.Voice,
		"tools":        r.cfg.Tools,
		"tool_choice":  "auto",
	}

	for {
		data, err := client.Recv(ctx)
		if err != nil {
			return &ChannelError{Leg: "client", Err: err}
		}

		var frame clientFrame
		if uerr := json.Unmarshal(data, &frame); uerr != nil || frame.Type == "" {
			log.Error("malformed client frame", "err", uerr)
			r.recordDrop(ctx, "malformed")
			_ = client.Send(ctx, newErrorFrame("MalformedFrame", "unparseable frame dropped"))
			if sess.RecordMalformed(legClient) {
				return fmt.Errorf("%w (client)", errChannelCorrupt)
			}
			continue
		}
		sess.ClearMalformed(legClient)

		switch frame.Type {
		case frameSessionUpdate:
			if err := sess.ConfigurationAllowed(); err != nil {
				log.Warn("rejected late session.update")
				_ = client.Send(ctx, newErrorFrame("SessionAlreadyStarted", "configuration cannot change after the first audio frame"))
				continue
			}
			merged, merr := mergeSessionUpdate(frame.Session, authoritative)
			if merr != nil {
				log.Error("session.update merge failed", "err", merr)
				_ = client.Send(ctx, newErrorFrame("MalformedFrame", "invalid session configuration"))
				continue
			}
			if err := upstream.Send(ctx, merged); err != nil {
				return &ChannelError{Leg: "upstream", Err: err}
			}
			r.recordFrame(ctx, "upstream", frameSessionUpdate)

		case frameAudioAppend:
			sess.MarkStarted()
			if err := upstream.Send(ctx, json.RawMessage(data)); err != nil {
				return &ChannelError{Leg: "upstream", Err: err}
			}
			r.recordFrame(ctx, "upstream", frameAudioAppend)

		case frameAudioClear:
			// Explicit client-side cancel: same transition as server-side
			// speech detection, and the forwarded frame is the clear itself.
			if sess.UserSpeechStarted() {
				sess.ConsumePendingClear()
				r.recordInterrupt(ctx)
				log.Debug("client interrupt")
			}
			if err := upstream.Send(ctx, json.RawMessage(data)); err != nil {
				return &ChannelError{Leg: "upstream", Err: err}
			}
			r.recordFrame(ctx, "upstream", frameAudioClear)

		case frameAudioCommit:
			sess.UserSpeechStopped()
			if err := upstream.Send(ctx, json.RawMessage(data)); err != nil {
				return &ChannelError{Leg: "upstream", Err: err}
			}
			r.recordFrame(ctx, "upstream", frameAudioCommit)

		case frameItemCreate:
			if frame.Item != nil && frame.Item.Type == itemFunctionCallOutput {
				call, ok := sess.InflightCall(frame.Item.CallID)
				if !ok {
					log.Warn("client tool result without matching call", "call_id", frame.Item.CallID)
					r.recordDrop(ctx, "unmatched_tool_result")
					continue
				}
				if !sess.ClaimModelDelivery(call) {
					r.recordDrop(ctx, "duplicate_delivery")
					continue
				}
			}
			if err := upstream.Send(ctx, json.RawMessage(data)); err != nil {
				return &ChannelError{Leg: "upstream", Err: err}
			}
			r.recordFrame(ctx, "upstream", frameItemCreate)

		default:
			log.Debug("unrecognized client frame", "type", frame.Type)
			r.recordDrop(ctx, "unrecognized")
		}
	}
}

// ── Upstream pump ──

// upstreamPump reads events from the model leg and routes them: audio to the
// coordinator, tool calls to the dispatcher, everything informational to the
// client.
func (r *Relay) upstreamPump(ctx context.Context, log *slog.Logger, sess *Session, client ClientChannel, upstream realtime.Channel) error {
	for {
		evt, err := upstream.Recv(ctx)
		if err != nil {
			if errors.Is(err, realtime.ErrMalformedEvent) {
				log.Error("malformed upstream frame", "err", err)
				r.recordDrop(ctx, "malformed")
				if sess.RecordMalformed(legUpstream) {
					return fmt.Errorf("%w (upstream)", errChannelCorrupt)
				}
				continue
			}
			return &ChannelError{Leg: "upstream", Err: err}
		}
		sess.ClearMalformed(legUpstream)

		switch evt.Type {
		case realtime.EventAudioDelta:
			if !sess.ModelDelta() {
				r.recordDrop(ctx, "interrupted")
				continue
			}
			if err := client.Send(ctx, json.RawMessage(evt.Raw)); err != nil {
				return &ChannelError{Leg: "client", Err: err}
			}
			r.recordFrame(ctx, "client", evt.Type)

		case realtime.EventTranscriptDelta:
			if err := client.Send(ctx, json.RawMessage(evt.Raw)); err != nil {
				return &ChannelError{Leg: "client", Err: err}
			}
			r.recordFrame(ctx, "client", evt.Type)

		case realtime.EventResponseDone:
			sess.TurnDone()
			if err := client.Send(ctx, json.RawMessage(evt.Raw)); err != nil {
				return &ChannelError{Leg: "client", Err: err}
			}
			r.recordFrame(ctx, "client", evt.Type)

		case realtime.EventSpeechStarted:
			if sess.UserSpeechStarted() {
				// Barge-in: drop the rest of the interrupted turn and clear
				// the upstream input buffer before any further audio.
				sess.ConsumePendingClear()
				if err := upstream.Send(ctx, newInputBufferClear()); err != nil {
					return &ChannelError{Leg: "upstream", Err: err}
				}
				r.recordInterrupt(ctx)
				log.Debug("barge-in interrupt")
			}
			if err := client.Send(ctx, json.RawMessage(evt.Raw)); err != nil {
				return &ChannelError{Leg: "client", Err: err}
			}
			r.recordFrame(ctx, "client", evt.Type)

		case realtime.EventSpeechStopped:
			sess.UserSpeechStopped()
			if err := client.Send(ctx, json.RawMessage(evt.Raw)); err != nil {
				return &ChannelError{Leg: "client", Err: err}
			}
			r.recordFrame(ctx, "client", evt.Type)

		case realtime.EventToolCall:
			r.handleToolCall(ctx, log, sess, client, upstream, evt)

		case realtime.EventError:
			log.Warn("upstream error event", "err", evt.Error)
			if err := client.Send(ctx, json.RawMessage(evt.Raw)); err != nil {
				return &ChannelError{Leg: "client", Err: err}
			}
			r.recordFrame(ctx, "client", evt.Type)

		default:
			log.Debug("unrecognized upstream frame", "type", evt.Type)
			r.recordDrop(ctx, "unrecognized")
		}
	}
}

// ── Tool call handling ──

// handleToolCall registers the call and dispatches its handler on its own
// goroutine so the pump keeps routing frames (interrupts in particular)
// while the handler runs. Unknown tools and duplicates never reach a handler.
func (r *Relay) handleToolCall(ctx context.Context, log *slog.Logger, sess *Session, client ClientChannel, upstream realtime.Channel, evt *realtime.Event) {
	call, err := sess.BeginToolCall(evt.CallID, evt.Name, evt.Arguments)
	if err != nil {
		log.Warn("duplicate tool call rejected", "call_id", evt.CallID, "tool", evt.Name)
		r.recordDrop(ctx, "duplicate_call")
		return
	}

	reg, err := r.registry.Lookup(evt.Name)
	if err != nil {
		log.Warn("unknown tool requested", "tool", evt.Name, "call_id", evt.CallID)
		res := tool.Result{
			Tool:       evt.Name,
			Visibility: tool.ToBoth,
			Err:        &tool.Error{Kind: tool.KindUnknownTool, Message: err.Error()},
		}
		r.deliver(ctx, log, sess, client, upstream, call, res)
		return
	}

	log.Info("tool call", "tool", evt.Name, "call_id", evt.CallID)
	go func() {
		if r.metrics != nil {
			r.metrics.InflightToolCalls.Add(ctx, 1)
			defer r.metrics.InflightToolCalls.Add(context.WithoutCancel(ctx), -1)
		}
		res := r.dispatcher.Invoke(ctx, reg, call.RawArgs)
		r.deliver(ctx, log, sess, client, upstream, call, res)
	}()
}

// deliver emits one tool result to its destinations, at most once each. The
// model side always receives a function_call_output (the full payload when
// visibility includes the model, a completion marker otherwise) so its
// context never dangles on an open call id. Failed results surface to the
// client as an explicit error frame.
func (r *Relay) deliver(ctx context.Context, log *slog.Logger, sess *Session, client ClientChannel, upstream realtime.Channel, call *ToolCall, res tool.Result) {
	if sess.ClaimModelDelivery(call) {
		output := `{"result":"done"}`
		if res.Visibility.IncludesModel() || !res.OK() {
			output = res.Payload()
		}
		if err := upstream.Send(ctx, newFunctionCallOutput(call.ID, output)); err != nil {
			log.Error("tool result upstream send failed", "call_id", call.ID, "err", err)
		} else {
			r.recordFrame(ctx, "upstream", frameItemCreate)
		}
	}

	if sess.ClaimClientDelivery(call) {
		switch {
		case !res.OK():
			if err := client.Send(ctx, newErrorFrame(string(res.Err.Kind), res.Err.Message)); err != nil {
				log.Error("tool error client send failed", "call_id", call.ID, "err", err)
			}
			log.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "kind", res.Err.Kind, "msg", res.Err.Message)
		case res.Visibility.IncludesClient():
			out := toolResponseFrame{Type: frameToolResponse, Tool: call.Name, Result: res.Payload()}
			if err := client.Send(ctx, out); err != nil {
				log.Error("tool result client send failed", "call_id", call.ID, "err", err)
			} else {
				r.recordFrame(ctx, "client", frameToolResponse)
			}
		}
	}

	if remaining := sess.FinishToolCall(call.ID); remaining == 0 {
		// All results injected; ask the model to continue the turn.
		if err := upstream.Send(ctx, newResponseCreate()); err != nil {
			log.Error("response.create send failed", "err", err)
		}
	}
}

// ── Metrics helpers ──

func (r *Relay) recordFrame(ctx context.Context, direction, frameType string) {
	if r.metrics != nil {
		r.metrics.RecordFrame(ctx, direction, frameType)
	}
}

func (r *Relay) recordDrop(ctx context.Context, reason string) {
	if r.metrics != nil {
		r.metrics.RecordDrop(ctx, reason)
	}
}

func (r *Relay) recordInterrupt(ctx context.Context) {
	if r.metrics != nil {
		r.metrics.Interrupts.Add(ctx, 1)
	}
}
