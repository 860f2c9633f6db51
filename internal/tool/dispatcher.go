package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/moalsayed95/zalanko/internal/observe"
)

// defaultTimeout is the execution ceiling applied to each handler invocation
// when no other value is configured. Handlers may perform network I/O (search
// queries, image generation), so the default is generous.
const defaultTimeout = 30 * time.Second

// Error is the failure half of a tool result envelope.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Result is the outcome of one tool call: either a success payload or a typed
// error, never both. Immutable once produced.
type Result struct {
	Tool       string
	Visibility Visibility
	Value      any
	Err        *Error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Payload returns the JSON encoding of the result for wire delivery: the
// success value, or {"error": {...}} for failures. A value that cannot be
// marshalled degrades to an error payload rather than failing the caller.
func (r Result) Payload() string {
	if r.Err != nil {
		data, err := json.Marshal(map[string]any{"error": r.Err})
		if err != nil {
			return `{"error":{"kind":"HandlerFailure","message":"unencodable error"}}`
		}
		return string(data)
	}
	data, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Sprintf(`{"error":{"kind":"HandlerFailure","message":%q}}`, "unencodable result: "+err.Error())
	}
	return string(data)
}

// Option is a functional option for configuring a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-call execution ceiling. A handler exceeding it
// produces a HandlerFailure result and its goroutine is abandoned.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.timeout = d }
}

// WithMetrics sets the metrics sink for call counters and latency histograms.
func WithMetrics(m *observe.Metrics) Option {
	return func(dp *Dispatcher) { dp.metrics = m }
}

// Dispatcher executes tool calls against registry entries. It validates
// arguments, bounds handler execution, and converts every failure mode
// (schema mismatch, handler error, panic, timeout) into a Result, so a
// misbehaving handler can never take the session down with it.
//
// Dispatcher is stateless apart from configuration and safe for concurrent
// use from many sessions.
type Dispatcher struct {
	timeout time.Duration
	metrics *observe.Metrics
}

// NewDispatcher creates a Dispatcher with the given options.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{timeout: defaultTimeout}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Invoke runs one tool call and always returns a Result. rawArgs is the
// JSON-encoded argument string exactly as received from the model.
//
// Invoke blocks until the handler finishes, the deadline passes, or ctx is
// cancelled; callers that must not block (the relay's read loops) run it on
// their own goroutine. A handler still running after the deadline is
// abandoned, not interrupted beyond its context cancellation.
func (d *Dispatcher) Invoke(ctx context.Context, reg *Registration, rawArgs string) Result {
	start := time.Now()
	res := d.invoke(ctx, reg, rawArgs)

	status := "ok"
	if res.Err != nil {
		status = string(res.Err.Kind)
	}
	if d.metrics != nil {
		d.metrics.RecordToolCall(ctx, reg.Name, status)
		d.metrics.ToolDuration.Record(ctx, time.Since(start).Seconds())
	}
	return res
}

func (d *Dispatcher) invoke(ctx context.Context, reg *Registration, rawArgs string) Result {
	res := Result{Tool: reg.Name, Visibility: reg.Visibility}

	var args map[string]any
	if rawArgs == "" {
		rawArgs = "{}"
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		res.Err = &Error{Kind: KindInvalidArguments, Message: "arguments are not a JSON object: " + err.Error()}
		return res
	}

	if reg.resolved != nil {
		if err := reg.resolved.Validate(args); err != nil {
			res.Err = &Error{Kind: KindInvalidArguments, Message: err.Error()}
			return res
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		v, err := reg.Handler(callCtx, args)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			slog.Error("tool handler failed", "tool", reg.Name, "err", out.err)
			res.Err = &Error{Kind: KindHandlerFailure, Message: out.err.Error()}
			return res
		}
		res.Value = out.value
		return res

	case <-callCtx.Done():
		// Deadline or session cancellation. The handler goroutine is left to
		// observe callCtx and wind down on its own; its eventual result is
		// discarded via the buffered channel.
		slog.Warn("tool handler timed out or was cancelled",
			"tool", reg.Name,
			"timeout", d.timeout,
			"cause", callCtx.Err(),
		)
		res.Err = &Error{Kind: KindHandlerFailure, Message: "handler did not complete: " + callCtx.Err().Error()}
		return res
	}
}
