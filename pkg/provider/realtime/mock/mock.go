// Package mock provides test doubles for the realtime package interfaces.
//
// Use Dialer to verify Dial calls and hand out controlled channels. Use
// Channel to script upstream events and inspect every frame the relay sent.
//
// Example:
//
//	ch := mock.NewChannel()
//	ch.Push(&realtime.Event{Type: realtime.EventAudioDelta, Delta: "..."})
//	d := &mock.Dialer{Channel: ch}
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/moalsayed95/zalanko/pkg/provider/realtime"
)

// Ensure the mocks implement the realtime interfaces at compile time.
var _ realtime.Dialer = (*Dialer)(nil)
var _ realtime.Channel = (*Channel)(nil)

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	// Ctx is the context passed to Dial.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Dial.
	Cfg realtime.SessionConfig
}

// Dialer is a mock implementation of realtime.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Channel is returned by Dial. If nil, Dial returns a new default Channel.
	Channel realtime.Channel

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall
}

// Dial records the call and returns Channel, DialErr.
func (d *Dialer) Dial(ctx context.Context, cfg realtime.SessionConfig) (realtime.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, DialCall{Ctx: ctx, Cfg: cfg})
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Channel != nil {
		return d.Channel, nil
	}
	return NewChannel(), nil
}

// Channel is a scripted mock of realtime.Channel. Events pushed via Push (or
// errors via PushErr) are returned by Recv in order; frames written via Send
// are recorded for inspection.
type Channel struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// Sent records the JSON encoding of every value passed to Send.
	Sent []json.RawMessage

	events chan recvResult
	done   chan struct{}
	closed bool
}

type recvResult struct {
	evt *realtime.Event
	err error
}

// NewChannel creates a Channel with room for 64 scripted events.
func NewChannel() *Channel {
	return &Channel{
		events: make(chan recvResult, 64),
		done:   make(chan struct{}),
	}
}

// Push queues evt for delivery by Recv.
func (c *Channel) Push(evt *realtime.Event) {
	if evt.Raw == nil {
		raw, err := json.Marshal(evt)
		if err == nil {
			evt.Raw = raw
		}
	}
	c.events <- recvResult{evt: evt}
}

// PushErr queues err for delivery by Recv.
func (c *Channel) PushErr(err error) {
	c.events <- recvResult{err: err}
}

// Send records the call and returns SendErr.
func (c *Channel) Send(_ context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Sent = append(c.Sent, data)
	return nil
}

// SentFrames returns a copy of all frames written via Send so far.
func (c *Channel) SentFrames() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]json.RawMessage, len(c.Sent))
	copy(out, c.Sent)
	return out
}

// Recv returns the next scripted event. It blocks until an event is pushed,
// the channel is closed, or ctx is cancelled.
func (c *Channel) Recv(ctx context.Context) (*realtime.Event, error) {
	select {
	case r := <-c.events:
		return r.evt, r.err
	case <-c.done:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unblocks pending Recv calls. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}
