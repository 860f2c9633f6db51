package relay

import (
	"errors"
	"fmt"
)

// ErrSessionAlreadyStarted is returned when a session.update arrives after
// the first audio frame. Configuration is applied once at session start.
var ErrSessionAlreadyStarted = errors.New("relay: session already started")

// errChannelCorrupt terminates a session after too many consecutive
// malformed frames from one channel.
var errChannelCorrupt = errors.New("relay: channel corrupt, too many consecutive malformed frames")

// DuplicateCallError is returned by Session.BeginToolCall when a call id has
// already been seen during the session's lifetime. The second occurrence must
// not produce a second handler invocation.
type DuplicateCallError struct {
	CallID string
}

func (e *DuplicateCallError) Error() string {
	return fmt.Sprintf("relay: duplicate tool call id %q", e.CallID)
}

// ChannelError wraps an I/O failure on one leg. It is fatal to the session
// and triggers teardown of both channels.
type ChannelError struct {
	Leg string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("relay: %s channel: %v", e.Leg, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
