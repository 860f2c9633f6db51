package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxConsecutiveMalformed is the corruption guard: this many unparseable
// frames in a row from one channel terminate the session.
const maxConsecutiveMalformed = 3

// leg identifies one side of the relay for per-channel bookkeeping.
type leg int

const (
	legClient leg = iota
	legUpstream
)

func (l leg) String() string {
	if l == legClient {
		return "client"
	}
	return "upstream"
}

// TurnState is the session's coarse conversational state, derived from the
// audio coordinator and the in-flight tool call set.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnModelSpeaking
	TurnUserSpeaking
	TurnAwaitingToolResults
)

// String returns the human-readable name of the turn state.
func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnModelSpeaking:
		return "model-speaking"
	case TurnUserSpeaking:
		return "user-speaking"
	case TurnAwaitingToolResults:
		return "awaiting-tool-results"
	default:
		return "unknown"
	}
}

// ToolCall is one in-flight function invocation requested by the upstream
// model, keyed by its upstream-assigned call id.
type ToolCall struct {
	ID        string
	Name      string
	RawArgs   string
	CreatedAt time.Time

	// Delivery flags enforce at-most-once emission per destination. Guarded
	// by the owning Session's mutex.
	sentToModel  bool
	sentToClient bool
}

// Session is the state container for one client/upstream pairing. All state
// transitions pass through its mutex, the session's single serialization
// point: the two read pumps and tool-completion goroutines never mutate state
// concurrently, so a tool result landing at the same moment as an interrupt
// cannot race.
//
// A Session never outlives its channels; the Relay destroys it when either
// leg closes.
type Session struct {
	id string

	mu        sync.Mutex
	audio     Coordinator
	inflight  map[string]*ToolCall
	seenCalls map[string]struct{}
	started   bool
	malformed map[leg]int
}

// NewSession creates an idle Session with a fresh id.
func NewSession() *Session {
	return &Session{
		id:        uuid.NewString(),
		inflight:  make(map[string]*ToolCall),
		seenCalls: make(map[string]struct{}),
		malformed: make(map[leg]int),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// TurnState derives the session's conversational state.
func (s *Session) TurnState() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.audio.State() {
	case AudioModelSpeaking:
		return TurnModelSpeaking
	case AudioUserSpeaking:
		return TurnUserSpeaking
	}
	if len(s.inflight) > 0 {
		return TurnAwaitingToolResults
	}
	return TurnIdle
}

// MarkStarted records that the first audio frame has been relayed. After
// this point, session reconfiguration is rejected.
func (s *Session) MarkStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
}

// ConfigurationAllowed reports whether a session.update may still be applied.
// Returns ErrSessionAlreadyStarted once the first audio frame has been seen.
func (s *Session) ConfigurationAllowed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSessionAlreadyStarted
	}
	return nil
}

// BeginToolCall registers a new in-flight tool call. A call id that has been
// seen before, whether still in flight or already completed, is rejected with
// a DuplicateCallError so a replayed frame can never trigger a second handler
// invocation.
func (s *Session) BeginToolCall(callID, name, rawArgs string) (*ToolCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seenCalls[callID]; dup {
		return nil, &DuplicateCallError{CallID: callID}
	}
	call := &ToolCall{
		ID:        callID,
		Name:      name,
		RawArgs:   rawArgs,
		CreatedAt: time.Now(),
	}
	s.seenCalls[callID] = struct{}{}
	s.inflight[callID] = call
	return call, nil
}

// FinishToolCall removes a call from the in-flight set and reports how many
// calls remain outstanding.
func (s *Session) FinishToolCall(callID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, callID)
	return len(s.inflight)
}

// HasInflight reports whether callID is currently in flight. Used to match
// client-originated tool results against pending calls.
func (s *Session) HasInflight(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[callID]
	return ok
}

// InflightCall returns the in-flight call with the given id, if any.
func (s *Session) InflightCall(callID string) (*ToolCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.inflight[callID]
	return call, ok
}

// ClaimModelDelivery reports whether the caller holds the single right to
// emit this call's result on the upstream channel. The first claim wins.
func (s *Session) ClaimModelDelivery(call *ToolCall) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call.sentToModel {
		return false
	}
	call.sentToModel = true
	return true
}

// ClaimClientDelivery reports whether the caller holds the single right to
// emit this call's result on the client channel.
func (s *Session) ClaimClientDelivery(call *ToolCall) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call.sentToClient {
		return false
	}
	call.sentToClient = true
	return true
}

// RecordMalformed counts one unparseable frame from l and reports whether the
// corruption guard has tripped.
func (s *Session) RecordMalformed(l leg) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.malformed[l]++
	return s.malformed[l] >= maxConsecutiveMalformed
}

// ClearMalformed resets l's consecutive-malformed counter after a well-formed
// frame.
func (s *Session) ClearMalformed(l leg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.malformed[l] = 0
}

// ModelDelta records an upstream audio delta and reports whether it should be
// forwarded to the client.
func (s *Session) ModelDelta() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio.OnModelDelta()
}

// UserSpeechStarted records the start of user speech and reports whether an
// interrupt must fire.
func (s *Session) UserSpeechStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio.OnUserSpeechStarted()
}

// ConsumePendingClear reports whether an input-buffer clear is owed upstream
// and resets the flag.
func (s *Session) ConsumePendingClear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio.ConsumePendingClear()
}

// UserSpeechStopped records the end of user speech.
func (s *Session) UserSpeechStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio.OnUserSpeechStopped()
}

// TurnDone records upstream turn completion.
func (s *Session) TurnDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio.OnTurnDone()
}

// AudioState returns the coordinator's current state.
func (s *Session) AudioState() AudioState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio.State()
}

// Terminate moves the session to the absorbing terminated state.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio.Terminate()
}
