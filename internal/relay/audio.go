package relay

// AudioState is the speaking state of one session's audio stream.
type AudioState int

const (
	// AudioIdle means neither side is streaming speech.
	AudioIdle AudioState = iota

	// AudioModelSpeaking means the upstream model is streaming audio deltas
	// that are being forwarded to the client for playback.
	AudioModelSpeaking

	// AudioUserSpeaking means the user is speaking. Deltas from an interrupted
	// model turn are suppressed while in this state.
	AudioUserSpeaking

	// AudioTerminated is the absorbing state entered on channel error or close.
	AudioTerminated
)

// String returns the human-readable name of the state.
func (s AudioState) String() string {
	switch s {
	case AudioIdle:
		return "idle"
	case AudioModelSpeaking:
		return "model-speaking"
	case AudioUserSpeaking:
		return "user-speaking"
	case AudioTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Coordinator implements barge-in semantics for one session: it tracks who is
// speaking and decides whether model audio deltas reach the client. Without
// it, a user starting to speak mid-response would hear the rest of the stale
// model turn while the upstream keeps reasoning over audio the user meant to
// discard.
//
// Coordinator is not safe for concurrent use on its own; the Session's
// transition point serializes all access.
type Coordinator struct {
	state        AudioState
	pendingClear bool
}

// State returns the current speaking state.
func (c *Coordinator) State() AudioState { return c.state }

// OnModelDelta records an upstream audio delta and reports whether it should
// be forwarded to the client. Deltas arriving while the user is speaking
// belong to the interrupted turn and are suppressed.
func (c *Coordinator) OnModelDelta() bool {
	switch c.state {
	case AudioIdle, AudioModelSpeaking:
		c.state = AudioModelSpeaking
		return true
	default:
		return false
	}
}

// OnUserSpeechStarted records the start of user speech and reports whether an
// interrupt must fire: true only when the model was mid-response, in which
// case delta forwarding stops and an input-buffer clear is owed upstream.
func (c *Coordinator) OnUserSpeechStarted() bool {
	switch c.state {
	case AudioTerminated:
		return false
	case AudioModelSpeaking:
		c.state = AudioUserSpeaking
		c.pendingClear = true
		return true
	default:
		c.state = AudioUserSpeaking
		return false
	}
}

// OnUserSpeechStopped records the end of user speech.
func (c *Coordinator) OnUserSpeechStopped() {
	if c.state == AudioUserSpeaking {
		c.state = AudioIdle
	}
}

// OnTurnDone records upstream turn completion. A turn finishing after an
// interrupt does not disturb the user-speaking state.
func (c *Coordinator) OnTurnDone() {
	if c.state == AudioModelSpeaking {
		c.state = AudioIdle
	}
}

// ConsumePendingClear reports whether an input-buffer clear is owed upstream
// and resets the flag. The clear must be sent before any further audio-append
// frames are forwarded.
func (c *Coordinator) ConsumePendingClear() bool {
	p := c.pendingClear
	c.pendingClear = false
	return p
}

// Terminate moves the coordinator to the absorbing terminated state.
func (c *Coordinator) Terminate() { c.state = AudioTerminated }
