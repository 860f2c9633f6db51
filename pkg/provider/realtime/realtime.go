// Package realtime defines the frame-level Channel abstraction over an
// upstream real-time conversational AI session.
//
// Unlike a turn-based completion API, a realtime session is a long-lived,
// full-duplex stream: audio chunks, transcripts, tool-call requests, and
// control events arrive interleaved on a single connection. The relay core
// needs frame-level access to that stream — it classifies every incoming
// event itself and decides per frame whether to forward, suppress, or
// intercept it — so this package deliberately exposes raw events rather than
// a higher-level callback API.
//
// All implementations must be safe for concurrent use: one goroutine may
// block in Recv while others call Send.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrMalformedEvent is returned by [Channel.Recv] when the upstream delivered
// a frame that could not be parsed. The channel itself is still healthy and
// Recv may be called again; callers decide how many malformed frames they
// tolerate before giving up on the connection.
var ErrMalformedEvent = errors.New("realtime: malformed event")

// Event kinds the relay recognises on the upstream leg. Anything else is
// forwarded or dropped verbatim by the caller's classification logic.
const (
	EventAudioDelta      = "response.audio.delta"
	EventTranscriptDelta = "response.audio_transcript.delta"
	EventResponseDone    = "response.done"
	EventSpeechStarted   = "input_audio_buffer.speech_started"
	EventSpeechStopped   = "input_audio_buffer.speech_stopped"
	EventToolCall        = "response.function_call_arguments.done"
	EventError           = "error"
)

// ErrorDetail is the nested error object carried by an upstream "error" event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Event is a single decoded frame from the upstream session. Only the fields
// relevant to the event's Type are populated; Raw always carries the original
// payload so the caller can forward frames verbatim without re-marshalling.
type Event struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *ErrorDetail `json:"error,omitempty"`

	// Raw is the undecoded wire payload of this event.
	Raw json.RawMessage `json:"-"`
}

// ToolDefinition declares one callable function to the upstream model.
// Parameters is a JSON-Schema value; anything that marshals to a valid
// schema object is accepted.
type ToolDefinition struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// SessionConfig is the initial configuration for an upstream session,
// applied via a session.update frame immediately after the connection opens.
type SessionConfig struct {
	// Instructions is the system-level prompt for the assistant.
	Instructions string

	// Voice selects the synthesised output voice (e.g. "alloy").
	Voice string

	// Tools is the function catalogue offered to the model.
	Tools []ToolDefinition

	// TurnDetection selects how end-of-utterance is decided: "server_vad"
	// lets the upstream detect speech boundaries, "none" leaves turn-taking
	// to the client. Empty means the provider default.
	TurnDetection string

	// Temperature and MaxTokens bound response generation. Zero values mean
	// provider defaults.
	Temperature float64
	MaxTokens   int
}

// Channel is an open duplex session with the upstream provider.
//
// Recv blocks until the next event arrives, the context is cancelled, or the
// connection fails. A parse failure is reported as [ErrMalformedEvent] and
// does not invalidate the channel. Send marshals v as JSON and writes it as
// one frame; v is typically a map or struct mirroring the provider's wire
// protocol.
//
// Callers must call Close when done; Close is idempotent.
type Channel interface {
	Send(ctx context.Context, v any) error
	Recv(ctx context.Context) (*Event, error)
	Close() error
}

// Dialer establishes upstream sessions. Implementations must be safe for
// concurrent use; the server opens one channel per client connection.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Channel, error)
}
