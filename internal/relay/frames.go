package relay

import (
	"encoding/json"
	"fmt"
)

// Client frame types accepted on the browser leg. The client speaks the same
// frame dialect as the upstream session so audio and configuration frames can
// be forwarded verbatim.
const (
	frameSessionUpdate = "session.update"
	frameAudioAppend   = "input_audio_buffer.append"
	frameAudioClear    = "input_audio_buffer.clear"
	frameAudioCommit   = "input_audio_buffer.commit"
	frameItemCreate    = "conversation.item.create"
)

// Client frame types emitted on the browser leg.
const (
	frameToolResponse = "extension.tool.response"
	frameError        = "error"
)

// itemFunctionCallOutput is the conversation item type carrying a tool result.
const itemFunctionCallOutput = "function_call_output"

// clientFrame is the decoded form of an inbound client frame. Only the fields
// the relay inspects are mapped; the raw bytes are what gets forwarded.
type clientFrame struct {
	Type    string          `json:"type"`
	Session json.RawMessage `json:"session,omitempty"`
	Item    *clientItem     `json:"item,omitempty"`
}

// clientItem is the subset of a conversation.item.create payload the relay
// inspects: client-originated tool results referencing an in-flight call.
type clientItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// toolResponseFrame carries a tool result payload to the client UI. Result is
// the JSON-encoded result string; the UI layer decodes it per tool.
type toolResponseFrame struct {
	Type   string `json:"type"`
	Tool   string `json:"tool"`
	Result string `json:"result"`
}

// errorFrame is the explicit error surface on the client leg. Every failure
// that affects the client produces one of these rather than a silent drop.
type errorFrame struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newErrorFrame(kind, message string) errorFrame {
	return errorFrame{Type: frameError, Error: errorDetail{Kind: kind, Message: message}}
}

// functionCallOutputFrame re-injects a tool result into the upstream model
// context, keyed by the originating call id.
type functionCallOutputFrame struct {
	Type string             `json:"type"`
	Item functionCallOutput `json:"item"`
}

type functionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func newFunctionCallOutput(callID, output string) functionCallOutputFrame {
	return functionCallOutputFrame{
		Type: frameItemCreate,
		Item: functionCallOutput{
			Type:   itemFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	}
}

// responseCreateFrame asks the upstream model to continue the turn once tool
// results have been injected.
type responseCreateFrame struct {
	Type string `json:"type"`
}

func newResponseCreate() responseCreateFrame {
	return responseCreateFrame{Type: "response.create"}
}

// inputBufferClearFrame discards buffered upstream input audio. Sent as part
// of the barge-in interrupt sequence.
type inputBufferClearFrame struct {
	Type string `json:"type"`
}

func newInputBufferClear() inputBufferClearFrame {
	return inputBufferClearFrame{Type: frameAudioClear}
}

// mergeSessionUpdate overlays the relay's authoritative session fields onto a
// client-supplied session.update payload. The client may tune fields like
// turn detection, but instructions, voice, and the tool list always come from
// server configuration so a client cannot redefine the assistant.
func mergeSessionUpdate(clientSession json.RawMessage, authoritative map[string]any) (json.RawMessage, error) {
	merged := make(map[string]any)
	if len(clientSession) > 0 {
		if err := json.Unmarshal(clientSession, &merged); err != nil {
			return nil, fmt.Errorf("relay: merge session.update: %w", err)
		}
		// A JSON null decodes without error and nils the map out.
		if merged == nil {
			merged = make(map[string]any)
		}
	}
	for k, v := range authoritative {
		merged[k] = v
	}
	frame := map[string]any{
		"type":    frameSessionUpdate,
		"session": merged,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("relay: merge session.update: %w", err)
	}
	return data, nil
}
