package tool

import "fmt"

// ErrorKind classifies a tool-call failure in result envelopes and client
// error frames. These values are part of the client wire contract.
type ErrorKind string

const (
	// KindInvalidArguments means the call's arguments did not satisfy the
	// registered schema. The handler was not invoked.
	KindInvalidArguments ErrorKind = "InvalidArguments"

	// KindUnknownTool means the model requested a name absent from the registry.
	KindUnknownTool ErrorKind = "UnknownToolError"

	// KindHandlerFailure means the handler returned an error, panicked, or
	// exceeded the execution deadline.
	KindHandlerFailure ErrorKind = "HandlerFailure"
)

// DuplicateToolError is returned by Registry.Register when the tool name is
// already taken.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool: %q is already registered", e.Name)
}

// UnknownToolError is returned by Registry.Lookup for unregistered names.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool: %q is not registered", e.Name)
}
