package detector

import "fmt"

// Kind classifies gateway errors; the HTTP layer maps each to a status.
type Kind string

const (
	KindClientInput      Kind = "client_input"
	KindSpawn            Kind = "spawn"
	KindExecution        Kind = "execution"
	KindResultExtraction Kind = "result_extraction"
	KindConflict         Kind = "conflict"
)

// Error is the terminal error of a job or webcam request. Message and
// Details are what the client sees.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Client-visible messages.
const (
	MsgNoImage          = "No image uploaded"
	MsgJobSpawnFailed   = "Failed to start the Python process"
	MsgDetectionFailed  = "Detection failed"
	MsgReadResultFolder = "Failed to read result folder"
	MsgNoImages         = "No images generated"
)

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// SpawnFailure wraps a process start failure; the cause is shown to the
// client as details.
func SpawnFailure(msg string, err error) *Error {
	return &Error{Kind: KindSpawn, Message: msg, Details: err.Error(), Err: err}
}
