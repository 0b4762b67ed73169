package simplecollab

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrConnectionNotFound indicates a connection id is not registered
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrMissingContentType indicates a command required a contentType field
	ErrMissingContentType = errors.New("missing contentType")

	// ErrMissingEntryID indicates a command required an entryId field
	ErrMissingEntryID = errors.New("missing entryId")

	// ErrUnsupportedCommand indicates an unknown command action
	ErrUnsupportedCommand = errors.New("unsupported command")

	// ErrInvalidFrame indicates an unparseable client frame
	ErrInvalidFrame = errors.New("invalid message frame")

	// ErrConnectionClosed indicates a send to a connection that is closing
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSlowConnection indicates the outbound buffer overflowed
	ErrSlowConnection = errors.New("outbound buffer overflow")
)

// Structured error codes sent to clients in error frames.
const (
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeMissingContentType = "MISSING_CONTENT_TYPE"
	CodeMissingEntryID     = "MISSING_ENTRY_ID"
	CodeUnsupportedCommand = "UNSUPPORTED_COMMAND"
)

// CommandError represents a client command that could not be processed. It
// maps onto a structured error frame rather than a connection drop.
type CommandError struct {
	Action string
	Code   string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed with %s: %v", e.Action, e.Code, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// PublishError represents a durable-log append failure. It is logged, never
// propagated to the publisher.
type PublishError struct {
	Stream string
	Event  string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish of %s to stream %s failed: %v", e.Event, e.Stream, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
