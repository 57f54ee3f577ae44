package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gaspardpetit/plannerbridge/internal/bridgewire"
)

var (
	// ErrNotConnected is returned when a frame would be sent while the session is down.
	ErrNotConnected = errors.New("bridge: not connected")
	// ErrDuplicateID indicates a correlation id was registered twice.
	ErrDuplicateID = errors.New("bridge: duplicate request id")
	// ErrConnectionLost rejects requests still pending when the connection dropped.
	ErrConnectionLost = errors.New("bridge: connection lost")

	errUnknownID = errors.New("no pending request")
	errNotStream = errors.New("pending request is not a stream")
)

// CodeRemoteError is used when the remote signals a fault without a code.
const CodeRemoteError = "REMOTE_ERROR"

// RemoteError is an application error reported by the remote planning service.
type RemoteError struct {
	Code    string
	Message string
	Details json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

func newRemoteError(p *bridgewire.ErrorPayload) *RemoteError {
	if p == nil {
		return &RemoteError{Code: CodeRemoteError, Message: "remote signaled an error without details"}
	}
	e := &RemoteError{Code: p.Code, Message: p.Message, Details: p.Details}
	if e.Code == "" {
		e.Code = CodeRemoteError
	}
	if e.Message == "" {
		e.Message = "remote signaled an error without a message"
	}
	return e
}
