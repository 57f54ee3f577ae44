// Package bridgewire defines the JSON frames exchanged with the remote
// planning service over the bridge connection.
package bridgewire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType enumerates bridge frame types.
type FrameType string

const (
	TypeRequest  FrameType = "request"
	TypeResponse FrameType = "response"
	TypeStream   FrameType = "stream"
	TypeError    FrameType = "error"
)

// Valid reports whether t is one of the known frame types.
func (t FrameType) Valid() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeStream, TypeError:
		return true
	}
	return false
}

// Terminal reports whether a frame of this type completes a pending request.
func (t FrameType) Terminal() bool {
	return t == TypeResponse || t == TypeError
}

// Frame is one message on the bridge connection.
type Frame struct {
	Type   FrameType       `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload is the error object carried by error frames.
type ErrorPayload struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

var (
	// ErrMalformed wraps every decoding failure.
	ErrMalformed = errors.New("malformed frame")
)

// NewRequest builds a request frame, marshalling params.
func NewRequest(id, method string, params any) (Frame, error) {
	f := Frame{Type: TypeRequest, ID: id, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal %s params: %w", method, err)
		}
		f.Params = b
	}
	return f, nil
}

// Encode serializes f to its wire representation.
func Encode(f Frame) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// Decode parses and validates a raw frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := f.validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (f Frame) validate() error {
	if !f.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, f.Type)
	}
	if f.ID == "" {
		return fmt.Errorf("%w: %s frame without id", ErrMalformed, f.Type)
	}
	if f.Type == TypeRequest && f.Method == "" {
		return fmt.Errorf("%w: request without method", ErrMalformed)
	}
	return nil
}
