package tools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/gaspardpetit/plannerbridge/internal/bridge"
	"github.com/gaspardpetit/plannerbridge/internal/bridgewire"
	"github.com/gaspardpetit/plannerbridge/internal/logx"
	"github.com/gaspardpetit/plannerbridge/internal/metrics"
)

// Error codes carried in failure envelopes.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeUnknownTool    = "UNKNOWN_TOOL"
	CodeNotConnected   = "NOT_CONNECTED"
	CodeConnectionLost = "CONNECTION_LOST"
	CodeTimeout        = "TIMEOUT"
	CodeCanceled       = "CANCELED"
	CodeBridge         = "BRIDGE_ERROR"
)

// Caller is the part of the bridge client the dispatcher needs.
type Caller interface {
	SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error)
	SendStreamRequest(ctx context.Context, method string, params any, onToken func(bridgewire.StreamToken)) error
}

// Envelope is the result of every tool invocation.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a failed invocation.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Options tune how tool calls are turned into bridge requests.
type Options struct {
	// DefaultStreaming is used for chat when the caller does not say.
	DefaultStreaming bool
	// MaxTokens is attached to chat requests that do not carry one.
	MaxTokens int
	// WorkDir is the ambient working directory.
	WorkDir string
	// Timeout bounds each call. Zero means no dispatcher-side limit.
	Timeout time.Duration
}

// Dispatcher validates tool invocations and maps each to one bridge call.
type Dispatcher struct {
	caller Caller
	opts   Options
	defs   []Definition
	byName map[string]Definition
}

// NewDispatcher builds a dispatcher over the standard catalogue.
func NewDispatcher(caller Caller, opts Options) *Dispatcher {
	defs := Catalog()
	d := &Dispatcher{caller: caller, opts: opts, defs: defs, byName: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		d.byName[def.Name] = def
	}
	return d
}

// Definitions returns the catalogue served by d.
func (d *Dispatcher) Definitions() []Definition {
	return d.defs
}

// Dispatch runs tool name with args. onToken, when set, receives chat
// stream tokens as they arrive. Dispatch never returns an error: every
// failure is reported in the envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any, onToken func(bridgewire.StreamToken)) Envelope {
	env := d.dispatch(ctx, name, args, onToken)
	metrics.RecordToolCall(name, env.Success)
	if !env.Success {
		logx.Log.Debug().Str("tool", name).Str("code", env.Error.Code).Msg(env.Error.Message)
	}
	return env
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, args map[string]any, onToken func(bridgewire.StreamToken)) Envelope {
	def, ok := d.byName[name]
	if !ok {
		return Failure(CodeUnknownTool, "unknown tool "+name, nil)
	}
	in := make(map[string]any, len(args)+1)
	for k, v := range args {
		in[k] = v
	}
	if err := validate(def, in); err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		return Failure(CodeValidation, err.Error(), ve.Fields)
	}
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	if def.Workdir {
		if p, ok := in[def.PathArg].(string); ok {
			in[def.PathArg] = d.resolve(p)
		}
		if d.opts.WorkDir != "" {
			in["workingDirectory"] = d.opts.WorkDir
		}
	}
	if def.Streams {
		return d.chat(ctx, def.Name, in, onToken)
	}

	var (
		params any
		err    error
	)
	switch def.Name {
	case bridgewire.MethodAnalyzeFile:
		params, err = bridgewire.Bind[bridgewire.AnalyzeFileParams](in)
	case bridgewire.MethodAnalyzeProject:
		params, err = bridgewire.Bind[bridgewire.AnalyzeProjectParams](in)
	case bridgewire.MethodCreateTask:
		params, err = bridgewire.Bind[bridgewire.CreateTaskParams](in)
	case bridgewire.MethodQueryTasks:
		params, err = bridgewire.Bind[bridgewire.QueryTasksParams](in)
	default:
		params = in
	}
	if err != nil {
		return Failure(CodeValidation, "invalid arguments: "+err.Error(), nil)
	}
	return d.request(ctx, def.Name, params)
}

func (d *Dispatcher) chat(ctx context.Context, method string, in map[string]any, onToken func(bridgewire.StreamToken)) Envelope {
	p, err := bridgewire.Bind[bridgewire.ChatParams](in)
	if err != nil {
		return Failure(CodeValidation, "invalid arguments: "+err.Error(), nil)
	}
	stream := d.opts.DefaultStreaming
	if v, ok := in["streaming"].(bool); ok {
		stream = v
	}
	p.Streaming = false
	if p.MaxTokens == 0 {
		p.MaxTokens = d.opts.MaxTokens
	}
	if !stream {
		return d.request(ctx, method, p)
	}

	var (
		text   strings.Builder
		tokens int
	)
	err = d.caller.SendStreamRequest(ctx, method, p, func(tok bridgewire.StreamToken) {
		text.WriteString(tok.Token)
		tokens++
		if onToken != nil {
			onToken(tok)
		}
	})
	if err != nil {
		return FromError(err)
	}
	return Success(map[string]any{"message": text.String(), "tokens": tokens, "streamed": true})
}

func (d *Dispatcher) request(ctx context.Context, method string, params any) Envelope {
	raw, err := d.caller.SendRequest(ctx, method, params)
	if err != nil {
		return FromError(err)
	}
	return Success(Normalize(raw))
}

func (d *Dispatcher) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || d.opts.WorkDir == "" {
		return p
	}
	return filepath.Join(d.opts.WorkDir, p)
}

// Normalize decodes a raw result into plain Go values. Invalid JSON is
// returned as a string.
func Normalize(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// Success wraps data in a success envelope.
func Success(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

// Failure builds an error envelope.
func Failure(code, message string, details any) Envelope {
	return Envelope{Error: &ErrorInfo{Code: code, Message: message, Details: details}}
}

// FromError converts a bridge error into an error envelope.
func FromError(err error) Envelope {
	var re *bridge.RemoteError
	switch {
	case errors.As(err, &re):
		return Failure(re.Code, re.Message, Normalize(re.Details))
	case errors.Is(err, bridge.ErrNotConnected):
		return Failure(CodeNotConnected, "not connected to the planning service", nil)
	case errors.Is(err, bridge.ErrConnectionLost):
		return Failure(CodeConnectionLost, "connection to the planning service was lost", nil)
	case errors.Is(err, context.DeadlineExceeded):
		return Failure(CodeTimeout, "request timed out", nil)
	case errors.Is(err, context.Canceled):
		return Failure(CodeCanceled, "request canceled", nil)
	default:
		return Failure(CodeBridge, err.Error(), nil)
	}
}
