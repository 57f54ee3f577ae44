package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gaspardpetit/plannerbridge/internal/bridgewire"
	"github.com/gaspardpetit/plannerbridge/internal/logx"
	"github.com/gaspardpetit/plannerbridge/internal/metrics"
	"github.com/gaspardpetit/plannerbridge/internal/reconnect"
)

// Options configure a Client.
type Options struct {
	Session SessionOptions
	// Reconnect enables automatic reconnection after unexpected drops.
	Reconnect   bool
	Backoff     reconnect.Backoff
	MaxAttempts int
	// After overrides the reconnect timer, mainly for tests.
	After func(time.Duration) <-chan time.Time
}

// Snapshot is a point-in-time view of the client.
type Snapshot struct {
	State          ConnState       `json:"state"`
	Reconnect      reconnect.State `json:"reconnect,omitempty"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	Pending        int             `json:"pending"`
	OldestPending  time.Duration   `json:"oldest_pending_ns"`
	URL            string          `json:"url"`
	ClientType     string          `json:"client_type"`
	ClientVersion  string          `json:"client_version"`
	ClientID       string          `json:"client_id"`
	ConnectedSince time.Time       `json:"connected_since,omitzero"`
	LastError      string          `json:"last_error,omitempty"`
}

// Client is the request/response façade over a Session. It correlates
// responses to requests, relays stream tokens, and reconnects on drops.
type Client struct {
	opts    Options
	session *Session
	table   *Table
	ids     *IDGenerator
	policy  *reconnect.Policy
	unsub   func()

	mu             sync.Mutex
	connectedSince time.Time
	lastErr        string
}

// New constructs a disconnected client.
func New(opts Options) *Client {
	c := &Client{
		opts:    opts,
		session: NewSession(opts.Session),
		table:   NewTable(),
		ids:     NewIDGenerator(),
	}
	if opts.Reconnect {
		c.policy = reconnect.NewPolicy(reconnect.Options{
			Backoff:     opts.Backoff,
			MaxAttempts: opts.MaxAttempts,
			Connect:     c.session.Connect,
			After:       opts.After,
			OnSchedule: func(int, time.Duration) {
				metrics.RecordReconnectAttempt()
			},
			OnGiveUp: func(n int) {
				metrics.RecordReconnectGaveUp()
				c.setLastError(fmt.Sprintf("gave up reconnecting after %d attempts", n))
			},
		})
	}
	c.unsub = c.session.Subscribe(c.handle)
	return c
}

// Connect opens the session. An explicit connect re-arms automatic
// reconnection; when it fails and reconnection is enabled, retries start
// in the background and the error is still returned.
func (c *Client) Connect(ctx context.Context) error {
	if c.policy != nil {
		c.policy.Resume()
	}
	err := c.session.Connect(ctx)
	if err != nil && c.policy != nil {
		c.policy.Failed(err)
	}
	return err
}

// Disconnect closes the session and suppresses automatic reconnection.
// Pending requests are rejected with ErrConnectionLost.
func (c *Client) Disconnect() error {
	if c.policy != nil {
		c.policy.Suppress()
		c.policy.Wait()
	}
	return c.session.Close()
}

// Close disconnects and detaches the client from its session.
func (c *Client) Close() error {
	err := c.Disconnect()
	c.unsub()
	return err
}

// IsConnected reports whether the session is open.
func (c *Client) IsConnected() bool {
	return c.session.IsConnected()
}

// Subscribe forwards session events to fn after the client has processed them.
func (c *Client) Subscribe(fn func(Event)) func() {
	return c.session.Subscribe(fn)
}

// SendRequest sends method with params and waits for the correlated
// response. It fails immediately with ErrNotConnected when the session is
// down. Cancelling ctx abandons the request and forgets its id.
func (c *Client) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !c.session.IsConnected() {
		metrics.RecordRequest(method, "not_connected", 0)
		return nil, ErrNotConnected
	}
	id := c.ids.Next()
	done, err := c.table.Register(id, method)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, id, method, params, done)
}

// SendStreamRequest sends method with params marked as streaming and
// passes each stream token to onToken, in arrival order, until the terminal
// response. It returns nil on a successful response and the error otherwise.
func (c *Client) SendStreamRequest(ctx context.Context, method string, params any, onToken func(bridgewire.StreamToken)) error {
	if !c.session.IsConnected() {
		metrics.RecordRequest(method, "not_connected", 0)
		return ErrNotConnected
	}
	streamed, err := bridgewire.WithStream(params)
	if err != nil {
		return err
	}
	if onToken == nil {
		onToken = func(bridgewire.StreamToken) {}
	}
	id := c.ids.Next()
	done, err := c.table.RegisterStream(id, method, onToken)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, id, method, streamed, done)
	return err
}

func (c *Client) roundTrip(ctx context.Context, id, method string, params any, done <-chan Outcome) (json.RawMessage, error) {
	start := time.Now()
	f, err := bridgewire.NewRequest(id, method, params)
	if err != nil {
		c.table.Remove(id)
		return nil, err
	}
	if err := c.session.Send(ctx, f); err != nil {
		c.table.Remove(id)
		metrics.RecordRequest(method, outcomeOf(err), time.Since(start))
		return nil, err
	}
	select {
	case o := <-done:
		metrics.RecordRequest(method, outcomeOf(o.Err), time.Since(start))
		return o.Result, o.Err
	case <-ctx.Done():
		c.table.Remove(id)
		metrics.RecordRequest(method, outcomeOf(ctx.Err()), time.Since(start))
		return nil, ctx.Err()
	}
}

// handle is the client's own session subscriber.
func (c *Client) handle(ev Event) {
	switch ev.Kind {
	case EventConnected:
		metrics.SetConnected(true)
		c.mu.Lock()
		c.connectedSince = time.Now()
		c.lastErr = ""
		c.mu.Unlock()
		if c.policy != nil {
			c.policy.Connected()
		}
	case EventDisconnected:
		metrics.SetConnected(false)
		c.mu.Lock()
		c.connectedSince = time.Time{}
		c.mu.Unlock()
		if n := c.table.RejectAll(ErrConnectionLost); n > 0 {
			logx.Log.Warn().Int("pending", n).Msg("rejected pending requests after disconnect")
		}
		if c.policy != nil {
			c.policy.Disconnected()
		}
	case EventError:
		if ev.Err != nil {
			c.setLastError(ev.Err.Error())
		}
	case EventMessage:
		c.route(ev.Frame)
	}
}

func (c *Client) route(f bridgewire.Frame) {
	var ok bool
	switch f.Type {
	case bridgewire.TypeResponse:
		if f.Error != nil {
			ok = c.table.Reject(f.ID, newRemoteError(f.Error))
		} else {
			ok = c.table.Resolve(f.ID, f.Result)
		}
	case bridgewire.TypeError:
		ok = c.table.Reject(f.ID, newRemoteError(f.Error))
	case bridgewire.TypeStream:
		tok, err := bridgewire.DecodeToken(f.Result)
		if err != nil {
			metrics.RecordDroppedFrame("bad_token")
			logx.Log.Warn().Err(err).Str("id", f.ID).Msg("dropping stream frame")
			return
		}
		if err := c.table.FeedToken(f.ID, tok); err != nil {
			reason := "unknown_id"
			if errors.Is(err, errNotStream) {
				reason = "not_stream"
			}
			metrics.RecordDroppedFrame(reason)
			logx.Log.Debug().Err(err).Str("id", f.ID).Msg("dropping stream frame")
		}
		return
	default:
		metrics.RecordDroppedFrame("unexpected_type")
		logx.Log.Debug().Str("type", string(f.Type)).Str("id", f.ID).Msg("ignoring inbound frame")
		return
	}
	if !ok {
		metrics.RecordDroppedFrame("unknown_id")
		logx.Log.Debug().Str("type", string(f.Type)).Str("id", f.ID).Msg("no pending request for frame")
	}
}

// Snapshot returns the current client state.
func (c *Client) Snapshot() Snapshot {
	s := Snapshot{
		State:         c.session.State(),
		Pending:       c.table.Len(),
		OldestPending: c.table.Oldest(),
		URL:           c.opts.Session.URL,
		ClientType:    c.opts.Session.ClientType,
		ClientVersion: c.opts.Session.ClientVersion,
		ClientID:      c.opts.Session.ClientID,
	}
	if c.policy != nil {
		s.Reconnect = c.policy.State()
		s.Attempt = c.policy.Attempt()
		s.MaxAttempts = c.opts.MaxAttempts
		if s.MaxAttempts <= 0 {
			s.MaxAttempts = 5
		}
	}
	c.mu.Lock()
	s.ConnectedSince = c.connectedSince
	s.LastError = c.lastErr
	c.mu.Unlock()
	return s
}

func (c *Client) setLastError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

func outcomeOf(err error) string {
	var re *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &re):
		return "remote_error"
	default:
		return "error"
	}
}
