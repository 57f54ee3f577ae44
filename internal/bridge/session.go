package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/plannerbridge/internal/bridgewire"
	"github.com/gaspardpetit/plannerbridge/internal/logx"
	"github.com/gaspardpetit/plannerbridge/internal/metrics"
)

// ConnState is the transport-level connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// EventKind identifies a session lifecycle event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventError
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is delivered to session subscribers. Frame is set for EventMessage,
// Err for EventError and for abnormal disconnects.
type Event struct {
	Kind  EventKind
	Frame bridgewire.Frame
	Err   error
}

// SessionOptions configure the transport session.
type SessionOptions struct {
	URL           string
	APIKey        string
	ClientType    string
	ClientVersion string
	ClientID      string
	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration
	// ReadLimit caps the size of an inbound frame. Zero means 4 MiB.
	ReadLimit    int64
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	HTTPClient   *http.Client
}

const defaultReadLimit = 4 << 20

type subscriber struct {
	id uint64
	fn func(Event)
}

// link is one live websocket connection. Its teardown runs once.
type link struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	once   sync.Once
}

// Session owns a single full-duplex websocket connection to the remote
// planning service. It exchanges whole frames and notifies subscribers of
// lifecycle transitions; it never retries on its own.
type Session struct {
	opts SessionOptions

	dialMu sync.Mutex

	mu    sync.Mutex
	state ConnState
	cur   *link

	subMu   sync.Mutex
	subs    []subscriber
	nextSub uint64
}

// NewSession constructs a disconnected session.
func NewSession(opts SessionOptions) *Session {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Session{opts: opts, state: StateDisconnected}
}

// Subscribe registers fn for lifecycle and message events. Subscribers are
// invoked synchronously in registration order. The returned func removes fn.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) emit(ev Event) {
	s.subMu.Lock()
	subs := append([]subscriber(nil), s.subs...)
	s.subMu.Unlock()
	for _, sub := range subs {
		sub.fn(ev)
	}
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether a connection is open.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Header returns the handshake headers identifying this client.
func (s *Session) Header() http.Header {
	h := http.Header{}
	if s.opts.APIKey != "" {
		h.Set("Authorization", "Bearer "+s.opts.APIKey)
	}
	if s.opts.ClientType != "" {
		h.Set("X-Client-Type", s.opts.ClientType)
	}
	if s.opts.ClientVersion != "" {
		h.Set("X-Client-Version", s.opts.ClientVersion)
	}
	if s.opts.ClientID != "" {
		h.Set("X-Client-Id", s.opts.ClientID)
	}
	return h
}

// Connect opens the connection. It is a no-op when already connected and
// concurrent calls are serialized.
func (s *Session) Connect(ctx context.Context) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	if s.IsConnected() {
		return nil
	}
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, s.opts.URL, &websocket.DialOptions{
		HTTPHeader: s.Header(),
		HTTPClient: s.opts.HTTPClient,
	})
	if err != nil {
		s.setState(StateDisconnected)
		err = fmt.Errorf("dial %s: %w", s.opts.URL, err)
		s.emit(Event{Kind: EventError, Err: err})
		return err
	}
	ws.SetReadLimit(s.opts.ReadLimit)

	lctx, lcancel := context.WithCancel(context.Background())
	l := &link{ws: ws, cancel: lcancel}
	s.mu.Lock()
	s.cur = l
	s.state = StateConnected
	s.mu.Unlock()

	logx.Log.Info().Str("url", s.opts.URL).Str("client_type", s.opts.ClientType).Msg("bridge connected")
	// subscribers see connected before any message from this link
	s.emit(Event{Kind: EventConnected})
	go s.readLoop(lctx, l)
	if s.opts.PingInterval > 0 {
		go s.pingLoop(lctx, l)
	}
	return nil
}

// Send writes one frame. It fails fast with ErrNotConnected when no
// connection is open; nothing is queued.
func (s *Session) Send(ctx context.Context, f bridgewire.Frame) error {
	s.mu.Lock()
	l := s.cur
	s.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	b, err := bridgewire.Encode(f)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	if err := l.ws.Write(wctx, websocket.MessageText, b); err != nil {
		s.drop(l, err)
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close shuts the connection down with a normal closure. Closing a
// disconnected session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	l := s.cur
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	s.drop(l, nil)
	return nil
}

func (s *Session) setState(st ConnState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) readLoop(ctx context.Context, l *link) {
	for {
		_, data, err := l.ws.Read(ctx)
		if err != nil {
			s.drop(l, err)
			return
		}
		f, err := bridgewire.Decode(data)
		if err != nil {
			metrics.RecordDroppedFrame("malformed")
			logx.Log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
			continue
		}
		s.emit(Event{Kind: EventMessage, Frame: f})
	}
}

func (s *Session) pingLoop(ctx context.Context, l *link) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, s.opts.PingInterval)
			err := l.ws.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					logx.Log.Warn().Err(err).Msg("bridge ping failed")
					s.drop(l, err)
				}
				return
			}
		}
	}
}

// drop tears l down and emits a single disconnected event for it. A nil
// cause means a local, intentional close.
func (s *Session) drop(l *link, cause error) {
	l.once.Do(func() {
		s.mu.Lock()
		if s.cur == l {
			s.cur = nil
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		if cause == nil {
			_ = l.ws.Close(websocket.StatusNormalClosure, "client disconnect")
		} else {
			_ = l.ws.CloseNow()
		}
		l.cancel()

		abnormal := cause != nil && !isNormalClose(cause)
		if abnormal {
			logx.Log.Warn().Err(cause).Msg("bridge connection lost")
			s.emit(Event{Kind: EventError, Err: cause})
		} else {
			logx.Log.Info().Msg("bridge disconnected")
		}
		ev := Event{Kind: EventDisconnected}
		if abnormal {
			ev.Err = cause
		}
		s.emit(ev)
	})
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
