package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/plannerbridge/internal/bridgewire"
)

// fakeRemote is a minimal planning service: it records handshakes and
// inbound frames and lets each test decide how to answer.
type fakeRemote struct {
	srv    *httptest.Server
	url    string
	frames chan bridgewire.Frame

	mu      sync.Mutex
	conns   []*websocket.Conn
	headers []http.Header
}

type replyFunc func(ctx context.Context, c *websocket.Conn, n int, f bridgewire.Frame)

// newFakeRemote starts the server. onAccept, when set, runs for each new
// connection (numbered from 1) before frames are read.
func newFakeRemote(t *testing.T, onAccept func(c *websocket.Conn, n int), reply replyFunc) *fakeRemote {
	t.Helper()
	r := &fakeRemote{frames: make(chan bridgewire.Frame, 64)}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		c, err := websocket.Accept(w, req, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		r.mu.Lock()
		r.conns = append(r.conns, c)
		r.headers = append(r.headers, req.Header.Clone())
		n := len(r.conns)
		r.mu.Unlock()
		if onAccept != nil {
			onAccept(c, n)
		}
		go func() {
			ctx := context.Background()
			for {
				_, data, err := c.Read(ctx)
				if err != nil {
					return
				}
				var f bridgewire.Frame
				if json.Unmarshal(data, &f) != nil {
					continue
				}
				select {
				case r.frames <- f:
				default:
				}
				if reply != nil {
					reply(ctx, c, n, f)
				}
			}
		}()
	}))
	r.url = "ws" + strings.TrimPrefix(r.srv.URL, "http")
	t.Cleanup(func() {
		r.mu.Lock()
		for _, c := range r.conns {
			_ = c.CloseNow()
		}
		r.mu.Unlock()
		r.srv.Close()
	})
	return r
}

func (r *fakeRemote) connCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *fakeRemote) header(i int) http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headers[i]
}

func (r *fakeRemote) nextFrame(t *testing.T) bridgewire.Frame {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame received")
		return bridgewire.Frame{}
	}
}

func writeFrame(ctx context.Context, c *websocket.Conn, f bridgewire.Frame) {
	b, _ := json.Marshal(f)
	_ = c.Write(ctx, websocket.MessageText, b)
}

func echoReply(ctx context.Context, c *websocket.Conn, _ int, f bridgewire.Frame) {
	if f.Type != bridgewire.TypeRequest {
		return
	}
	writeFrame(ctx, c, bridgewire.Frame{Type: bridgewire.TypeResponse, ID: f.ID, Result: f.Params})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fastRetry(time.Duration) <-chan time.Time {
	return time.After(5 * time.Millisecond)
}
