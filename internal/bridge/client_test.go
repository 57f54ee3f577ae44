package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/plannerbridge/internal/bridgewire"
	"github.com/gaspardpetit/plannerbridge/internal/reconnect"
)

func newTestClient(t *testing.T, url string, reconnectOn bool) *Client {
	t.Helper()
	c := New(Options{
		Session:     SessionOptions{URL: url, ClientType: "cursor-mcp", ClientVersion: "test"},
		Reconnect:   reconnectOn,
		Backoff:     reconnect.Backoff{Base: time.Millisecond, Factor: 2},
		MaxAttempts: 3,
		After:       fastRetry,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientRoundTrip(t *testing.T) {
	r := newFakeRemote(t, nil, func(ctx context.Context, c *websocket.Conn, _ int, f bridgewire.Frame) {
		writeFrame(ctx, c, bridgewire.Frame{Type: bridgewire.TypeResponse, ID: f.ID, Result: json.RawMessage(`{"message":"hello"}`)})
	})
	c := newTestClient(t, r.url, false)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	res, err := c.SendRequest(context.Background(), bridgewire.MethodChat, map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(res) != `{"message":"hello"}` {
		t.Fatalf("result=%s", res)
	}
	f := r.nextFrame(t)
	if f.Type != bridgewire.TypeRequest || f.Method != bridgewire.MethodChat || f.ID == "" {
		t.Fatalf("unexpected request frame %+v", f)
	}
	var params map[string]any
	_ = json.Unmarshal(f.Params, &params)
	if params["message"] != "hi" {
		t.Fatalf("params=%s", f.Params)
	}
	if c.Snapshot().Pending != 0 {
		t.Fatalf("pending entry left behind")
	}
}

func TestClientRoutesFixedID(t *testing.T) {
	c := New(Options{Session: SessionOptions{URL: "ws://unused"}})
	done, _ := c.table.Register("r1", bridgewire.MethodChat)
	c.route(bridgewire.Frame{Type: bridgewire.TypeResponse, ID: "r1", Result: json.RawMessage(`{"message":"hello"}`)})
	o := <-done
	if o.Err != nil || string(o.Result) != `{"message":"hello"}` {
		t.Fatalf("outcome=%+v", o)
	}
	// a second response for the same id is ignored
	c.route(bridgewire.Frame{Type: bridgewire.TypeResponse, ID: "r1", Result: json.RawMessage(`{}`)})
	c.route(bridgewire.Frame{Type: bridgewire.TypeResponse, ID: "unknown-99"})
	if c.table.Len() != 0 {
		t.Fatalf("table should be empty")
	}
}

func TestClientStreamFrameForPlainRequest(t *testing.T) {
	c := New(Options{Session: SessionOptions{URL: "ws://unused"}})
	done, _ := c.table.Register("r1", bridgewire.MethodQueryTasks)
	c.route(bridgewire.Frame{Type: bridgewire.TypeStream, ID: "r1", Result: json.RawMessage(`{"token":"x"}`)})
	select {
	case o := <-done:
		t.Fatalf("stream frame completed a plain request: %+v", o)
	default:
	}
	if c.table.Len() != 1 {
		t.Fatalf("plain request should stay pending")
	}
}

func TestClientDropsNonStringToken(t *testing.T) {
	c := New(Options{Session: SessionOptions{URL: "ws://unused"}})
	var got []string
	done, _ := c.table.RegisterStream("s1", bridgewire.MethodChat, func(tok bridgewire.StreamToken) {
		got = append(got, tok.Token)
	})
	c.route(bridgewire.Frame{Type: bridgewire.TypeStream, ID: "s1", Result: json.RawMessage(`{"token":42}`)})
	c.route(bridgewire.Frame{Type: bridgewire.TypeStream, ID: "s1", Result: json.RawMessage(`{"token":"ok"}`)})
	c.route(bridgewire.Frame{Type: bridgewire.TypeResponse, ID: "s1"})
	<-done
	if len(got) != 1 || got[0] != "ok" {
		t.Fatalf("tokens=%q", got)
	}
}

func TestClientRemoteErrors(t *testing.T) {
	c := New(Options{Session: SessionOptions{URL: "ws://unused"}})
	a, _ := c.table.Register("a", bridgewire.MethodCreateTask)
	b, _ := c.table.Register("b", bridgewire.MethodCreateTask)
	c.route(bridgewire.Frame{Type: bridgewire.TypeError, ID: "a", Error: &bridgewire.ErrorPayload{Code: "NOT_FOUND", Message: "no project"}})
	c.route(bridgewire.Frame{Type: bridgewire.TypeResponse, ID: "b", Error: &bridgewire.ErrorPayload{Message: "boom"}})

	var re *RemoteError
	if o := <-a; !errors.As(o.Err, &re) || re.Code != "NOT_FOUND" || re.Message != "no project" {
		t.Fatalf("error frame outcome %+v", o)
	}
	if o := <-b; !errors.As(o.Err, &re) || re.Code != CodeRemoteError || re.Message != "boom" {
		t.Fatalf("response-with-error outcome %+v", o)
	}
}

func TestClientStreamRequest(t *testing.T) {
	r := newFakeRemote(t, nil, func(ctx context.Context, c *websocket.Conn, _ int, f bridgewire.Frame) {
		for _, tok := range []string{"Hel", "lo"} {
			writeFrame(ctx, c, bridgewire.Frame{Type: bridgewire.TypeStream, ID: f.ID, Result: json.RawMessage(fmt.Sprintf(`{"token":%q}`, tok))})
		}
		writeFrame(ctx, c, bridgewire.Frame{Type: bridgewire.TypeResponse, ID: f.ID, Result: json.RawMessage(`{}`)})
	})
	c := newTestClient(t, r.url, false)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	var got []string
	err := c.SendStreamRequest(context.Background(), bridgewire.MethodChat, map[string]any{"message": "hi"}, func(tok bridgewire.StreamToken) {
		got = append(got, tok.Token)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 2 || got[0] != "Hel" || got[1] != "lo" {
		t.Fatalf("tokens=%v", got)
	}
	f := r.nextFrame(t)
	var params map[string]any
	_ = json.Unmarshal(f.Params, &params)
	if params["stream"] != true || params["message"] != "hi" {
		t.Fatalf("stream flag missing: %s", f.Params)
	}
}

func TestClientStreamRemoteError(t *testing.T) {
	r := newFakeRemote(t, nil, func(ctx context.Context, c *websocket.Conn, _ int, f bridgewire.Frame) {
		writeFrame(ctx, c, bridgewire.Frame{Type: bridgewire.TypeStream, ID: f.ID, Result: json.RawMessage(`{"token":"partial"}`)})
		writeFrame(ctx, c, bridgewire.Frame{Type: bridgewire.TypeError, ID: f.ID, Error: &bridgewire.ErrorPayload{Code: "LLM_DOWN", Message: "model unavailable"}})
	})
	c := newTestClient(t, r.url, false)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	n := 0
	err := c.SendStreamRequest(context.Background(), bridgewire.MethodChat, map[string]any{"message": "hi"}, func(bridgewire.StreamToken) { n++ })
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != "LLM_DOWN" {
		t.Fatalf("expected remote error got %v", err)
	}
	if n != 1 {
		t.Fatalf("tokens before error=%d", n)
	}
}

func TestClientNotConnectedFailsFast(t *testing.T) {
	r := newFakeRemote(t, nil, echoReply)
	c := newTestClient(t, r.url, false)
	start := time.Now()
	_, err := c.SendRequest(context.Background(), bridgewire.MethodChat, map[string]any{"message": "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected got %v", err)
	}
	if err := c.SendStreamRequest(context.Background(), bridgewire.MethodChat, map[string]any{}, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected for stream got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("not-connected path blocked")
	}
	if r.connCount() != 0 {
		t.Fatalf("client dialed on send")
	}
	if c.Snapshot().Pending != 0 {
		t.Fatalf("failed request left a pending entry")
	}
}

func TestClientDisconnectRejectsPending(t *testing.T) {
	r := newFakeRemote(t, nil, func(ctx context.Context, c *websocket.Conn, _ int, f bridgewire.Frame) {
		_ = c.CloseNow()
	})
	c := newTestClient(t, r.url, false)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := c.SendRequest(ctx, bridgewire.MethodQueryTasks, map[string]any{})
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost got %v", err)
	}
	waitFor(t, "disconnected state", func() bool { return !c.IsConnected() })
	if _, err := c.SendRequest(ctx, bridgewire.MethodQueryTasks, map[string]any{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after drop got %v", err)
	}
}

func TestClientContextTimeoutForgetsRequest(t *testing.T) {
	r := newFakeRemote(t, nil, nil)
	c := newTestClient(t, r.url, false)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.SendRequest(ctx, bridgewire.MethodChat, map[string]any{"message": "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded got %v", err)
	}
	if c.Snapshot().Pending != 0 {
		t.Fatalf("timed out request still pending")
	}
	if !c.IsConnected() {
		t.Fatalf("timeout should not drop the connection")
	}
}

func TestClientConcurrentRequestsCorrelate(t *testing.T) {
	r := newFakeRemote(t, nil, echoReply)
	c := newTestClient(t, r.url, false)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.SendRequest(context.Background(), bridgewire.MethodChat, map[string]any{"n": i})
			if err != nil {
				errs <- err
				return
			}
			var got map[string]int
			_ = json.Unmarshal(res, &got)
			if got["n"] != i {
				errs <- fmt.Errorf("request %d got %s", i, res)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	r := newFakeRemote(t, func(c *websocket.Conn, n int) {
		if n == 1 {
			go func() {
				time.Sleep(20 * time.Millisecond)
				_ = c.CloseNow()
			}()
		}
	}, echoReply)
	c := newTestClient(t, r.url, true)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "second connection", func() bool {
		snap := c.Snapshot()
		return r.connCount() == 2 && c.IsConnected() && snap.Reconnect == reconnect.StateConnected
	})
	if snap := c.Snapshot(); snap.Attempt != 0 {
		t.Fatalf("attempt counter not reset: %+v", snap)
	}
	if _, err := c.SendRequest(context.Background(), bridgewire.MethodChat, map[string]any{"message": "again"}); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}
}

func TestClientRepeatConnectKeepsReconnectState(t *testing.T) {
	r := newFakeRemote(t, nil, echoReply)
	c := newTestClient(t, r.url, true)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "connected", func() bool { return c.Snapshot().Reconnect == reconnect.StateConnected })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	snap := c.Snapshot()
	if snap.State != StateConnected || snap.Reconnect != reconnect.StateConnected {
		t.Fatalf("after repeat connect: state=%s reconnect=%s", snap.State, snap.Reconnect)
	}
	if r.connCount() != 1 {
		t.Fatalf("connections=%d", r.connCount())
	}
}

func TestClientExplicitDisconnectSuppressesReconnect(t *testing.T) {
	r := newFakeRemote(t, nil, echoReply)
	c := newTestClient(t, r.url, true)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if r.connCount() != 1 || c.IsConnected() {
		t.Fatalf("client reconnected after explicit disconnect")
	}
	// an explicit connect afterwards works again
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if r.connCount() != 2 {
		t.Fatalf("connections=%d", r.connCount())
	}
}

func TestClientGivesUpWhenRemoteUnreachable(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1/bridge", true)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
	waitFor(t, "give up", func() bool { return c.Snapshot().Reconnect == reconnect.StateGaveUp })
	snap := c.Snapshot()
	if snap.Attempt != 3 || snap.LastError == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestClientSubscribersSeeEvents(t *testing.T) {
	r := newFakeRemote(t, nil, nil)
	c := newTestClient(t, r.url, false)
	var log eventLog
	unsub := c.Subscribe(log.add)
	defer unsub()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if log.count(EventConnected) != 1 || log.count(EventDisconnected) != 1 {
		t.Fatalf("events=%v", log.kinds())
	}
}
