package bridgewire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeFrames(t *testing.T) {
	tests := []struct {
		name string
		in   string
		typ  FrameType
	}{
		{"response", `{"type":"response","id":"r1","result":{"message":"hello"}}`, TypeResponse},
		{"stream", `{"type":"stream","id":"r1","result":{"token":"he"}}`, TypeStream},
		{"error", `{"type":"error","id":"r1","error":{"code":"E_BAD","message":"nope"}}`, TypeError},
		{"request", `{"type":"request","id":"r1","method":"chat","params":{"message":"hi"}}`, TypeRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.in))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if f.Type != tt.typ || f.ID != "r1" {
				t.Fatalf("unexpected frame: %+v", f)
			}
		})
	}
}

func TestDecodeErrorPayload(t *testing.T) {
	f, err := Decode([]byte(`{"type":"error","id":"x","error":{"code":"E_QUOTA","message":"quota exceeded","details":{"limit":5}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Error == nil || f.Error.Code != "E_QUOTA" || f.Error.Message != "quota exceeded" {
		t.Fatalf("error payload: %+v", f.Error)
	}
	if string(f.Error.Details) != `{"limit":5}` {
		t.Fatalf("details: %s", f.Error.Details)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	bad := []string{
		`not json`,
		`{"type":"bogus","id":"1"}`,
		`{"type":"response"}`,
		`{"type":"request","id":"1"}`,
		`[]`,
	}
	for _, in := range bad {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%s): expected ErrMalformed, got %v", in, err)
		}
	}
}

func TestNewRequestEncode(t *testing.T) {
	f, err := NewRequest("r1", MethodChat, ChatParams{Message: "hi"})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	b, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "request" || m["id"] != "r1" || m["method"] != "chat" {
		t.Fatalf("unexpected wire shape: %s", b)
	}
	params, _ := m["params"].(map[string]any)
	if params["message"] != "hi" {
		t.Fatalf("params: %v", m["params"])
	}
	if _, ok := m["result"]; ok {
		t.Fatalf("request must not carry result: %s", b)
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	if _, err := Encode(Frame{Type: TypeRequest, ID: "1"}); err == nil {
		t.Fatalf("expected error for request without method")
	}
}

func TestDecodeToken(t *testing.T) {
	st, err := DecodeToken(json.RawMessage(`{"token":"wor","index":3}`))
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if st.Token != "wor" {
		t.Fatalf("token %q", st.Token)
	}
	if string(st.Extra["index"]) != "3" {
		t.Fatalf("extra: %v", st.Extra)
	}
	b, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	_ = json.Unmarshal(b, &back)
	if back["token"] != "wor" || back["index"] != float64(3) {
		t.Fatalf("round trip: %s", b)
	}
	if _, err := DecodeToken(json.RawMessage(`"bare"`)); err == nil {
		t.Fatalf("expected error for non-object result")
	}
}

func TestDecodeTokenRejectsNonString(t *testing.T) {
	for _, in := range []string{`{"token":42}`, `{"token":{"text":"a"}}`, `{"token":["a"]}`} {
		if _, err := DecodeToken(json.RawMessage(in)); err == nil {
			t.Fatalf("DecodeToken(%s): expected error", in)
		}
	}
}

func TestWithStream(t *testing.T) {
	m, err := WithStream(ChatParams{Message: "hi"})
	if err != nil {
		t.Fatalf("with stream: %v", err)
	}
	if m["stream"] != true || m["message"] != "hi" {
		t.Fatalf("unexpected: %v", m)
	}
	m, err = WithStream(nil)
	if err != nil || m["stream"] != true {
		t.Fatalf("nil params: %v %v", m, err)
	}
	if _, err := WithStream([]string{"a"}); err == nil {
		t.Fatalf("expected error for non-object params")
	}
}

func TestBind(t *testing.T) {
	args := map[string]any{"title": "Ship it", "description": "d", "tags": []any{"a", "b"}, "priority": "high"}
	p, err := Bind[CreateTaskParams](args)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if p.Title != "Ship it" || p.Priority != PriorityHigh || len(p.Tags) != 2 {
		t.Fatalf("bound: %+v", p)
	}
	q, err := Bind[QueryTasksParams](map[string]any{"limit": float64(10)})
	if err != nil || q.Limit != 10 {
		t.Fatalf("bind limit: %+v %v", q, err)
	}
}
