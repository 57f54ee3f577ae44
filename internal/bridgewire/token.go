package bridgewire

import (
	"encoding/json"
	"fmt"
)

// StreamToken is the result payload of a stream frame. Token holds the
// incremental text; any other keys the remote sent are kept in Extra.
type StreamToken struct {
	Token string
	Extra map[string]json.RawMessage
}

// DecodeToken extracts the token from a stream frame's result payload.
// A missing "token" yields an empty Token; a non-string one is an error.
func DecodeToken(result json.RawMessage) (StreamToken, error) {
	var st StreamToken
	if len(result) == 0 {
		return st, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(result, &fields); err != nil {
		return st, err
	}
	if raw, ok := fields["token"]; ok {
		if err := json.Unmarshal(raw, &st.Token); err != nil {
			return StreamToken{}, fmt.Errorf("stream token: %w", err)
		}
		delete(fields, "token")
	}
	if len(fields) > 0 {
		st.Extra = fields
	}
	return st, nil
}

// MarshalJSON renders the token back into the wire shape.
func (st StreamToken) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(st.Extra)+1)
	for k, v := range st.Extra {
		out[k] = v
	}
	tok, err := json.Marshal(st.Token)
	if err != nil {
		return nil, err
	}
	out["token"] = tok
	return json.Marshal(out)
}
