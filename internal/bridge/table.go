package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gaspardpetit/plannerbridge/internal/bridgewire"
	"github.com/gaspardpetit/plannerbridge/internal/metrics"
)

// Outcome is the terminal result of a pending request.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

type pendingReq struct {
	method  string
	created time.Time
	done    chan Outcome
	onToken func(bridgewire.StreamToken)
}

// Table correlates in-flight request ids with their waiting callers.
// Entries are removed before their outcome is delivered, so each id
// completes at most once; frames for unknown ids are dropped.
type Table struct {
	mu      sync.Mutex
	pending map[string]*pendingReq
	now     func() time.Time
}

// NewTable constructs an empty correlation table.
func NewTable() *Table {
	return &Table{pending: map[string]*pendingReq{}, now: time.Now}
}

// Register adds a single-result entry for id.
func (t *Table) Register(id, method string) (<-chan Outcome, error) {
	return t.add(id, method, nil)
}

// RegisterStream adds an entry for id whose stream tokens are passed to
// onToken until the terminal frame arrives.
func (t *Table) RegisterStream(id, method string, onToken func(bridgewire.StreamToken)) (<-chan Outcome, error) {
	return t.add(id, method, onToken)
}

func (t *Table) add(id, method string, onToken func(bridgewire.StreamToken)) (<-chan Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; ok {
		return nil, ErrDuplicateID
	}
	p := &pendingReq{method: method, created: t.now(), done: make(chan Outcome, 1), onToken: onToken}
	t.pending[id] = p
	metrics.SetPending(len(t.pending))
	return p.done, nil
}

// Resolve completes id with a result. It reports false when id is unknown.
func (t *Table) Resolve(id string, result json.RawMessage) bool {
	return t.complete(id, Outcome{Result: result})
}

// Reject completes id with an error. It reports false when id is unknown.
func (t *Table) Reject(id string, err error) bool {
	return t.complete(id, Outcome{Err: err})
}

func (t *Table) complete(id string, o Outcome) bool {
	p := t.take(id)
	if p == nil {
		return false
	}
	p.done <- o
	return true
}

// FeedToken passes a stream token to the handler registered for id. It
// returns errUnknownID when nothing is pending for id and errNotStream when
// id is pending as a single-result request.
func (t *Table) FeedToken(id string, tok bridgewire.StreamToken) error {
	t.mu.Lock()
	p := t.pending[id]
	t.mu.Unlock()
	if p == nil {
		return errUnknownID
	}
	if p.onToken == nil {
		return errNotStream
	}
	p.onToken(tok)
	metrics.RecordStreamToken(p.method)
	return nil
}

// Remove drops id without completing it.
func (t *Table) Remove(id string) bool {
	return t.take(id) != nil
}

// RejectAll completes every pending entry with err and returns how many there were.
func (t *Table) RejectAll(err error) int {
	t.mu.Lock()
	all := t.pending
	t.pending = map[string]*pendingReq{}
	metrics.SetPending(0)
	t.mu.Unlock()
	for _, p := range all {
		p.done <- Outcome{Err: err}
	}
	return len(all)
}

// Len returns the number of pending entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Oldest returns the age of the oldest pending entry, or zero when empty.
func (t *Table) Oldest() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var oldest time.Time
	for _, p := range t.pending {
		if oldest.IsZero() || p.created.Before(oldest) {
			oldest = p.created
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return t.now().Sub(oldest)
}

func (t *Table) take(id string) *pendingReq {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.pending[id]
	if p != nil {
		delete(t.pending, id)
		metrics.SetPending(len(t.pending))
	}
	return p
}
