package sessionstate

import (
	"sync"
	"time"

	"github.com/gaspardpetit/plannerbridge/internal/bridge"
)

// State is the published view of the bridge session.
type State struct {
	Status        string    `json:"status"`
	Reconnect     string    `json:"reconnect,omitempty"`
	Endpoint      string    `json:"endpoint,omitempty"`
	Attempt       int       `json:"attempt"`
	MaxAttempts   int       `json:"max_attempts,omitempty"`
	Pending       int       `json:"pending"`
	OldestPending string    `json:"oldest_pending,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	ConnectedAt   time.Time `json:"connected_at,omitzero"`
	UpdatedAt     time.Time `json:"updated_at"`
	ClientType    string    `json:"client_type,omitempty"`
	ClientVersion string    `json:"client_version,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
}

// StatusNotReady is reported before anything was published.
const StatusNotReady = "not_ready"

// Connected reports whether the session was connected when published.
func (s State) Connected() bool {
	return s.Status == string(bridge.StateConnected)
}

// FromSnapshot converts a client snapshot taken at now.
func FromSnapshot(s bridge.Snapshot, now time.Time) State {
	st := State{
		Status:        string(s.State),
		Reconnect:     string(s.Reconnect),
		Endpoint:      s.URL,
		Attempt:       s.Attempt,
		MaxAttempts:   s.MaxAttempts,
		Pending:       s.Pending,
		LastError:     s.LastError,
		ConnectedAt:   s.ConnectedSince,
		UpdatedAt:     now,
		ClientType:    s.ClientType,
		ClientVersion: s.ClientVersion,
		ClientID:      s.ClientID,
	}
	if s.OldestPending > 0 {
		st.OldestPending = s.OldestPending.Round(time.Millisecond).String()
	}
	return st
}

// Store persists the latest State.
type Store interface {
	Load() State
	Store(State)
}

type memoryStore struct {
	mu sync.RWMutex
	st State
}

// NewMemoryStore returns a process-local Store.
func NewMemoryStore() Store {
	return &memoryStore{st: State{Status: StatusNotReady}}
}

func (m *memoryStore) Load() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st
}

func (m *memoryStore) Store(s State) {
	m.mu.Lock()
	m.st = s
	m.mu.Unlock()
}
