package memory

import (
	"context"
	"sync"
	"time"
)

// Store persists session memory state. Implementations must be safe for
// concurrent use; ordering per session is the caller's job.
type Store interface {
	// Load returns the state for a session and whether it existed.
	Load(ctx context.Context, sessionID string) (State, bool, error)
	Save(ctx context.Context, sessionID string, st State) error
	Delete(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps session state in process. Like RedisStore, a session
// expires ttl after its last save; a zero ttl keeps sessions until deleted.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, sessions: make(map[string]memoryEntry)}
}

func (m *MemoryStore) expired(e memoryEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return State{}, false, nil
	}
	if m.expired(e, m.now()) {
		delete(m.sessions, sessionID)
		return State{}, false, nil
	}
	return clone(e.state), true, nil
}

// Save stores the state and sweeps sessions that have expired.
func (m *MemoryStore) Save(_ context.Context, sessionID string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, e := range m.sessions {
		if m.expired(e, now) {
			delete(m.sessions, id)
		}
	}
	e := memoryEntry{state: clone(st)}
	if m.ttl > 0 {
		e.expiresAt = now.Add(m.ttl)
	}
	m.sessions[sessionID] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func clone(st State) State {
	out := st
	out.Insights = append([]Insight(nil), st.Insights...)
	return out
}
