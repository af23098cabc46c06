package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeanpaul/tutor/internal/logging"
	"github.com/jeanpaul/tutor/internal/metrics"
	"github.com/jeanpaul/tutor/internal/types"
)

// ErrStaleTurn rejects a turn whose order is not after the last
// consolidated turn of its session.
var ErrStaleTurn = errors.New("stale turn")

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Sessions serializes consolidation per session id: one writer per session,
// turns applied in order. Different sessions never wait on each other.
type Sessions struct {
	store        Store
	consolidator *Consolidator
	logger       zerolog.Logger
	metrics      *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*sessionLock
}

func NewSessions(store Store, c *Consolidator, logger zerolog.Logger, m *metrics.Metrics) *Sessions {
	return &Sessions{
		store:        store,
		consolidator: c,
		logger:       logging.Component(logger, "memory"),
		metrics:      m,
		locks:        make(map[string]*sessionLock),
	}
}

// lock acquires the session's writer lock and returns its release func.
func (s *Sessions) lock(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}

// Get returns the session state; an unknown session has the zero state.
func (s *Sessions) Get(ctx context.Context, sessionID string) (State, error) {
	st, _, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return State{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return st, nil
}

// Apply consolidates a turn with an explicit order. Orders at or below the
// last consolidated turn fail with ErrStaleTurn.
func (s *Sessions) Apply(ctx context.Context, sessionID string, turn types.ConversationTurn, insights []string) (State, error) {
	if turn.Order <= 0 {
		return State{}, fmt.Errorf("%w: turn order must be positive", ErrStaleTurn)
	}
	return s.Consolidate(ctx, sessionID, "", turn, insights)
}

// Consolidate folds one turn and caller-supplied insights into the session.
// A zero Order is numbered after the last consolidated turn; any other
// Order must come after it. topic, when non-empty, replaces the session
// topic first.
func (s *Sessions) Consolidate(ctx context.Context, sessionID, topic string, turn types.ConversationTurn, insights []string) (State, error) {
	if strings.TrimSpace(sessionID) == "" {
		return State{}, fmt.Errorf("session id is required")
	}
	unlock := s.lock(sessionID)
	defer unlock()

	prior, _, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return State{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if turn.Order == 0 {
		turn.Order = prior.LastConsolidatedTurn + 1
	}
	if turn.Order <= prior.LastConsolidatedTurn {
		return prior, fmt.Errorf("%w: turn %d, last consolidated %d", ErrStaleTurn, turn.Order, prior.LastConsolidatedTurn)
	}
	if topic != "" {
		prior.Topic = topic
	}
	return s.commit(ctx, sessionID, prior, turn, insights)
}

// Append consolidates turns in the given order, numbering them after the
// last consolidated turn. topic, when non-empty, replaces the session topic.
func (s *Sessions) Append(ctx context.Context, sessionID, topic string, turns ...types.ConversationTurn) (State, error) {
	if strings.TrimSpace(sessionID) == "" {
		return State{}, fmt.Errorf("session id is required")
	}
	unlock := s.lock(sessionID)
	defer unlock()

	st, _, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return State{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if topic != "" {
		st.Topic = topic
	}
	for _, t := range turns {
		t.Order = st.LastConsolidatedTurn + 1
		st = s.consolidator.Consolidate(st, t, nil)
	}
	if err := s.store.Save(ctx, sessionID, st); err != nil {
		return State{}, fmt.Errorf("save session %s: %w", sessionID, err)
	}
	s.observe(sessionID, st, len(turns))
	return st, nil
}

func (s *Sessions) commit(ctx context.Context, sessionID string, prior State, turn types.ConversationTurn, insights []string) (State, error) {
	next := s.consolidator.Consolidate(prior, turn, insights)
	if err := s.store.Save(ctx, sessionID, next); err != nil {
		return State{}, fmt.Errorf("save session %s: %w", sessionID, err)
	}
	s.observe(sessionID, next, 1)
	return next, nil
}

func (s *Sessions) observe(sessionID string, st State, turns int) {
	if s.metrics != nil {
		s.metrics.Consolidations.Add(float64(turns))
	}
	s.logger.Debug().
		Str("session", sessionID).
		Int("turn", st.LastConsolidatedTurn).
		Int("insights", len(st.Insights)).
		Msg("memory consolidated")
}

// End discards a session's state.
func (s *Sessions) End(ctx context.Context, sessionID string) error {
	unlock := s.lock(sessionID)
	defer unlock()
	return s.store.Delete(ctx, sessionID)
}

func (s *Sessions) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
