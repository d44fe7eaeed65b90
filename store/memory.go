package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/deepnoodle-ai/wireflow"
)

// MemoryStore is an in-memory Store implementation guarded by a single
// RWMutex. Suitable for development, tests, and single-instance
// deployments; data is lost when the process exits.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
	users    map[string][]string
	counters map[string]int64
	ttl      time.Duration
	now      func() time.Time
}

type sessionRecord struct {
	meta      *wireflow.SessionMeta
	states    map[int]*wireflow.DesignState
	ring      []*wireflow.ContextEntry
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL sets the session time-to-live. Zero disables expiry.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*sessionRecord),
		users:    make(map[string][]string),
		counters: make(map[string]int64),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) record(sessionID string) (*sessionRecord, error) {
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, wireflow.ErrNotFound)
	}
	return rec, nil
}

func (s *MemoryStore) touch(rec *sessionRecord) {
	if s.ttl > 0 {
		rec.expiresAt = s.now().Add(s.ttl)
	}
}

func (s *MemoryStore) PutState(ctx context.Context, sessionID string, state *wireflow.DesignState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(sessionID)
	if err != nil {
		return err
	}
	if _, exists := rec.states[state.Version]; exists {
		return fmt.Errorf("state v%d already exists: %w", state.Version, wireflow.ErrConflict)
	}
	rec.states[state.Version] = cloneState(state)
	s.touch(rec)
	return nil
}

func (s *MemoryStore) GetState(ctx context.Context, sessionID string, version int) (*wireflow.DesignState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	if version == CurrentVersion {
		version = rec.meta.CurrentVersion
	}
	state, ok := rec.states[version]
	if !ok {
		return nil, fmt.Errorf("state v%d: %w", version, wireflow.ErrNotFound)
	}
	if state.Wireframe != nil && state.ContentHash != "" && state.Wireframe.Hash() != state.ContentHash {
		return nil, fmt.Errorf("state v%d content hash mismatch: %w", version, wireflow.ErrIntegrity)
	}
	return cloneState(state), nil
}

func (s *MemoryStore) DeleteState(ctx context.Context, sessionID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(sessionID)
	if err != nil {
		return err
	}
	delete(rec.states, version)
	return nil
}

func (s *MemoryStore) MarkCompacted(ctx context.Context, sessionID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(sessionID)
	if err != nil {
		return err
	}
	state, ok := rec.states[version]
	if !ok {
		return fmt.Errorf("state v%d: %w", version, wireflow.ErrNotFound)
	}
	state.Wireframe = nil
	state.Compacted = true
	return nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, sessionID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, len(rec.states))
	for v := range rec.states {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

func (s *MemoryStore) GetMetadata(ctx context.Context, sessionID string) (*wireflow.SessionMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	return rec.meta.Copy(), nil
}

func (s *MemoryStore) PutMetadata(ctx context.Context, meta *wireflow.SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[meta.SessionID]; exists {
		return fmt.Errorf("session %q already exists: %w", meta.SessionID, wireflow.ErrConflict)
	}
	rec := &sessionRecord{
		meta:   meta.Copy(),
		states: make(map[int]*wireflow.DesignState),
	}
	s.sessions[meta.SessionID] = rec
	s.touch(rec)
	if meta.UserID != "" {
		s.users[meta.UserID] = append(s.users[meta.UserID], meta.SessionID)
	}
	return nil
}

func (s *MemoryStore) CompareAndSwapMetadata(ctx context.Context, sessionID string, expectedVersion int, meta *wireflow.SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(sessionID)
	if err != nil {
		return err
	}
	if rec.meta.CurrentVersion != expectedVersion {
		return fmt.Errorf("current version is %d, expected %d: %w",
			rec.meta.CurrentVersion, expectedVersion, wireflow.ErrConflict)
	}
	rec.meta = meta.Copy()
	s.touch(rec)
	return nil
}

func (s *MemoryStore) AppendContext(ctx context.Context, sessionID string, entry *wireflow.ContextEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(sessionID)
	if err != nil {
		return err
	}
	cp := *entry
	rec.ring = append(rec.ring, &cp)
	if len(rec.ring) > wireflow.ContextWindowSize {
		rec.ring = rec.ring[len(rec.ring)-wireflow.ContextWindowSize:]
	}
	s.touch(rec)
	return nil
}

func (s *MemoryStore) ReadContext(ctx context.Context, sessionID string, n int) ([]*wireflow.ContextEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > wireflow.ContextWindowSize {
		n = wireflow.ContextWindowSize
	}
	start := len(rec.ring) - n
	if start < 0 {
		start = 0
	}
	out := make([]*wireflow.ContextEntry, 0, len(rec.ring)-start)
	for _, e := range rec.ring[start:] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) IncrementCounter(ctx context.Context, bucket string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[bucket] += delta
	return nil
}

func (s *MemoryStore) GetCounter(ctx context.Context, bucket string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[bucket], nil
}

func (s *MemoryStore) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.users[userID]))
	for _, id := range s.users[userID] {
		if _, ok := s.sessions[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, rec := range s.sessions {
		if s.ttl > 0 && !rec.expiresAt.IsZero() && now.After(rec.expiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) ExpireSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) TouchSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(sessionID)
	if err != nil {
		return err
	}
	s.touch(rec)
	return nil
}

func cloneState(state *wireflow.DesignState) *wireflow.DesignState {
	cp := *state
	cp.Wireframe = state.Wireframe.Clone()
	return &cp
}
