// Package sessions is the public entry point of the engine. The Manager
// orchestrates session creation, context-aware edits, history reads, and
// close, serializing write paths with a per-session advisory lock and
// translating component failures into the engine's error taxonomy.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/wireflow"
	"github.com/deepnoodle-ai/wireflow/internal/keylock"
	"github.com/deepnoodle-ai/wireflow/internal/random"
	"github.com/deepnoodle-ai/wireflow/prompt"
	"github.com/deepnoodle-ai/wireflow/slogger"
	"github.com/deepnoodle-ai/wireflow/store"
	"github.com/deepnoodle-ai/wireflow/version"
	"github.com/deepnoodle-ai/wireflow/wireframe"
	"github.com/google/uuid"
)

const (
	DefaultEditBudget  = 5 * time.Second
	DefaultLockTimeout = 30 * time.Second

	// createRetries bounds session id collision retries. Collisions on
	// 128-bit random ids are vanishingly rare; the loop exists so one is
	// a retry, not a failure.
	createRetries = 3
)

// Generator abstracts the model adapter for the manager.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*wireframe.Node, error)
}

// Manager coordinates the edit pipeline. Safe for concurrent use; edits
// within one session are serialized, distinct sessions run in parallel.
type Manager struct {
	store       store.Store
	versions    *version.Manager
	generator   Generator
	locks       *keylock.KeyLock
	editBudget  time.Duration
	lockTimeout time.Duration
	logger      slogger.Logger
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithEditBudget sets the end-to-end deadline for ApplyEdit.
func WithEditBudget(d time.Duration) Option {
	return func(m *Manager) { m.editBudget = d }
}

// WithLockTimeout sets the per-session lock acquisition timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) { m.lockTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger slogger.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLocks shares a lock set with other components (the janitor), so
// compaction and edits on the same session exclude each other.
func WithLocks(locks *keylock.KeyLock) Option {
	return func(m *Manager) { m.locks = locks }
}

// Locks exposes the per-session lock set for sharing with the janitor.
func (m *Manager) Locks() *keylock.KeyLock {
	return m.locks
}

// New creates a Manager.
func New(s store.Store, versions *version.Manager, gen Generator, opts ...Option) *Manager {
	m := &Manager{
		store:       s,
		versions:    versions,
		generator:   gen,
		locks:       keylock.New(),
		editBudget:  DefaultEditBudget,
		lockTimeout: DefaultLockTimeout,
		logger:      slogger.DefaultLogger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession generates the initial wireframe from the prompt and
// persists it as version 1. userID may be empty for anonymous sessions.
func (m *Manager) CreateSession(ctx context.Context, userID, userPrompt string) (*wireflow.EditResult, error) {
	start := m.now()
	frame, err := m.generator.Generate(ctx, prompt.BuildInitial(userPrompt))
	if err != nil {
		return nil, err
	}

	var state *wireflow.DesignState
	var sessionID string
	for attempt := 0; attempt < createRetries; attempt++ {
		sessionID = random.SessionID()
		state, err = m.versions.CreateInitial(ctx, sessionID, userID, userPrompt, frame)
		if err == nil {
			break
		}
		if !errors.Is(err, wireflow.ErrConflict) {
			return nil, err
		}
		m.logger.Warn("session id collision, retrying", "session_id", sessionID)
	}
	if err != nil {
		return nil, err
	}

	// Post-commit bookkeeping runs even if the caller gave up waiting.
	bgCtx := context.WithoutCancel(ctx)
	m.appendContext(bgCtx, sessionID, &wireflow.ContextEntry{
		ID:             uuid.NewString(),
		Prompt:         userPrompt,
		EditType:       wireflow.EditTypeModify,
		TargetElements: []string{frame.Label()},
		ResultVersion:  1,
		ProcessingMS:   m.now().Sub(start).Milliseconds(),
		Timestamp:      m.now().UTC(),
	})
	m.count(bgCtx, "sessions_created", 1)

	m.logger.Info("session created",
		"session_id", sessionID,
		"user_id", userID,
		"duration", m.now().Sub(start))

	return &wireflow.EditResult{
		SessionID:    sessionID,
		Version:      1,
		Wireframe:    state.Wireframe,
		ProcessingMS: m.now().Sub(start).Milliseconds(),
	}, nil
}

// ApplyEdit runs the full pipeline for one edit: lock, load, classify,
// resolve, build, generate, commit, record. Within a session edits are
// totally ordered; responses carry strictly monotonic, gap-free versions.
func (m *Manager) ApplyEdit(ctx context.Context, sessionID, editPrompt string) (*wireflow.EditResult, error) {
	start := m.now()
	ctx, cancel := context.WithTimeout(ctx, m.editBudget)
	defer cancel()

	release, err := m.locks.Acquire(ctx, sessionID, m.lockTimeout)
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			return nil, fmt.Errorf("session %q: %w", sessionID, wireflow.ErrBusy)
		}
		return nil, m.translateBudget(err)
	}
	defer release()

	result, err := m.applyEditLocked(ctx, sessionID, editPrompt, start)
	if err != nil {
		m.count(context.WithoutCancel(ctx), "edits_failed", 1)
		return nil, err
	}
	return result, nil
}

func (m *Manager) applyEditLocked(ctx context.Context, sessionID, editPrompt string, start time.Time) (*wireflow.EditResult, error) {
	meta, err := m.store.GetMetadata(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if meta.Quarantined {
		return nil, fmt.Errorf("session %q: %w", sessionID, wireflow.ErrQuarantined)
	}
	if meta.Status != wireflow.StatusActive {
		return nil, fmt.Errorf("session %q is %s: %w", sessionID, meta.Status, wireflow.ErrConflict)
	}

	current, err := m.store.GetState(ctx, sessionID, store.CurrentVersion)
	if err != nil {
		if errors.Is(err, wireflow.ErrNotFound) {
			// current_version points at a missing state. Quarantine the
			// session: reads stay permitted, writes are rejected.
			m.quarantine(ctx, sessionID, meta)
			return nil, fmt.Errorf("session %q current state missing: %w", sessionID, wireflow.ErrIntegrity)
		}
		return nil, err
	}

	ring, err := m.store.ReadContext(ctx, sessionID, wireflow.ContextWindowSize)
	if err != nil {
		return nil, err
	}

	editType := prompt.Classify(editPrompt)
	resolution := prompt.Resolve(editPrompt, editType, current.Wireframe, ring)
	if resolution.NeedsClarification() {
		m.count(context.WithoutCancel(ctx), "clarifications", 1)
		m.logger.Debug("edit needs clarification",
			"session_id", sessionID, "candidates", len(resolution.Candidates))
		return &wireflow.EditResult{
			SessionID:     sessionID,
			Clarification: resolution.Candidates,
			ProcessingMS:  m.now().Sub(start).Milliseconds(),
		}, nil
	}

	built := prompt.Build(editPrompt, current.Wireframe, ring, resolution.Targets)
	frame, err := m.generator.Generate(ctx, built)
	if err != nil {
		return nil, m.translateBudget(err)
	}

	editMeta := wireflow.VersionMeta{
		Prompt:       editPrompt,
		EditType:     editType,
		ProcessingMS: m.now().Sub(start).Milliseconds(),
	}

	state, err := m.versions.CreateNext(ctx, sessionID, meta.CurrentVersion, frame, editMeta)
	if errors.Is(err, wireflow.ErrConflict) {
		// Another writer advanced the session despite the lock (e.g. a
		// second instance sharing the store). Retry once on fresh state.
		meta, err = m.store.GetMetadata(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		state, err = m.versions.CreateNext(ctx, sessionID, meta.CurrentVersion, frame, editMeta)
	}
	if err != nil {
		return nil, m.translateBudget(err)
	}

	// The version is committed: cancellation beyond this point must not
	// turn the response into a failure.
	bgCtx := context.WithoutCancel(ctx)
	m.appendContext(bgCtx, sessionID, &wireflow.ContextEntry{
		ID:             uuid.NewString(),
		Prompt:         editPrompt,
		EditType:       editType,
		TargetElements: resolution.Targets,
		ResultVersion:  state.Version,
		ProcessingMS:   m.now().Sub(start).Milliseconds(),
		Timestamp:      m.now().UTC(),
	})
	m.count(bgCtx, "edits_applied", 1)

	summary, diffErr := m.versions.Diff(bgCtx, sessionID, state.Meta.ParentVersion, state.Version)
	if diffErr != nil {
		m.logger.Warn("diff failed", "session_id", sessionID, "error", diffErr)
		summary = &wireframe.ChangeSummary{Description: "unavailable"}
	}

	m.logger.Info("edit applied",
		"session_id", sessionID,
		"version", state.Version,
		"edit_type", editType,
		"duration", m.now().Sub(start))

	return &wireflow.EditResult{
		SessionID:    sessionID,
		Version:      state.Version,
		Wireframe:    state.Wireframe,
		Summary:      summary,
		ProcessingMS: m.now().Sub(start).Milliseconds(),
	}, nil
}

// translateBudget maps a blown edit budget onto the engine taxonomy.
func (m *Manager) translateBudget(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", wireflow.ErrDeadline, err)
	}
	return err
}

func (m *Manager) quarantine(ctx context.Context, sessionID string, meta *wireflow.SessionMeta) {
	meta = meta.Copy()
	meta.Quarantined = true
	if err := m.store.CompareAndSwapMetadata(ctx, sessionID, meta.CurrentVersion, meta); err != nil {
		m.logger.Error("failed to quarantine session", "session_id", sessionID, "error", err)
		return
	}
	m.logger.Error("session quarantined", "session_id", sessionID, "current_version", meta.CurrentVersion)
}

// GetHistory returns one entry per stored version, oldest first, with a
// change summary computed against each version's parent. Read-only; takes
// no lock.
func (m *Manager) GetHistory(ctx context.Context, sessionID string) ([]*wireflow.HistoryEntry, error) {
	meta, err := m.store.GetMetadata(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	versions, err := m.store.ListVersions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("session %q: %w", sessionID, wireflow.ErrNotFound)
	}
	entries := make([]*wireflow.HistoryEntry, 0, len(versions))
	for _, v := range versions {
		// A state above current_version is a pending write that has not
		// CAS-committed yet; it is not part of the history.
		if v > meta.CurrentVersion {
			continue
		}
		state, err := m.store.GetState(ctx, sessionID, v)
		if err != nil {
			return nil, err
		}
		entry := &wireflow.HistoryEntry{
			Version:   v,
			Meta:      state.Meta,
			Compacted: state.Compacted,
		}
		if state.Meta.ParentVersion > 0 {
			summary, err := m.versions.Diff(ctx, sessionID, state.Meta.ParentVersion, v)
			if err == nil {
				entry.Summary = summary
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetVersion returns one version of the design state. A compacted version
// comes back with Compacted set and no wireframe body; the transport maps
// that to 410 Gone. Versions above current_version are uncommitted and
// read as not found.
func (m *Manager) GetVersion(ctx context.Context, sessionID string, v int) (*wireflow.DesignState, error) {
	meta, err := m.store.GetMetadata(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if v > meta.CurrentVersion {
		return nil, fmt.Errorf("version %d: %w", v, wireflow.ErrNotFound)
	}
	return m.store.GetState(ctx, sessionID, v)
}

// GetSession returns the session metadata together with the current state.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*wireflow.SessionMeta, *wireflow.DesignState, error) {
	meta, err := m.store.GetMetadata(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	state, err := m.store.GetState(ctx, sessionID, store.CurrentVersion)
	if err != nil {
		return nil, nil, err
	}
	if err := m.store.TouchSession(ctx, sessionID); err != nil {
		m.logger.Warn("failed to refresh session ttl", "session_id", sessionID, "error", err)
	}
	return meta, state, nil
}

// ListUserSessions returns the ids of sessions created by a user.
func (m *Manager) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	return m.store.ListUserSessions(ctx, userID)
}

// Metrics derives session metrics on demand.
func (m *Manager) Metrics(ctx context.Context, sessionID string) (*wireflow.SessionMetrics, error) {
	return m.versions.Metrics(ctx, sessionID)
}

// CloseSession marks the session completed; the janitor reclaims it at
// TTL. satisfaction is an optional externally supplied score.
func (m *Manager) CloseSession(ctx context.Context, sessionID string, satisfaction *float64) error {
	release, err := m.locks.Acquire(ctx, sessionID, m.lockTimeout)
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			return fmt.Errorf("session %q: %w", sessionID, wireflow.ErrBusy)
		}
		return err
	}
	defer release()

	meta, err := m.store.GetMetadata(ctx, sessionID)
	if err != nil {
		return err
	}
	if meta.Quarantined {
		return fmt.Errorf("session %q: %w", sessionID, wireflow.ErrQuarantined)
	}
	meta.Status = wireflow.StatusCompleted
	meta.LastActivity = m.now().UTC()
	if satisfaction != nil {
		meta.Satisfaction = satisfaction
	}
	return m.store.CompareAndSwapMetadata(ctx, sessionID, meta.CurrentVersion, meta)
}

func (m *Manager) appendContext(ctx context.Context, sessionID string, entry *wireflow.ContextEntry) {
	if err := m.store.AppendContext(ctx, sessionID, entry); err != nil {
		m.logger.Warn("failed to append context entry",
			"session_id", sessionID, "error", err)
	}
}

func (m *Manager) count(ctx context.Context, name string, delta int64) {
	bucket := store.CounterBucket(name, m.now())
	if err := m.store.IncrementCounter(ctx, bucket, delta); err != nil {
		m.logger.Debug("counter increment failed", "bucket", bucket, "error", err)
	}
}
