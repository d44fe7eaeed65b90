// Package version allocates monotonic version numbers, writes new design
// states atomically against the session metadata, computes change
// summaries, and applies the retention policy.
package version

import (
	"context"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/wireflow"
	"github.com/deepnoodle-ai/wireflow/slogger"
	"github.com/deepnoodle-ai/wireflow/store"
	"github.com/deepnoodle-ai/wireflow/wireframe"
)

// DefaultRetentionWindow is how many recent versions keep their wireframe
// bodies before compaction.
const DefaultRetentionWindow = 20

// Manager advances session versions. A new version becomes visible only
// after the metadata CAS commits; on CAS failure the state is rolled back,
// so readers never observe an uncommitted version.
type Manager struct {
	store     store.Store
	retention int
	logger    slogger.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetentionWindow overrides the retention window.
func WithRetentionWindow(n int) Option {
	return func(m *Manager) { m.retention = n }
}

// WithLogger sets the logger.
func WithLogger(logger slogger.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager on the given store.
func New(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		retention: DefaultRetentionWindow,
		logger:    slogger.DefaultLogger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateInitial writes version 1 and the initial session metadata. It
// fails with wireflow.ErrConflict if the session already exists.
func (m *Manager) CreateInitial(ctx context.Context, sessionID, userID, initialPrompt string, frame *wireframe.Node) (*wireflow.DesignState, error) {
	now := m.now().UTC()
	meta := &wireflow.SessionMeta{
		SessionID:      sessionID,
		UserID:         userID,
		InitialPrompt:  initialPrompt,
		CurrentVersion: 1,
		Status:         wireflow.StatusActive,
		CreatedAt:      now,
		LastActivity:   now,
	}
	state := &wireflow.DesignState{
		Version:     1,
		Wireframe:   frame,
		ContentHash: frame.Hash(),
		Meta: wireflow.VersionMeta{
			Version:       1,
			ParentVersion: 0,
			Prompt:        initialPrompt,
			EditType:      wireflow.EditTypeModify,
			CreatedAt:     now,
		},
	}
	if err := m.store.PutMetadata(ctx, meta); err != nil {
		return nil, err
	}
	if err := m.store.PutState(ctx, sessionID, state); err != nil {
		// Roll the half-created session back so a retry can start clean.
		if cleanupErr := m.store.ExpireSession(ctx, sessionID); cleanupErr != nil {
			m.logger.Error("failed to roll back initial session",
				"session_id", sessionID, "error", cleanupErr)
		}
		return nil, err
	}
	return state, nil
}

// CreateNext allocates expectedCurrent+1, writes the state, and commits it
// by CAS-advancing the session metadata. On CAS failure the written state
// is deleted and wireflow.ErrConflict is returned. This is the only way
// current_version advances.
func (m *Manager) CreateNext(ctx context.Context, sessionID string, expectedCurrent int, frame *wireframe.Node, editMeta wireflow.VersionMeta) (*wireflow.DesignState, error) {
	newVersion := expectedCurrent + 1
	now := m.now().UTC()

	editMeta.Version = newVersion
	editMeta.ParentVersion = expectedCurrent
	if editMeta.CreatedAt.IsZero() {
		editMeta.CreatedAt = now
	}
	state := &wireflow.DesignState{
		Version:     newVersion,
		Wireframe:   frame,
		ContentHash: frame.Hash(),
		Meta:        editMeta,
	}
	if err := m.store.PutState(ctx, sessionID, state); err != nil {
		return nil, err
	}

	meta, err := m.store.GetMetadata(ctx, sessionID)
	if err != nil {
		m.rollback(ctx, sessionID, newVersion)
		return nil, err
	}
	meta.CurrentVersion = newVersion
	meta.LastActivity = now

	if err := m.store.CompareAndSwapMetadata(ctx, sessionID, expectedCurrent, meta); err != nil {
		m.rollback(ctx, sessionID, newVersion)
		return nil, err
	}
	return state, nil
}

func (m *Manager) rollback(ctx context.Context, sessionID string, version int) {
	if err := m.store.DeleteState(ctx, sessionID, version); err != nil {
		m.logger.Error("failed to roll back uncommitted state",
			"session_id", sessionID, "version", version, "error", err)
	}
}

// Diff computes the change summary between two committed versions. When
// either body has been compacted the summary carries a note instead of
// counts.
func (m *Manager) Diff(ctx context.Context, sessionID string, from, to int) (*wireframe.ChangeSummary, error) {
	older, err := m.store.GetState(ctx, sessionID, from)
	if err != nil {
		return nil, err
	}
	newer, err := m.store.GetState(ctx, sessionID, to)
	if err != nil {
		return nil, err
	}
	if older.Wireframe == nil || newer.Wireframe == nil {
		return &wireframe.ChangeSummary{
			Description: fmt.Sprintf("unavailable: version %d or %d compacted", from, to),
		}, nil
	}
	return wireframe.Diff(older.Wireframe, newer.Wireframe), nil
}

// Compact applies the retention policy: every version outside the newest
// retention window loses its wireframe body, except version 1 and the
// current version, which are always kept intact. Callers must hold the
// per-session lock against writers.
func (m *Manager) Compact(ctx context.Context, sessionID string) (int, error) {
	meta, err := m.store.GetMetadata(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	versions, err := m.store.ListVersions(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(versions) <= m.retention {
		return 0, nil
	}

	keepFrom := versions[len(versions)-m.retention]
	compacted := 0
	for _, v := range versions {
		if v >= keepFrom || v == 1 || v == meta.CurrentVersion {
			continue
		}
		state, err := m.store.GetState(ctx, sessionID, v)
		if err != nil {
			return compacted, err
		}
		if state.Compacted {
			continue
		}
		if err := m.store.MarkCompacted(ctx, sessionID, v); err != nil {
			return compacted, err
		}
		compacted++
	}
	if compacted > 0 {
		m.logger.Debug("compacted versions",
			"session_id", sessionID, "count", compacted, "keep_from", keepFrom)
	}
	return compacted, nil
}

// Metrics derives session metrics from the context ring and metadata.
func (m *Manager) Metrics(ctx context.Context, sessionID string) (*wireflow.SessionMetrics, error) {
	meta, err := m.store.GetMetadata(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ring, err := m.store.ReadContext(ctx, sessionID, wireflow.ContextWindowSize)
	if err != nil {
		return nil, err
	}

	metrics := &wireflow.SessionMetrics{
		SessionID:       sessionID,
		TotalEdits:      meta.CurrentVersion - 1,
		DurationSeconds: meta.LastActivity.Sub(meta.CreatedAt).Seconds(),
		EditTypeCounts:  make(map[wireflow.EditType]int),
	}
	var totalMS int64
	counted := 0
	for _, entry := range ring {
		if entry.ResultVersion <= 1 {
			continue
		}
		metrics.EditTypeCounts[entry.EditType]++
		totalMS += entry.ProcessingMS
		counted++
	}
	if counted > 0 {
		metrics.MeanProcessingMS = float64(totalMS) / float64(counted)
	}
	return metrics, nil
}
