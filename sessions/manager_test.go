package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deepnoodle-ai/wireflow"
	"github.com/deepnoodle-ai/wireflow/store"
	"github.com/deepnoodle-ai/wireflow/version"
	"github.com/deepnoodle-ai/wireflow/wireframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator returns scripted frames in order, recording every prompt
// it receives. Safe for concurrent use.
type fakeGenerator struct {
	mu      sync.Mutex
	frames  []*wireframe.Node
	err     error
	calls   int
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (*wireframe.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.frames) {
		idx = len(f.frames) - 1
	}
	return f.frames[idx].Clone(), nil
}

func (f *fakeGenerator) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func screen(children ...*wireframe.Node) *wireframe.Node {
	return &wireframe.Node{Type: "frame", ComponentName: "Screen", Children: children}
}

func newTestManager(t *testing.T, gen Generator) (*Manager, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	versions := version.New(s)
	m := New(s, versions, gen)
	return m, s
}

func TestCreateSession(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{
		screen(&wireframe.Node{Type: "button", ComponentName: "Login"}),
	}}
	m, s := newTestManager(t, gen)
	ctx := context.Background()

	result, err := m.CreateSession(ctx, "u1", "a login screen")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Version)
	assert.NotEmpty(t, result.SessionID)
	require.NotNil(t, result.Wireframe)
	assert.Equal(t, "Screen", result.Wireframe.ComponentName)

	// The initial prompt goes to the model framed as a design request.
	assert.Contains(t, gen.lastPrompt(), "a login screen")

	meta, state, err := m.GetSession(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "u1", meta.UserID)
	assert.Equal(t, wireflow.StatusActive, meta.Status)
	assert.Equal(t, 1, state.Version)

	// Session creation seeds the context ring with an implicit entry.
	ring, err := s.ReadContext(ctx, result.SessionID, wireflow.ContextWindowSize)
	require.NoError(t, err)
	require.Len(t, ring, 1)
	assert.Equal(t, 1, ring[0].ResultVersion)
	assert.Equal(t, "a login screen", ring[0].Prompt)

	created, err := s.GetCounter(ctx, store.CounterBucket("sessions_created", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created)
}

func TestCreateSessionGeneratorFailure(t *testing.T) {
	gen := &fakeGenerator{err: wireflow.ErrModelFailure}
	m, _ := newTestManager(t, gen)

	_, err := m.CreateSession(context.Background(), "", "p")
	assert.ErrorIs(t, err, wireflow.ErrModelFailure)
}

func TestApplyEdit(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{
		screen(&wireframe.Node{Type: "button", ComponentName: "Login", Props: map[string]any{"color": "gray"}}),
		screen(&wireframe.Node{Type: "button", ComponentName: "Login", Props: map[string]any{"color": "blue"}}),
	}}
	m, s := newTestManager(t, gen)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "u1", "a login screen")
	require.NoError(t, err)

	result, err := m.ApplyEdit(ctx, created.SessionID, "make the button blue")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Version)
	assert.False(t, result.NeedsClarification())
	require.NotNil(t, result.Summary)
	assert.Equal(t, 1, result.Summary.NodesModified)
	assert.Contains(t, result.Summary.ChangedProps, "color")

	// The model was handed the current document, the resolved target, and
	// the instruction verbatim.
	built := gen.lastPrompt()
	assert.Contains(t, built, "Edit instruction: make the button blue")
	assert.Contains(t, built, "Screen/Login")
	assert.Contains(t, built, `"componentName":"Screen"`)

	ring, err := s.ReadContext(ctx, created.SessionID, wireflow.ContextWindowSize)
	require.NoError(t, err)
	require.Len(t, ring, 2)
	assert.Equal(t, 2, ring[1].ResultVersion)
	assert.Equal(t, wireflow.EditTypeStyle, ring[1].EditType)

	applied, err := s.GetCounter(ctx, store.CounterBucket("edits_applied", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), applied)
}

func TestApplyEditPronounFollowsLastEdit(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{
		screen(&wireframe.Node{Type: "text", ComponentName: "Title"}),
		screen(
			&wireframe.Node{Type: "text", ComponentName: "Title"},
			&wireframe.Node{Type: "button", ComponentName: "CTA"},
		),
		screen(
			&wireframe.Node{Type: "text", ComponentName: "Title"},
			&wireframe.Node{Type: "button", ComponentName: "CTA", Props: map[string]any{"color": "green"}},
		),
	}}
	m, _ := newTestManager(t, gen)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "", "a landing page")
	require.NoError(t, err)

	second, err := m.ApplyEdit(ctx, created.SessionID, "add a call to action button")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	third, err := m.ApplyEdit(ctx, created.SessionID, "make it green")
	require.NoError(t, err)
	assert.Equal(t, 3, third.Version)

	// "it" resolved to the add edit's target, not the whole document.
	assert.Contains(t, gen.lastPrompt(), "refers to: Screen")
}

func TestApplyEditAmbiguousPronounClarifies(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{
		screen(
			&wireframe.Node{Type: "navigation", ComponentName: "Header"},
			&wireframe.Node{Type: "card", ComponentName: "Hero"},
		),
	}}
	m, s := newTestManager(t, gen)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "", "a landing page")
	require.NoError(t, err)
	callsAfterCreate := gen.calls

	result, err := m.ApplyEdit(ctx, created.SessionID, "remove it")
	require.NoError(t, err)
	require.True(t, result.NeedsClarification())
	assert.Zero(t, result.Version)
	assert.Nil(t, result.Wireframe)
	assert.NotEmpty(t, result.Clarification)
	assert.LessOrEqual(t, len(result.Clarification), 5)

	// The model is never invoked and no version is created.
	assert.Equal(t, callsAfterCreate, gen.calls)
	meta, err := s.GetMetadata(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.CurrentVersion)

	clarified, err := s.GetCounter(ctx, store.CounterBucket("clarifications", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), clarified)
}

func TestApplyEditUnknownSession(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{screen()}}
	m, _ := newTestManager(t, gen)

	_, err := m.ApplyEdit(context.Background(), "nope", "add a footer")
	assert.ErrorIs(t, err, wireflow.ErrNotFound)
}

func TestApplyEditOnCompletedSession(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{screen()}}
	m, _ := newTestManager(t, gen)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "", "p")
	require.NoError(t, err)
	require.NoError(t, m.CloseSession(ctx, created.SessionID, nil))

	_, err = m.ApplyEdit(ctx, created.SessionID, "add a footer")
	assert.ErrorIs(t, err, wireflow.ErrConflict)
}

func TestApplyEditGeneratorFailureCountsAsFailed(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{screen()}}
	m, s := newTestManager(t, gen)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "", "p")
	require.NoError(t, err)

	gen.mu.Lock()
	gen.err = wireflow.ErrModelFailure
	gen.mu.Unlock()

	_, err = m.ApplyEdit(ctx, created.SessionID, "add a footer")
	require.ErrorIs(t, err, wireflow.ErrModelFailure)

	failed, err := s.GetCounter(ctx, store.CounterBucket("edits_failed", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	meta, err := s.GetMetadata(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.CurrentVersion, "a failed edit leaves the session untouched")
}

func TestApplyEditQuarantinesOnMissingCurrentState(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{screen()}}
	m, s := newTestManager(t, gen)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "", "p")
	require.NoError(t, err)

	// Simulate a torn write: the metadata points at a state that is gone.
	require.NoError(t, s.DeleteState(ctx, created.SessionID, 1))

	_, err = m.ApplyEdit(ctx, created.SessionID, "add a footer")
	require.ErrorIs(t, err, wireflow.ErrIntegrity)

	// Subsequent writes are rejected outright.
	_, err = m.ApplyEdit(ctx, created.SessionID, "add a footer")
	assert.ErrorIs(t, err, wireflow.ErrQuarantined)

	// Reads remain permitted.
	meta, err := s.GetMetadata(ctx, created.SessionID)
	require.NoError(t, err)
	assert.True(t, meta.Quarantined)
}

func TestCloseSessionRejectedWhenQuarantined(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{screen()}}
	m, s := newTestManager(t, gen)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "", "p")
	require.NoError(t, err)

	require.NoError(t, s.DeleteState(ctx, created.SessionID, 1))
	_, err = m.ApplyEdit(ctx, created.SessionID, "add a footer")
	require.ErrorIs(t, err, wireflow.ErrIntegrity)

	err = m.CloseSession(ctx, created.SessionID, nil)
	assert.ErrorIs(t, err, wireflow.ErrQuarantined)

	meta, err := s.GetMetadata(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, wireflow.StatusActive, meta.Status, "close must not advance a quarantined session")
}

func TestReadsIgnoreUncommittedVersions(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{screen()}}
	m, s := newTestManager(t, gen)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "", "p")
	require.NoError(t, err)

	// A state above current_version sits in the store mid-commit: written,
	// but the metadata CAS has not advanced yet.
	frame := screen(&wireframe.Node{Type: "button", ComponentName: "Pending"})
	require.NoError(t, s.PutState(ctx, created.SessionID, &wireflow.DesignState{
		Version:     2,
		Wireframe:   frame,
		ContentHash: frame.Hash(),
		Meta:        wireflow.VersionMeta{Version: 2, ParentVersion: 1},
	}))

	history, err := m.GetHistory(ctx, created.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Version)

	_, err = m.GetVersion(ctx, created.SessionID, 2)
	assert.ErrorIs(t, err, wireflow.ErrNotFound)
}

func TestApplyEditsAreSerializedPerSession(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{screen()}}
	m, s := newTestManager(t, gen)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "", "p")
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.ApplyEdit(ctx, created.SessionID, fmt.Sprintf("add footer %d", i))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "edit %d", i)
	}

	meta, err := s.GetMetadata(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, workers+1, meta.CurrentVersion)

	versions, err := s.ListVersions(ctx, created.SessionID)
	require.NoError(t, err)
	require.Len(t, versions, workers+1)
	for i, v := range versions {
		assert.Equal(t, i+1, v, "versions are gap-free")
	}
}

func TestGetHistory(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{
		screen(&wireframe.Node{Type: "text", ComponentName: "Title"}),
		screen(
			&wireframe.Node{Type: "text", ComponentName: "Title"},
			&wireframe.Node{Type: "button", ComponentName: "CTA"},
		),
	}}
	m, _ := newTestManager(t, gen)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "", "a landing page")
	require.NoError(t, err)
	_, err = m.ApplyEdit(ctx, created.SessionID, "add a call to action button")
	require.NoError(t, err)

	entries, err := m.GetHistory(ctx, created.SessionID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 1, entries[0].Version)
	assert.Nil(t, entries[0].Summary, "version 1 has no parent to diff against")
	assert.Equal(t, 2, entries[1].Version)
	require.NotNil(t, entries[1].Summary)
	assert.Equal(t, 1, entries[1].Summary.NodesAdded)
	assert.Equal(t, wireflow.EditTypeAdd, entries[1].Meta.EditType)
}

func TestGetHistoryUnknownSession(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{screen()}}
	m, _ := newTestManager(t, gen)
	_, err := m.GetHistory(context.Background(), "nope")
	assert.ErrorIs(t, err, wireflow.ErrNotFound)
}

func TestCloseSession(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{screen()}}
	m, s := newTestManager(t, gen)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "u1", "p")
	require.NoError(t, err)

	score := 0.9
	require.NoError(t, m.CloseSession(ctx, created.SessionID, &score))

	meta, err := s.GetMetadata(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, wireflow.StatusCompleted, meta.Status)
	require.NotNil(t, meta.Satisfaction)
	assert.Equal(t, 0.9, *meta.Satisfaction)
}

func TestListUserSessions(t *testing.T) {
	gen := &fakeGenerator{frames: []*wireframe.Node{screen()}}
	m, _ := newTestManager(t, gen)
	ctx := context.Background()

	a, err := m.CreateSession(ctx, "u1", "p")
	require.NoError(t, err)
	b, err := m.CreateSession(ctx, "u1", "p")
	require.NoError(t, err)
	_, err = m.CreateSession(ctx, "u2", "p")
	require.NoError(t, err)

	ids, err := m.ListUserSessions(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.SessionID, b.SessionID}, ids)
}

func TestApplyEditBudgetMapsToDeadline(t *testing.T) {
	slow := &slowGenerator{delay: 100 * time.Millisecond, frame: screen()}
	s := store.NewMemoryStore()
	m := New(s, version.New(s), slow, WithEditBudget(20*time.Millisecond))
	ctx := context.Background()

	fast := &fakeGenerator{frames: []*wireframe.Node{screen()}}
	setup := New(s, version.New(s), fast)
	created, err := setup.CreateSession(ctx, "", "p")
	require.NoError(t, err)

	_, err = m.ApplyEdit(ctx, created.SessionID, "add a footer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, wireflow.ErrDeadline) || errors.Is(err, context.DeadlineExceeded),
		"got %v", err)
}

type slowGenerator struct {
	delay time.Duration
	frame *wireframe.Node
}

func (g *slowGenerator) Generate(ctx context.Context, prompt string) (*wireframe.Node, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(g.delay):
		return g.frame.Clone(), nil
	}
}
