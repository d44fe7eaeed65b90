package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/deepnoodle-ai/wireflow"
	"github.com/deepnoodle-ai/wireflow/wireframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(name string) *wireframe.Node {
	return &wireframe.Node{
		Type:          "frame",
		ComponentName: name,
		Children:      []*wireframe.Node{{Type: "text"}},
	}
}

func testState(version int, frame *wireframe.Node) *wireflow.DesignState {
	return &wireflow.DesignState{
		Version:     version,
		Wireframe:   frame,
		ContentHash: frame.Hash(),
		Meta: wireflow.VersionMeta{
			Version:       version,
			ParentVersion: version - 1,
			EditType:      wireflow.EditTypeModify,
		},
	}
}

func newSession(t *testing.T, s Store, sessionID, userID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.PutMetadata(ctx, &wireflow.SessionMeta{
		SessionID:      sessionID,
		UserID:         userID,
		CurrentVersion: 1,
		Status:         wireflow.StatusActive,
	}))
	require.NoError(t, s.PutState(ctx, sessionID, testState(1, testFrame("Initial"))))
}

func TestMemoryStorePutMetadataIsCreateOnly(t *testing.T) {
	s := NewMemoryStore()
	newSession(t, s, "s1", "u1")

	err := s.PutMetadata(context.Background(), &wireflow.SessionMeta{SessionID: "s1"})
	assert.ErrorIs(t, err, wireflow.ErrConflict)
}

func TestMemoryStorePutStateRejectsDuplicateVersion(t *testing.T) {
	s := NewMemoryStore()
	newSession(t, s, "s1", "")

	err := s.PutState(context.Background(), "s1", testState(1, testFrame("Again")))
	assert.ErrorIs(t, err, wireflow.ErrConflict)
}

func TestMemoryStoreGetStateCurrentVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newSession(t, s, "s1", "")

	require.NoError(t, s.PutState(ctx, "s1", testState(2, testFrame("Second"))))
	meta, err := s.GetMetadata(ctx, "s1")
	require.NoError(t, err)
	meta.CurrentVersion = 2
	require.NoError(t, s.CompareAndSwapMetadata(ctx, "s1", 1, meta))

	state, err := s.GetState(ctx, "s1", CurrentVersion)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Version)
	assert.Equal(t, "Second", state.Wireframe.ComponentName)

	first, err := s.GetState(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, "Initial", first.Wireframe.ComponentName)
}

func TestMemoryStoreGetStateVerifiesHash(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newSession(t, s, "s1", "")

	corrupt := testState(2, testFrame("Second"))
	corrupt.ContentHash = "deadbeef"
	require.NoError(t, s.PutState(ctx, "s1", corrupt))

	_, err := s.GetState(ctx, "s1", 2)
	assert.ErrorIs(t, err, wireflow.ErrIntegrity)
}

func TestMemoryStoreGetStateClones(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newSession(t, s, "s1", "")

	state, err := s.GetState(ctx, "s1", 1)
	require.NoError(t, err)
	state.Wireframe.ComponentName = "Mutated"

	again, err := s.GetState(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, "Initial", again.Wireframe.ComponentName)
}

func TestMemoryStoreCompareAndSwapMetadata(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newSession(t, s, "s1", "")

	meta, err := s.GetMetadata(ctx, "s1")
	require.NoError(t, err)
	meta.CurrentVersion = 2

	err = s.CompareAndSwapMetadata(ctx, "s1", 99, meta)
	assert.ErrorIs(t, err, wireflow.ErrConflict)

	require.NoError(t, s.CompareAndSwapMetadata(ctx, "s1", 1, meta))
	got, err := s.GetMetadata(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentVersion)
}

func TestMemoryStoreMarkCompacted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newSession(t, s, "s1", "")

	require.NoError(t, s.MarkCompacted(ctx, "s1", 1))
	state, err := s.GetState(ctx, "s1", 1)
	require.NoError(t, err)
	assert.True(t, state.Compacted)
	assert.Nil(t, state.Wireframe)
	assert.Equal(t, wireflow.EditTypeModify, state.Meta.EditType, "metadata survives compaction")
}

func TestMemoryStoreContextRingCap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newSession(t, s, "s1", "")

	for i := 1; i <= wireflow.ContextWindowSize+3; i++ {
		require.NoError(t, s.AppendContext(ctx, "s1", &wireflow.ContextEntry{
			ID:            fmt.Sprintf("e%d", i),
			ResultVersion: i,
		}))
	}

	ring, err := s.ReadContext(ctx, "s1", wireflow.ContextWindowSize)
	require.NoError(t, err)
	require.Len(t, ring, wireflow.ContextWindowSize)
	assert.Equal(t, 4, ring[0].ResultVersion, "oldest entries are evicted")
	assert.Equal(t, 13, ring[len(ring)-1].ResultVersion, "newest last")

	few, err := s.ReadContext(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, few, 3)
	assert.Equal(t, 11, few[0].ResultVersion)
}

func TestMemoryStoreListVersions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newSession(t, s, "s1", "")
	require.NoError(t, s.PutState(ctx, "s1", testState(3, testFrame("Third"))))
	require.NoError(t, s.PutState(ctx, "s1", testState(2, testFrame("Second"))))

	versions, err := s.ListVersions(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions)
}

func TestMemoryStoreCounters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.IncrementCounter(ctx, "edits_applied:2026-08-25", 1))
	require.NoError(t, s.IncrementCounter(ctx, "edits_applied:2026-08-25", 2))

	v, err := s.GetCounter(ctx, "edits_applied:2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	missing, err := s.GetCounter(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, int64(0), missing)
}

func TestMemoryStoreUserIndex(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newSession(t, s, "s1", "u1")
	newSession(t, s, "s2", "u1")
	newSession(t, s, "s3", "u2")

	ids, err := s.ListUserSessions(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)

	require.NoError(t, s.ExpireSession(ctx, "s1"))
	ids, err = s.ListUserSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, ids, "expired sessions drop out of the index")
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := NewMemoryStore(WithTTL(time.Hour), WithClock(clock))
	ctx := context.Background()
	newSession(t, s, "s1", "")

	ids, err := s.ListExpired(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.ListExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	require.NoError(t, s.ExpireSession(ctx, "s1"))
	_, err = s.GetMetadata(ctx, "s1")
	assert.ErrorIs(t, err, wireflow.ErrNotFound)
}

func TestMemoryStoreWritesRefreshTTL(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := NewMemoryStore(WithTTL(time.Hour), WithClock(clock))
	ctx := context.Background()
	newSession(t, s, "s1", "")

	now = now.Add(50 * time.Minute)
	require.NoError(t, s.AppendContext(ctx, "s1", &wireflow.ContextEntry{ID: "e1"}))

	ids, err := s.ListExpired(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids, "the append pushed expiry out")
}

func TestMemoryStoreTouchRefreshesTTL(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := NewMemoryStore(WithTTL(time.Hour), WithClock(clock))
	ctx := context.Background()
	newSession(t, s, "s1", "")

	now = now.Add(50 * time.Minute)
	require.NoError(t, s.TouchSession(ctx, "s1"))

	ids, err := s.ListExpired(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)

	err = s.TouchSession(ctx, "nope")
	assert.ErrorIs(t, err, wireflow.ErrNotFound)
}

func TestMemoryStoreUnknownSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetMetadata(ctx, "nope")
	assert.ErrorIs(t, err, wireflow.ErrNotFound)
	_, err = s.GetState(ctx, "nope", 1)
	assert.ErrorIs(t, err, wireflow.ErrNotFound)
	err = s.PutState(ctx, "nope", testState(1, testFrame("X")))
	assert.ErrorIs(t, err, wireflow.ErrNotFound)
}
