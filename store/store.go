// Package store is the state backend of the engine. It exclusively owns
// all persisted entities: session metadata, versioned design states, the
// bounded context ring, the user session index, and analytics counters.
// Every other component goes through the Store interface.
//
// Two implementations are provided: MemoryStore for tests and
// single-process deployments, and RedisStore for production.
package store

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/wireflow"
)

// CurrentVersion selects the highest committed version in GetState.
const CurrentVersion = 0

// Store is the persistence contract. Implementations must make every
// write atomic with respect to concurrent readers: either the full record
// is visible or nothing is. Backend failures are reported by wrapping
// wireflow.ErrUnavailable; implementations never fall back transparently.
type Store interface {
	// PutState writes a new versioned state and refreshes the session TTL.
	// Fails with wireflow.ErrConflict if the version already exists.
	PutState(ctx context.Context, sessionID string, state *wireflow.DesignState) error

	// GetState returns the requested version, or the current one when
	// version is CurrentVersion. Fails with wireflow.ErrNotFound if absent
	// and wireflow.ErrIntegrity if the stored content hash does not match.
	GetState(ctx context.Context, sessionID string, version int) (*wireflow.DesignState, error)

	// DeleteState removes a single version. Used to roll back a state whose
	// metadata CAS failed. Idempotent.
	DeleteState(ctx context.Context, sessionID string, version int) error

	// MarkCompacted discards the wireframe body of a version, keeping its
	// metadata queryable.
	MarkCompacted(ctx context.Context, sessionID string, version int) error

	// ListVersions returns all stored version numbers, ascending.
	ListVersions(ctx context.Context, sessionID string) ([]int, error)

	// GetMetadata returns the session metadata.
	GetMetadata(ctx context.Context, sessionID string) (*wireflow.SessionMeta, error)

	// PutMetadata writes metadata unconditionally. Create-only: fails with
	// wireflow.ErrConflict if the session already exists.
	PutMetadata(ctx context.Context, meta *wireflow.SessionMeta) error

	// CompareAndSwapMetadata replaces the metadata only if the stored
	// current_version equals expectedVersion; otherwise it fails with
	// wireflow.ErrConflict. This is the only way to update metadata.
	CompareAndSwapMetadata(ctx context.Context, sessionID string, expectedVersion int, meta *wireflow.SessionMeta) error

	// AppendContext appends an entry to the context ring, atomically
	// evicting the oldest entry past capacity, and refreshes the TTL.
	AppendContext(ctx context.Context, sessionID string, entry *wireflow.ContextEntry) error

	// ReadContext returns the most recent n entries, newest last.
	ReadContext(ctx context.Context, sessionID string, n int) ([]*wireflow.ContextEntry, error)

	// IncrementCounter bumps an analytics counter. Eventually consistent.
	IncrementCounter(ctx context.Context, bucket string, delta int64) error

	// GetCounter reads an analytics counter; missing buckets read as zero.
	GetCounter(ctx context.Context, bucket string) (int64, error)

	// ListUserSessions returns the session ids created by a user.
	ListUserSessions(ctx context.Context, userID string) ([]string, error)

	// ListSessionIDs returns all live session ids.
	ListSessionIDs(ctx context.Context) ([]string, error)

	// ListExpired returns sessions whose TTL elapsed before now. Backends
	// with native key expiry may return nothing.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)

	// ExpireSession removes every key belonging to a session.
	ExpireSession(ctx context.Context, sessionID string) error

	// TouchSession refreshes the session TTL without writing anything else.
	// Read activity keeps a session alive the same way edits do.
	TouchSession(ctx context.Context, sessionID string) error
}

// CounterBucket builds a daily analytics bucket name, e.g.
// "edits_applied:2026-08-25".
func CounterBucket(name string, day time.Time) string {
	return name + ":" + day.UTC().Format("2006-01-02")
}
