// Package janitor runs the background sweeper: it expires sessions whose
// TTL elapsed, compacts version history past the retention window, and
// logs the daily aggregate counters.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/deepnoodle-ai/wireflow/internal/keylock"
	"github.com/deepnoodle-ai/wireflow/slogger"
	"github.com/deepnoodle-ai/wireflow/store"
	"github.com/deepnoodle-ai/wireflow/version"
	"github.com/google/uuid"
)

const DefaultInterval = 60 * time.Second

// Janitor sweeps the store on a fixed interval. It holds a per-session
// lock only for the duration of a single compaction.
type Janitor struct {
	store    store.Store
	versions *version.Manager
	locks    *keylock.KeyLock
	interval time.Duration
	logger   slogger.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(j *Janitor) { j.interval = d }
}

// WithLogger sets the logger.
func WithLogger(logger slogger.Logger) Option {
	return func(j *Janitor) { j.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// New creates a Janitor. locks should be shared with the session manager
// so compaction and edits exclude each other; pass nil to use a private
// lock set.
func New(s store.Store, versions *version.Manager, locks *keylock.KeyLock, opts ...Option) *Janitor {
	if locks == nil {
		locks = keylock.New()
	}
	j := &Janitor{
		store:    s,
		versions: versions,
		locks:    locks,
		interval: DefaultInterval,
		logger:   slogger.DefaultLogger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start launches the sweep loop. Call Stop to halt it.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go func() {
		defer close(j.done)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Sweep runs one pass: expire, compact, report. Exported so deployments
// can trigger a pass out of band.
func (j *Janitor) Sweep(ctx context.Context) {
	sweepID := uuid.NewString()[:8]
	logger := j.logger.With("sweep_id", sweepID)
	start := j.now()

	expired := j.expireSessions(ctx, logger)
	compacted := j.compactSessions(ctx, logger)
	j.reportCounters(ctx, logger)

	logger.Debug("sweep complete",
		"expired", expired,
		"compacted_sessions", compacted,
		"duration", j.now().Sub(start))
}

func (j *Janitor) expireSessions(ctx context.Context, logger slogger.Logger) int {
	ids, err := j.store.ListExpired(ctx, j.now())
	if err != nil {
		logger.Warn("failed to list expired sessions", "error", err)
		return 0
	}
	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return expired
		}
		if err := j.store.ExpireSession(ctx, id); err != nil {
			logger.Warn("failed to expire session", "session_id", id, "error", err)
			continue
		}
		expired++
	}
	return expired
}

func (j *Janitor) compactSessions(ctx context.Context, logger slogger.Logger) int {
	ids, err := j.store.ListSessionIDs(ctx)
	if err != nil {
		logger.Warn("failed to list sessions", "error", err)
		return 0
	}
	compacted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return compacted
		}
		n, err := j.compactOne(ctx, id)
		if err != nil {
			logger.Warn("compaction failed", "session_id", id, "error", err)
			continue
		}
		if n > 0 {
			compacted++
		}
	}
	return compacted
}

// compactOne compacts a single session under its lock, so edits and
// compaction never interleave. The lock is held for one compaction only.
func (j *Janitor) compactOne(ctx context.Context, sessionID string) (int, error) {
	release, err := j.locks.Acquire(ctx, sessionID, j.interval)
	if err != nil {
		return 0, err
	}
	defer release()
	return j.versions.Compact(ctx, sessionID)
}

func (j *Janitor) reportCounters(ctx context.Context, logger slogger.Logger) {
	day := j.now()
	read := func(name string) int64 {
		v, err := j.store.GetCounter(ctx, store.CounterBucket(name, day))
		if err != nil {
			return 0
		}
		return v
	}
	logger.Info("daily counters",
		"date", day.UTC().Format("2006-01-02"),
		"sessions_created", read("sessions_created"),
		"edits_applied", read("edits_applied"),
		"edits_failed", read("edits_failed"),
		"clarifications", read("clarifications"))
}
