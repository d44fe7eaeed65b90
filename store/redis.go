package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/deepnoodle-ai/wireflow"
	"github.com/redis/go-redis/v9"
)

// luaCASMeta atomically replaces the session metadata when the version
// anchor still holds the expected value, refreshing TTLs on the way.
// KEYS: version key, meta key. ARGV: expected version, new version, meta
// JSON, ttl millis (0 = no ttl).
var luaCASMeta = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then
  return -1
end
if cur ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('SET', KEYS[2], ARGV[3])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

// RedisStore is the production Store implementation. Multi-key writes go
// through transactional pipelines or Lua so concurrent readers always see a
// consistent snapshot; session TTL rides on native key expiry.
type RedisStore struct {
	client redis.UniversalClient
	keys   *keyBuilder
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL sets the session time-to-live. Zero disables expiry.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithKeyPrefix overrides the default "wf" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keys = newKeyBuilder(prefix) }
}

// NewRedisStore creates a store on an existing Redis client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		keys:   newKeyBuilder(""),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// wrap translates a go-redis error into the engine taxonomy.
func wrap(err error, what string) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", what, wireflow.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", what, wireflow.ErrUnavailable, err)
}

func (s *RedisStore) PutState(ctx context.Context, sessionID string, state *wireflow.DesignState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.keys.state(sessionID, state.Version), data, s.ttl).Result()
	if err != nil {
		return wrap(err, "put state")
	}
	if !ok {
		return fmt.Errorf("state v%d already exists: %w", state.Version, wireflow.ErrConflict)
	}
	return s.refreshTTL(ctx, sessionID)
}

// refreshTTL pushes the expiry of every key belonging to the session
// forward in one transactional pipeline. State keys are included: an
// active session must not lose older versions, and a session kept alive
// by reads must not outlive its own current state.
func (s *RedisStore) refreshTTL(ctx context.Context, sessionID string) error {
	if s.ttl <= 0 {
		return nil
	}
	keys := []string{
		s.keys.meta(sessionID),
		s.keys.version(sessionID),
		s.keys.ctx(sessionID),
	}
	iter := s.client.Scan(ctx, 0, s.keys.statePattern(sessionID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return wrap(err, "refresh ttl")
	}
	pipe := s.client.TxPipeline()
	for _, key := range keys {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return wrap(err, "refresh ttl")
	}
	return nil
}

func (s *RedisStore) GetState(ctx context.Context, sessionID string, version int) (*wireflow.DesignState, error) {
	if version == CurrentVersion {
		meta, err := s.GetMetadata(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		version = meta.CurrentVersion
	}
	data, err := s.client.Get(ctx, s.keys.state(sessionID, version)).Bytes()
	if err != nil {
		return nil, wrap(err, fmt.Sprintf("get state v%d", version))
	}
	var state wireflow.DesignState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state v%d: %w", version, err)
	}
	if state.Wireframe != nil && state.ContentHash != "" && state.Wireframe.Hash() != state.ContentHash {
		return nil, fmt.Errorf("state v%d content hash mismatch: %w", version, wireflow.ErrIntegrity)
	}
	return &state, nil
}

func (s *RedisStore) DeleteState(ctx context.Context, sessionID string, version int) error {
	if err := s.client.Del(ctx, s.keys.state(sessionID, version)).Err(); err != nil {
		return wrap(err, "delete state")
	}
	return nil
}

func (s *RedisStore) MarkCompacted(ctx context.Context, sessionID string, version int) error {
	key := s.keys.state(sessionID, version)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return wrap(err, fmt.Sprintf("compact state v%d", version))
	}
	var state wireflow.DesignState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal state v%d: %w", version, err)
	}
	state.Wireframe = nil
	state.Compacted = true
	out, err := json.Marshal(&state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, key, out, redis.KeepTTL).Err(); err != nil {
		return wrap(err, "compact state")
	}
	return nil
}

func (s *RedisStore) ListVersions(ctx context.Context, sessionID string) ([]int, error) {
	var versions []int
	iter := s.client.Scan(ctx, 0, s.keys.statePattern(sessionID), 100).Iterator()
	for iter.Next(ctx) {
		if v, ok := s.keys.stateVersion(iter.Val()); ok {
			versions = append(versions, v)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, wrap(err, "list versions")
	}
	sort.Ints(versions)
	return versions, nil
}

func (s *RedisStore) GetMetadata(ctx context.Context, sessionID string) (*wireflow.SessionMeta, error) {
	data, err := s.client.Get(ctx, s.keys.meta(sessionID)).Bytes()
	if err != nil {
		return nil, wrap(err, "get metadata")
	}
	var meta wireflow.SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &meta, nil
}

func (s *RedisStore) PutMetadata(ctx context.Context, meta *wireflow.SessionMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.keys.meta(meta.SessionID), data, s.ttl).Result()
	if err != nil {
		return wrap(err, "put metadata")
	}
	if !ok {
		return fmt.Errorf("session %q already exists: %w", meta.SessionID, wireflow.ErrConflict)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.version(meta.SessionID), meta.CurrentVersion, s.ttl)
	if meta.UserID != "" {
		pipe.SAdd(ctx, s.keys.userSessions(meta.UserID), meta.SessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(err, "put metadata")
	}
	return nil
}

func (s *RedisStore) CompareAndSwapMetadata(ctx context.Context, sessionID string, expectedVersion int, meta *wireflow.SessionMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	keys := []string{s.keys.version(sessionID), s.keys.meta(sessionID)}
	res, err := luaCASMeta.Run(ctx, s.client, keys,
		fmt.Sprintf("%d", expectedVersion),
		fmt.Sprintf("%d", meta.CurrentVersion),
		string(data),
		s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return wrap(err, "cas metadata")
	}
	switch res {
	case -1:
		return fmt.Errorf("session %q: %w", sessionID, wireflow.ErrNotFound)
	case 0:
		return fmt.Errorf("current version is not %d: %w", expectedVersion, wireflow.ErrConflict)
	}
	return nil
}

func (s *RedisStore) AppendContext(ctx context.Context, sessionID string, entry *wireflow.ContextEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal context entry: %w", err)
	}
	key := s.keys.ctx(sessionID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(wireflow.ContextWindowSize-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(err, "append context")
	}
	return s.refreshTTL(ctx, sessionID)
}

func (s *RedisStore) ReadContext(ctx context.Context, sessionID string, n int) ([]*wireflow.ContextEntry, error) {
	if n <= 0 || n > wireflow.ContextWindowSize {
		n = wireflow.ContextWindowSize
	}
	values, err := s.client.LRange(ctx, s.keys.ctx(sessionID), 0, int64(n-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrap(err, "read context")
	}
	// The list holds newest first; callers expect newest last.
	out := make([]*wireflow.ContextEntry, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		var entry wireflow.ContextEntry
		if err := json.Unmarshal([]byte(values[i]), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal context entry: %w", err)
		}
		out = append(out, &entry)
	}
	return out, nil
}

func (s *RedisStore) IncrementCounter(ctx context.Context, bucket string, delta int64) error {
	if err := s.client.IncrBy(ctx, s.keys.counter(bucket), delta).Err(); err != nil {
		return wrap(err, "increment counter")
	}
	return nil
}

func (s *RedisStore) GetCounter(ctx context.Context, bucket string) (int64, error) {
	val, err := s.client.Get(ctx, s.keys.counter(bucket)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap(err, "get counter")
	}
	return val, nil
}

func (s *RedisStore) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.keys.userSessions(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrap(err, "list user sessions")
	}
	// The index set has no TTL of its own, so members whose session keys
	// expired natively linger. Filter them out and prune as we go.
	live := make([]string, 0, len(ids))
	var dead []any
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, s.keys.meta(id)).Result()
		if err != nil {
			return nil, wrap(err, "list user sessions")
		}
		if exists > 0 {
			live = append(live, id)
		} else {
			dead = append(dead, id)
		}
	}
	if len(dead) > 0 {
		if err := s.client.SRem(ctx, s.keys.userSessions(userID), dead...).Err(); err != nil {
			return nil, wrap(err, "list user sessions")
		}
	}
	sort.Strings(live)
	return live, nil
}

func (s *RedisStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.keys.metaPattern(), 100).Iterator()
	for iter.Next(ctx) {
		if id, ok := s.keys.sessionID(iter.Val()); ok {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, wrap(err, "list sessions")
	}
	sort.Strings(ids)
	return ids, nil
}

// ListExpired returns nothing: Redis expires session keys natively.
func (s *RedisStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	return nil, nil
}

func (s *RedisStore) ExpireSession(ctx context.Context, sessionID string) error {
	// Remove the user index entry first so a crash leaves at worst a
	// dangling index member, never an indexed-but-deleted session.
	if meta, err := s.GetMetadata(ctx, sessionID); err == nil && meta.UserID != "" {
		if err := s.client.SRem(ctx, s.keys.userSessions(meta.UserID), sessionID).Err(); err != nil {
			return wrap(err, "expire session")
		}
	}
	keys := []string{
		s.keys.meta(sessionID),
		s.keys.version(sessionID),
		s.keys.ctx(sessionID),
	}
	iter := s.client.Scan(ctx, 0, s.keys.statePattern(sessionID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return wrap(err, "expire session")
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return wrap(err, "expire session")
	}
	return nil
}

func (s *RedisStore) TouchSession(ctx context.Context, sessionID string) error {
	exists, err := s.client.Exists(ctx, s.keys.meta(sessionID)).Result()
	if err != nil {
		return wrap(err, "touch session")
	}
	if exists == 0 {
		return fmt.Errorf("session %q: %w", sessionID, wireflow.ErrNotFound)
	}
	return s.refreshTTL(ctx, sessionID)
}

var _ Store = &RedisStore{}
var _ Store = &MemoryStore{}
