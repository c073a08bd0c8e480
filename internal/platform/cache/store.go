package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// ErrMiss reports that a key is absent.
var ErrMiss = errors.New("cache: miss")

// DefaultTimeout bounds every cache round trip.
const DefaultTimeout = 250 * time.Millisecond

// versionTTL bounds the lifetime of mirror generation counters. An expired
// counter only makes the next populate skip its write.
const versionTTL = 24 * time.Hour

// putIfExists bumps the mirror generation and writes one field of the hash
// only when the hash already exists, so a list mirror is never resurrected
// holding a single entry.
var putIfExists = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], ARGV[3])
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// deleteEntry bumps the mirror generation and removes one field.
var deleteEntry = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], ARGV[2])
redis.call('HDEL', KEYS[1], ARGV[1])
return 1
`)

// populateIfCurrent replaces the mirror only while its generation still
// equals the one read before the source snapshot was taken.
var populateIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
local fields = {}
for i = 3, #ARGV do
	fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', KEYS[1], unpack(fields))
if tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// invalidate bumps the generation of every mirror in KEYS and drops it.
var invalidate = redis.NewScript(`
for _, key in ipairs(KEYS) do
	local gen = key .. ':gen'
	redis.call('INCR', gen)
	redis.call('EXPIRE', gen, ARGV[1])
	redis.call('DEL', key)
end
return #KEYS
`)

// Store exposes the hash, list-mirror and scalar operations used by the
// entity, relationship and token layers. Every failure other than a miss is
// returned as shared.ErrTransient.
type Store struct {
	client  *redis.Client
	timeout time.Duration
}

// NewStore wraps client. A non-positive timeout selects DefaultTimeout.
func NewStore(client *redis.Client, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{client: client, timeout: timeout}
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// GetHash returns every field of the hash stored at key.
func (s *Store) GetHash(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, shared.Transient("cache: hgetall", err)
	}
	if len(fields) == 0 {
		return nil, ErrMiss
	}
	return fields, nil
}

// SetHash replaces the hash at key with fields and sets its ttl atomically.
func (s *Store) SetHash(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return s.Delete(ctx, key)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, toArgs(fields))
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return shared.Transient("cache: sethash", err)
	}
	return nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return shared.Transient("cache: del", err)
	}
	return nil
}

// ListGet returns the entries of a list mirror keyed by entity id.
func (s *Store) ListGet(ctx context.Context, key string) (map[string]string, error) {
	return s.GetHash(ctx, key)
}

// ListVersion returns the generation of the mirror at key. Every list
// mutation and invalidation increments it; an absent counter reads as zero.
func (s *Store) ListVersion(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	version, err := s.client.Get(ctx, versionKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, shared.Transient("cache: list version", err)
	}
	return version, nil
}

// ListPopulate writes the complete mirror atomically when its generation is
// still version, and reports whether it did. An empty set is never written,
// so an absent mirror always means "unknown".
func (s *Store) ListPopulate(ctx context.Context, key string, version int64, entries map[string]string, ttl time.Duration) (bool, error) {
	if len(entries) == 0 {
		return false, nil
	}
	args := make([]any, 0, 2+2*len(entries))
	args = append(args, strconv.FormatInt(version, 10), ttl.Milliseconds())
	for id, value := range entries {
		args = append(args, id, value)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	written, err := populateIfCurrent.Run(ctx, s.client, []string{key, versionKey(key)}, args...).Int()
	if err != nil {
		return false, shared.Transient("cache: list populate", err)
	}
	return written == 1, nil
}

// Invalidate drops mirrors and bumps their generations, so a populate racing
// with the change cannot restore the old contents.
func (s *Store) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := invalidate.Run(ctx, s.client, keys, versionSeconds()).Err(); err != nil {
		return shared.Transient("cache: invalidate", err)
	}
	return nil
}

// ListAppend adds an entry to an existing mirror. It reports whether the
// mirror was present.
func (s *Store) ListAppend(ctx context.Context, key, id, value string) (bool, error) {
	return s.put(ctx, key, id, value)
}

// ListUpdateByID patches or creates an entry of an existing mirror.
func (s *Store) ListUpdateByID(ctx context.Context, key, id, value string) (bool, error) {
	return s.put(ctx, key, id, value)
}

func (s *Store) put(ctx context.Context, key, id, value string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	written, err := putIfExists.Run(ctx, s.client, []string{key, versionKey(key)}, id, value, versionSeconds()).Int()
	if err != nil {
		return false, shared.Transient("cache: list put", err)
	}
	return written == 1, nil
}

// ListDeleteByID removes one entry of a mirror.
func (s *Store) ListDeleteByID(ctx context.Context, key, id string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := deleteEntry.Run(ctx, s.client, []string{key, versionKey(key)}, id, versionSeconds()).Err(); err != nil {
		return shared.Transient("cache: list delete", err)
	}
	return nil
}

// Get returns a scalar value.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", shared.Transient("cache: get", err)
	}
	return value, nil
}

// Set stores a scalar value with ttl.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return shared.Transient("cache: set", err)
	}
	return nil
}

// SetNX stores value only when key is absent and reports whether it did.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, shared.Transient("cache: setnx", err)
	}
	return ok, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return shared.Transient("cache: ping", err)
	}
	return nil
}

func versionKey(key string) string { return key + ":gen" }

func versionSeconds() int64 { return int64(versionTTL / time.Second) }

func toArgs(fields map[string]string) map[string]any {
	args := make(map[string]any, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	return args
}
