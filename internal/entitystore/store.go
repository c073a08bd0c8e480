// Package entitystore implements a generic cache-aside store over a relational
// repository. The repository is the source of truth; the cache holds one hash
// per entity plus a list mirror, and is written only after the repository
// write succeeds. Events are published last.
package entitystore

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-iam/internal/events"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// DefaultTTL is the lifetime of entity hashes and list mirrors.
const DefaultTTL = time.Hour

// loadTimeout bounds a coalesced repository read. The read is detached from
// the caller that started it so other waiters survive its cancellation.
const loadTimeout = 5 * time.Second

// Entity is anything addressable by id.
type Entity interface {
	EntityID() string
}

// Repository is the relational port for one entity kind. Get and Update must
// return an error matching shared.ErrNotFound for a missing id.
type Repository[T Entity, C any, P any] interface {
	Create(ctx context.Context, input C) (T, error)
	Get(ctx context.Context, id string) (T, error)
	List(ctx context.Context) ([]T, error)
	Update(ctx context.Context, id string, patch P) (T, error)
	Delete(ctx context.Context, id string) error
}

// Cache is the subset of cache.Store used here.
type Cache interface {
	GetHash(ctx context.Context, key string) (map[string]string, error)
	SetHash(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	ListGet(ctx context.Context, key string) (map[string]string, error)
	ListVersion(ctx context.Context, key string) (int64, error)
	ListPopulate(ctx context.Context, key string, version int64, entries map[string]string, ttl time.Duration) (bool, error)
	ListAppend(ctx context.Context, key, id, value string) (bool, error)
	ListUpdateByID(ctx context.Context, key, id, value string) (bool, error)
	ListDeleteByID(ctx context.Context, key, id string) error
}

// Topics names the events emitted for each mutation. Empty topics are skipped.
type Topics struct {
	Created string
	Updated string
	Deleted string
}

// Config describes one entity kind.
type Config struct {
	Kind    string
	ListKey string
	TTL     time.Duration
	Topics  Topics
}

// Store is the cache-aside store for entity kind T created from C and patched with P.
type Store[T Entity, C any, P any] struct {
	cfg     Config
	repo    Repository[T, C, P]
	cache   Cache
	emitter *events.Emitter
	logger  *slog.Logger
	group   singleflight.Group
}

// New builds a store. ListKey defaults to Kind+"s".
func New[T Entity, C any, P any](cfg Config, repo Repository[T, C, P], c Cache, emitter *events.Emitter, logger *slog.Logger) *Store[T, C, P] {
	if cfg.ListKey == "" {
		cfg.ListKey = cfg.Kind + "s"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[T, C, P]{
		cfg:     cfg,
		repo:    repo,
		cache:   c,
		emitter: emitter,
		logger:  logger.With(slog.String("entity", cfg.Kind)),
	}
}

// Kind returns the entity kind name.
func (s *Store[T, C, P]) Kind() string { return s.cfg.Kind }

// Key returns the single-entity cache key for id.
func (s *Store[T, C, P]) Key(id string) string { return s.cfg.Kind + ":" + id }

// Create persists input, caches the result, extends a populated list mirror
// and publishes the created event. meta travels on the event only.
func (s *Store[T, C, P]) Create(ctx context.Context, actor string, input C, meta map[string]string) (T, error) {
	entity, err := s.repo.Create(ctx, input)
	if err != nil {
		var zero T
		return zero, err
	}
	s.writeEntity(ctx, entity)
	s.writeListEntry(ctx, entity, s.cache.ListAppend)
	s.emitter.Emit(ctx, s.cfg.Topics.Created, actor, entity.EntityID(), entity, meta)
	return entity, nil
}

// Get returns the entity with id, reading through the cache. Missing entities
// are never negatively cached.
func (s *Store[T, C, P]) Get(ctx context.Context, id string) (T, error) {
	if entity, ok := s.readEntity(ctx, id); ok {
		return entity, nil
	}
	value, err := s.coalesce(ctx, "get:"+id, func(ctx context.Context) (any, error) {
		entity, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		s.writeEntity(ctx, entity)
		return entity, nil
	})
	if err != nil {
		var zero T
		if errors.Is(err, shared.ErrNotFound) {
			return zero, shared.NotFound(s.cfg.Kind, id)
		}
		return zero, err
	}
	return value.(T), nil
}

// List returns every entity ordered by id. A populated mirror is served as-is;
// otherwise the repository is queried and a non-empty result is mirrored,
// unless a mutation touched the mirror while the query ran.
func (s *Store[T, C, P]) List(ctx context.Context) ([]T, error) {
	if items, ok := s.readList(ctx); ok {
		return items, nil
	}
	value, err := s.coalesce(ctx, "list", func(ctx context.Context) (any, error) {
		version, versionErr := s.cache.ListVersion(ctx, s.cfg.ListKey)
		items, err := s.repo.List(ctx)
		if err != nil {
			return nil, err
		}
		if versionErr != nil {
			s.logger.Warn("read list version", slog.Any("error", versionErr))
			return items, nil
		}
		s.populateList(ctx, version, items)
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	items := value.([]T)
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Update applies patch to an existing entity and refreshes both cache shapes
// from the post-write row.
func (s *Store[T, C, P]) Update(ctx context.Context, actor, id string, patch P) (T, error) {
	if _, err := s.Get(ctx, id); err != nil {
		var zero T
		return zero, err
	}
	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		var zero T
		if errors.Is(err, shared.ErrNotFound) {
			return zero, shared.NotFound(s.cfg.Kind, id)
		}
		return zero, err
	}
	s.Refresh(ctx, updated)
	s.emitter.Emit(ctx, s.cfg.Topics.Updated, actor, id, updated, nil)
	return updated, nil
}

// Delete removes an existing entity and returns its pre-delete snapshot.
func (s *Store[T, C, P]) Delete(ctx context.Context, actor, id string) (T, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		var zero T
		if errors.Is(err, shared.ErrNotFound) {
			return zero, shared.NotFound(s.cfg.Kind, id)
		}
		return zero, err
	}
	s.Evict(ctx, id)
	s.emitter.Emit(ctx, s.cfg.Topics.Deleted, actor, id, current, nil)
	return current, nil
}

// Refresh rewrites both cache shapes for an entity changed outside Update.
func (s *Store[T, C, P]) Refresh(ctx context.Context, entity T) {
	s.writeEntity(ctx, entity)
	s.writeListEntry(ctx, entity, s.cache.ListUpdateByID)
}

// Evict drops id from both cache shapes after a delete performed outside Delete.
func (s *Store[T, C, P]) Evict(ctx context.Context, id string) {
	if err := s.cache.ListDeleteByID(ctx, s.cfg.ListKey, id); err != nil {
		s.logger.Warn("evict list entry", slog.String("id", id), slog.Any("error", err))
	}
	if err := s.cache.Delete(ctx, s.Key(id)); err != nil {
		s.logger.Warn("evict entity", slog.String("id", id), slog.Any("error", err))
	}
}

func (s *Store[T, C, P]) coalesce(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	result := s.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return fn(loadCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		return res.Val, res.Err
	}
}

func (s *Store[T, C, P]) readEntity(ctx context.Context, id string) (T, bool) {
	var zero T
	fields, err := s.cache.GetHash(ctx, s.Key(id))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("read entity cache", slog.String("id", id), slog.Any("error", err))
		}
		return zero, false
	}
	entity, err := decodeFields[T](fields)
	if err != nil {
		s.logger.Warn("decode entity cache", slog.String("id", id), slog.Any("error", err))
		return zero, false
	}
	return entity, true
}

func (s *Store[T, C, P]) writeEntity(ctx context.Context, entity T) {
	fields, err := encodeFields(entity)
	if err != nil {
		s.logger.Warn("encode entity cache", slog.String("id", entity.EntityID()), slog.Any("error", err))
		return
	}
	if err := s.cache.SetHash(ctx, s.Key(entity.EntityID()), fields, s.cfg.TTL); err != nil {
		s.logger.Warn("write entity cache", slog.String("id", entity.EntityID()), slog.Any("error", err))
	}
}

func (s *Store[T, C, P]) readList(ctx context.Context) ([]T, bool) {
	entries, err := s.cache.ListGet(ctx, s.cfg.ListKey)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("read list mirror", slog.Any("error", err))
		}
		return nil, false
	}
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	items := make([]T, 0, len(ids))
	for _, id := range ids {
		entity, err := decodeValue[T](entries[id])
		if err != nil {
			s.logger.Warn("decode list mirror", slog.String("id", id), slog.Any("error", err))
			return nil, false
		}
		items = append(items, entity)
	}
	return items, true
}

func (s *Store[T, C, P]) populateList(ctx context.Context, version int64, items []T) {
	if len(items) == 0 {
		return
	}
	entries := make(map[string]string, len(items))
	for _, item := range items {
		value, err := encodeValue(item)
		if err != nil {
			s.logger.Warn("encode list mirror", slog.String("id", item.EntityID()), slog.Any("error", err))
			return
		}
		entries[item.EntityID()] = value
	}
	written, err := s.cache.ListPopulate(ctx, s.cfg.ListKey, version, entries, s.cfg.TTL)
	if err != nil {
		s.logger.Warn("populate list mirror", slog.Any("error", err))
		return
	}
	if !written {
		s.logger.Debug("list mirror changed during load", slog.Int64("version", version))
	}
}

func (s *Store[T, C, P]) writeListEntry(ctx context.Context, entity T, put func(context.Context, string, string, string) (bool, error)) {
	value, err := encodeValue(entity)
	if err != nil {
		s.logger.Warn("encode list entry", slog.String("id", entity.EntityID()), slog.Any("error", err))
		return
	}
	if _, err := put(ctx, s.cfg.ListKey, entity.EntityID(), value); err != nil {
		s.logger.Warn("write list entry", slog.String("id", entity.EntityID()), slog.Any("error", err))
	}
}
