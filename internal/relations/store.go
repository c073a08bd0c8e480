// Package relations maintains owner→related id sets (user roles, role
// permissions) with validate-all-then-write-all semantics and a per-owner
// cache mirror invalidated in lockstep with every relational change.
package relations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-iam/internal/events"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// loadTimeout bounds a coalesced repository read detached from its caller.
const loadTimeout = 5 * time.Second

// Relation is one owner→related pair. ID is the pair's composite key.
type Relation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	RelatedID string    `json:"related_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TxRepository is the transactional subset used by Replace and Clear.
type TxRepository interface {
	Insert(ctx context.Context, ownerID string, relatedIDs []string) error
	DeleteAll(ctx context.Context, ownerID string) error
}

// Repository persists relations. Insert must skip pairs that already exist.
type Repository interface {
	TxRepository
	List(ctx context.Context, ownerID string) ([]Relation, error)
	Owners(ctx context.Context, relatedID string) ([]string, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Resolver returns nil when id exists and an error matching shared.ErrNotFound otherwise.
type Resolver func(ctx context.Context, id string) error

// Cache is the subset of cache.Store used for per-owner mirrors.
type Cache interface {
	GetHash(ctx context.Context, key string) (map[string]string, error)
	ListVersion(ctx context.Context, key string) (int64, error)
	ListPopulate(ctx context.Context, key string, version int64, entries map[string]string, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context, keys ...string) error
}

// Config describes one relation kind.
type Config struct {
	// Kind prefixes the per-owner cache key, e.g. "user_roles".
	Kind        string
	OwnerKind   string
	RelatedKind string
	TTL         time.Duration
	// AddedTopic is emitted by Add; ReplacedTopic by Replace and Clear.
	AddedTopic    string
	ReplacedTopic string
}

// Store coordinates validation, persistence, cache and events for one relation kind.
type Store struct {
	cfg     Config
	repo    Repository
	owner   Resolver
	related Resolver
	cache   Cache
	emitter *events.Emitter
	logger  *slog.Logger
	group   singleflight.Group
}

// New builds a relation store.
func New(cfg Config, repo Repository, owner, related Resolver, c Cache, emitter *events.Emitter, logger *slog.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:     cfg,
		repo:    repo,
		owner:   owner,
		related: related,
		cache:   c,
		emitter: emitter,
		logger:  logger.With(slog.String("relation", cfg.Kind)),
	}
}

// Add unions relatedIDs into the owner's set. Existing pairs are kept as-is.
func (s *Store) Add(ctx context.Context, actor, ownerID string, relatedIDs []string) error {
	ids := dedupe(relatedIDs)
	if len(ids) == 0 {
		return shared.Validation("ids", "at least one id is required")
	}
	if err := s.validate(ctx, ownerID, ids); err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, ownerID, ids); err != nil {
		return fmt.Errorf("relations: add %s: %w", s.cfg.Kind, err)
	}
	s.Invalidate(ctx, ownerID)
	s.emitter.Emit(ctx, s.cfg.AddedTopic, actor, ownerID, events.RelationPayload{OwnerID: ownerID, RelatedIDs: ids}, nil)
	return nil
}

// Replace swaps the owner's whole set for relatedIDs in one transaction.
func (s *Store) Replace(ctx context.Context, actor, ownerID string, relatedIDs []string) error {
	ids := dedupe(relatedIDs)
	if err := s.validate(ctx, ownerID, ids); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteAll(ctx, ownerID); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Insert(ctx, ownerID, ids)
	})
	if err != nil {
		return fmt.Errorf("relations: replace %s: %w", s.cfg.Kind, err)
	}
	s.Invalidate(ctx, ownerID)
	s.emitter.Emit(ctx, s.cfg.ReplacedTopic, actor, ownerID, events.RelationPayload{OwnerID: ownerID, RelatedIDs: ids}, nil)
	return nil
}

// Clear removes every relation of the owner.
func (s *Store) Clear(ctx context.Context, actor, ownerID string) error {
	return s.Replace(ctx, actor, ownerID, nil)
}

// List returns the owner's relations ordered by related id.
func (s *Store) List(ctx context.Context, ownerID string) ([]Relation, error) {
	if items, ok := s.readMirror(ctx, ownerID); ok {
		return items, nil
	}
	result := s.group.DoChan(ownerID, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		version, versionErr := s.cache.ListVersion(ctx, s.key(ownerID))
		items, err := s.repo.List(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		withIDs(items)
		if versionErr != nil {
			s.logger.Warn("read relation mirror version", slog.String("owner", ownerID), slog.Any("error", versionErr))
			return items, nil
		}
		s.writeMirror(ctx, ownerID, version, items)
		return items, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return nil, fmt.Errorf("relations: list %s: %w", s.cfg.Kind, res.Err)
		}
		items := res.Val.([]Relation)
		if items == nil {
			items = []Relation{}
		}
		return items, nil
	}
}

// RelatedIDs returns only the related ids of the owner.
func (s *Store) RelatedIDs(ctx context.Context, ownerID string) ([]string, error) {
	items, err := s.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.RelatedID
	}
	return ids, nil
}

// Owners returns every owner that references relatedID.
func (s *Store) Owners(ctx context.Context, relatedID string) ([]string, error) {
	owners, err := s.repo.Owners(ctx, relatedID)
	if err != nil {
		return nil, fmt.Errorf("relations: owners %s: %w", s.cfg.Kind, err)
	}
	return owners, nil
}

// Invalidate drops the cache mirrors of owners.
func (s *Store) Invalidate(ctx context.Context, ownerIDs ...string) {
	if len(ownerIDs) == 0 {
		return
	}
	keys := make([]string, len(ownerIDs))
	for i, id := range ownerIDs {
		keys[i] = s.key(id)
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("invalidate relation mirror", slog.Any("owners", ownerIDs), slog.Any("error", err))
	}
}

func (s *Store) validate(ctx context.Context, ownerID string, ids []string) error {
	if s.owner != nil {
		if err := s.owner(ctx, ownerID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.NotFound(s.cfg.OwnerKind, ownerID)
			}
			return err
		}
	}
	for _, id := range ids {
		if err := s.related(ctx, id); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.InvalidReference(s.cfg.RelatedKind, id)
			}
			return err
		}
	}
	return nil
}

func (s *Store) key(ownerID string) string {
	return s.cfg.Kind + ":" + ownerID
}

func (s *Store) readMirror(ctx context.Context, ownerID string) ([]Relation, bool) {
	fields, err := s.cache.GetHash(ctx, s.key(ownerID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("read relation mirror", slog.String("owner", ownerID), slog.Any("error", err))
		}
		return nil, false
	}
	items := make([]Relation, 0, len(fields))
	for _, raw := range fields {
		var item Relation
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			s.logger.Warn("decode relation mirror", slog.String("owner", ownerID), slog.Any("error", err))
			return nil, false
		}
		items = append(items, item)
	}
	withIDs(items)
	sortRelations(items)
	return items, true
}

func (s *Store) writeMirror(ctx context.Context, ownerID string, version int64, items []Relation) {
	if len(items) == 0 {
		return
	}
	fields := make(map[string]string, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return
		}
		fields[item.RelatedID] = string(raw)
	}
	if _, err := s.cache.ListPopulate(ctx, s.key(ownerID), version, fields, s.cfg.TTL); err != nil {
		s.logger.Warn("write relation mirror", slog.String("owner", ownerID), slog.Any("error", err))
	}
}

// CompositeID is the synthesized key of an owner→related pair.
func CompositeID(ownerID, relatedID string) string { return ownerID + relatedID }

func withIDs(items []Relation) {
	for i := range items {
		items[i].ID = CompositeID(items[i].OwnerID, items[i].RelatedID)
	}
}

func sortRelations(items []Relation) {
	sort.Slice(items, func(i, j int) bool { return items[i].RelatedID < items[j].RelatedID })
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
