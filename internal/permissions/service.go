package permissions

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-iam/internal/entitystore"
	"github.com/odyssey-erp/odyssey-iam/internal/events"
)

// Store is the cache-aside store specialised for permissions.
type Store = entitystore.Store[Permission, CreateInput, Patch]

// Referrers tracks which owners link to a permission so their relation caches
// can be dropped when it is deleted.
type Referrers interface {
	Owners(ctx context.Context, relatedID string) ([]string, error)
	Invalidate(ctx context.Context, ownerIDs ...string)
}

// NewStore builds the permission store.
func NewStore(repo entitystore.Repository[Permission, CreateInput, Patch], c entitystore.Cache, emitter *events.Emitter, logger *slog.Logger) *Store {
	return entitystore.New[Permission, CreateInput, Patch](entitystore.Config{
		Kind: "permission",
		Topics: entitystore.Topics{
			Created: events.PermissionCreated,
			Updated: events.PermissionUpdated,
			Deleted: events.PermissionDeleted,
		},
	}, repo, c, emitter, logger)
}

// Service exposes permission management.
type Service struct {
	store     *Store
	referrers Referrers
	logger    *slog.Logger
}

// NewService builds Service instance.
func NewService(store *Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// SetReferrers wires the role→permission relation once it exists. Roles are
// built after permissions, so the link is attached afterwards.
func (s *Service) SetReferrers(referrers Referrers) {
	s.referrers = referrers
}

// Create validates and stores a permission.
func (s *Service) Create(ctx context.Context, actor string, in CreateInput) (Permission, error) {
	if err := in.Normalize(); err != nil {
		return Permission{}, err
	}
	return s.store.Create(ctx, actor, in, nil)
}

// Get returns one permission.
func (s *Service) Get(ctx context.Context, id string) (Permission, error) {
	return s.store.Get(ctx, id)
}

// List returns all permissions.
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	return s.store.List(ctx)
}

// Update patches a permission.
func (s *Service) Update(ctx context.Context, actor, id string, patch Patch) (Permission, error) {
	if err := patch.Normalize(); err != nil {
		return Permission{}, err
	}
	return s.store.Update(ctx, actor, id, patch)
}

// Delete removes a permission and drops role mirrors that referenced it.
func (s *Service) Delete(ctx context.Context, actor, id string) (Permission, error) {
	var owners []string
	if s.referrers != nil {
		found, err := s.referrers.Owners(ctx, id)
		if err != nil {
			return Permission{}, err
		}
		owners = found
	}
	deleted, err := s.store.Delete(ctx, actor, id)
	if err != nil {
		return Permission{}, err
	}
	if s.referrers != nil {
		s.referrers.Invalidate(ctx, owners...)
	}
	return deleted, nil
}

// Exists resolves id for relation validation.
func (s *Service) Exists(ctx context.Context, id string) error {
	_, err := s.store.Get(ctx, id)
	return err
}
