package roles

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-iam/internal/entitystore"
	"github.com/odyssey-erp/odyssey-iam/internal/events"
	"github.com/odyssey-erp/odyssey-iam/internal/permissions"
	"github.com/odyssey-erp/odyssey-iam/internal/relations"
)

// Store is the cache-aside store specialised for roles.
type Store = entitystore.Store[Role, CreateInput, Patch]

// NewStore builds the role store.
func NewStore(repo entitystore.Repository[Role, CreateInput, Patch], c entitystore.Cache, emitter *events.Emitter, logger *slog.Logger) *Store {
	return entitystore.New[Role, CreateInput, Patch](entitystore.Config{
		Kind: "role",
		Topics: entitystore.Topics{
			Created: events.RoleCreated,
			Updated: events.RoleUpdated,
			Deleted: events.RoleDeleted,
		},
	}, repo, c, emitter, logger)
}

// PermissionReader resolves permission ids.
type PermissionReader interface {
	Get(ctx context.Context, id string) (permissions.Permission, error)
	Exists(ctx context.Context, id string) error
}

// Referrers tracks users linked to a role.
type Referrers interface {
	Owners(ctx context.Context, relatedID string) ([]string, error)
	Invalidate(ctx context.Context, ownerIDs ...string)
}

// Service exposes role management and the role→permission relation.
type Service struct {
	store       *Store
	permissions PermissionReader
	grants      *relations.Store
	referrers   Referrers
	logger      *slog.Logger
}

// ServiceParams groups the collaborators of Service.
type ServiceParams struct {
	Store       *Store
	Permissions PermissionReader
	Relations   relations.Repository
	Cache       relations.Cache
	Emitter     *events.Emitter
	Logger      *slog.Logger
}

// NewService builds Service and its role→permission relation store.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: p.Store, permissions: p.Permissions, logger: logger}
	s.grants = relations.New(relations.Config{
		Kind:          "role_permissions",
		OwnerKind:     "role",
		RelatedKind:   "permission",
		AddedTopic:    events.RoleAddedPermissions,
		ReplacedTopic: events.RoleUpdatedPermissions,
	}, p.Relations, s.Exists, p.Permissions.Exists, p.Cache, p.Emitter, logger)
	return s
}

// Grants exposes the role→permission relation store, used to keep permission
// deletes and user permission lookups consistent.
func (s *Service) Grants() *relations.Store { return s.grants }

// SetReferrers wires the user→role relation once the user service exists.
func (s *Service) SetReferrers(referrers Referrers) { s.referrers = referrers }

// Create validates and stores a role.
func (s *Service) Create(ctx context.Context, actor string, in CreateInput) (Role, error) {
	if err := in.Normalize(); err != nil {
		return Role{}, err
	}
	return s.store.Create(ctx, actor, in, nil)
}

// Get returns one role.
func (s *Service) Get(ctx context.Context, id string) (Role, error) {
	return s.store.Get(ctx, id)
}

// List returns all roles.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.store.List(ctx)
}

// Update patches a role.
func (s *Service) Update(ctx context.Context, actor, id string, patch Patch) (Role, error) {
	if err := patch.Normalize(); err != nil {
		return Role{}, err
	}
	return s.store.Update(ctx, actor, id, patch)
}

// Delete removes a role, its permission mirror and the mirrors of users that held it.
func (s *Service) Delete(ctx context.Context, actor, id string) (Role, error) {
	var holders []string
	if s.referrers != nil {
		found, err := s.referrers.Owners(ctx, id)
		if err != nil {
			return Role{}, err
		}
		holders = found
	}
	deleted, err := s.store.Delete(ctx, actor, id)
	if err != nil {
		return Role{}, err
	}
	s.grants.Invalidate(ctx, id)
	if s.referrers != nil {
		s.referrers.Invalidate(ctx, holders...)
	}
	return deleted, nil
}

// Exists resolves id for relation validation.
func (s *Service) Exists(ctx context.Context, id string) error {
	_, err := s.store.Get(ctx, id)
	return err
}

// AddPermissions grants permissionIDs to the role.
func (s *Service) AddPermissions(ctx context.Context, actor, roleID string, permissionIDs []string) error {
	return s.grants.Add(ctx, actor, roleID, permissionIDs)
}

// ReplacePermissions sets the role's permissions to exactly permissionIDs.
func (s *Service) ReplacePermissions(ctx context.Context, actor, roleID string, permissionIDs []string) error {
	return s.grants.Replace(ctx, actor, roleID, permissionIDs)
}

// ClearPermissions revokes every permission of the role.
func (s *Service) ClearPermissions(ctx context.Context, actor, roleID string) error {
	return s.grants.Clear(ctx, actor, roleID)
}

// Permissions returns the permissions granted to the role.
func (s *Service) Permissions(ctx context.Context, roleID string) ([]permissions.Permission, error) {
	if err := s.Exists(ctx, roleID); err != nil {
		return nil, err
	}
	ids, err := s.grants.RelatedIDs(ctx, roleID)
	if err != nil {
		return nil, err
	}
	out := make([]permissions.Permission, 0, len(ids))
	for _, id := range ids {
		perm, err := s.permissions.Get(ctx, id)
		if err != nil {
			s.logger.Warn("granted permission missing", slog.String("role", roleID), slog.String("permission", id), slog.Any("error", err))
			continue
		}
		out = append(out, perm)
	}
	return out, nil
}
