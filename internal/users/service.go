package users

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/entitystore"
	"github.com/odyssey-erp/odyssey-iam/internal/events"
	"github.com/odyssey-erp/odyssey-iam/internal/password"
	"github.com/odyssey-erp/odyssey-iam/internal/relations"
	"github.com/odyssey-erp/odyssey-iam/internal/roles"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// SystemActor is recorded as the actor of unattended mutations.
const SystemActor = "system"

// Store is the cache-aside store specialised for users.
type Store = entitystore.Store[User, NewUser, Patch]

// NewStore builds the user store.
func NewStore(repo entitystore.Repository[User, NewUser, Patch], c entitystore.Cache, emitter *events.Emitter, logger *slog.Logger) *Store {
	return entitystore.New[User, NewUser, Patch](entitystore.Config{
		Kind: "user",
		Topics: entitystore.Topics{
			Created: events.UserCreated,
			Updated: events.UserUpdated,
			Deleted: events.UserDeleted,
		},
	}, repo, c, emitter, logger)
}

// RepositoryPort is the relational port of the user service.
type RepositoryPort interface {
	entitystore.Repository[User, NewUser, Patch]
	FindCredentials(ctx context.Context, login string) (Credentials, error)
	Cancel(ctx context.Context, id string, at time.Time) (User, error)
	Uncancel(ctx context.Context, id string) (User, error)
	PurgeCancelled(ctx context.Context, cutoff time.Time) ([]User, error)
}

// RoleReader resolves role ids.
type RoleReader interface {
	Get(ctx context.Context, id string) (roles.Role, error)
	Exists(ctx context.Context, id string) error
}

// ServiceParams groups the collaborators of Service.
type ServiceParams struct {
	Repo      RepositoryPort
	Store     *Store
	Hasher    password.Hasher
	Roles     RoleReader
	Relations relations.Repository
	Cache     relations.Cache
	Emitter   *events.Emitter
	Logger    *slog.Logger
}

// Service handles user business logic.
type Service struct {
	repo        RepositoryPort
	store       *Store
	hasher      password.Hasher
	roles       RoleReader
	memberships *relations.Store
	emitter     *events.Emitter
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service and its user→role relation store.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:    p.Repo,
		store:   p.Store,
		hasher:  p.Hasher,
		roles:   p.Roles,
		emitter: p.Emitter,
		logger:  logger,
		now:     time.Now,
	}
	s.memberships = relations.New(relations.Config{
		Kind:          "user_roles",
		OwnerKind:     "user",
		RelatedKind:   "role",
		AddedTopic:    events.UserAddedRoles,
		ReplacedTopic: events.UserUpdatedRoles,
	}, p.Relations, s.Exists, p.Roles.Exists, p.Cache, p.Emitter, logger)
	return s
}

// Memberships exposes the user→role relation store.
func (s *Service) Memberships() *relations.Store { return s.memberships }

// Create hashes the password and stores a new active user. meta rides on the
// created event only.
func (s *Service) Create(ctx context.Context, actor string, in CreateInput, meta map[string]string) (User, error) {
	if err := in.normalize(); err != nil {
		return User{}, err
	}
	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	return s.store.Create(ctx, actor, NewUser{
		Username:     in.Username,
		Email:        in.Email,
		Phone:        in.Phone,
		Nickname:     in.Nickname,
		Avatar:       in.Avatar,
		Hometown:     in.Hometown,
		Birthday:     in.Birthday,
		PasswordHash: digest,
	}, meta)
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.store.Get(ctx, id)
}

// List returns every user.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.store.List(ctx)
}

// Exists resolves id for relation validation.
func (s *Service) Exists(ctx context.Context, id string) error {
	_, err := s.store.Get(ctx, id)
	return err
}

// Update patches a profile. A password in the patch is re-hashed.
func (s *Service) Update(ctx context.Context, actor, id string, patch Patch) (User, error) {
	if err := patch.normalize(); err != nil {
		return User{}, err
	}
	if patch.Password != nil {
		digest, err := s.hasher.Hash(*patch.Password)
		if err != nil {
			return User{}, fmt.Errorf("users: hash password: %w", err)
		}
		patch.PasswordHash = &digest
		patch.Password = nil
	}
	return s.store.Update(ctx, actor, id, patch)
}

// Cancel moves an active account into the cancelled state. It stays
// recoverable until the purge sweep removes it.
func (s *Service) Cancel(ctx context.Context, actor, id string) (User, error) {
	return s.transition(ctx, actor, id, StatusCancelled, events.UserCancelled, func() (User, error) {
		return s.repo.Cancel(ctx, id, s.now().UTC())
	})
}

// Uncancel restores a cancelled account.
func (s *Service) Uncancel(ctx context.Context, actor, id string) (User, error) {
	return s.transition(ctx, actor, id, StatusActive, events.UserUncancelled, func() (User, error) {
		return s.repo.Uncancel(ctx, id)
	})
}

func (s *Service) transition(ctx context.Context, actor, id string, to Status, topic string, apply func() (User, error)) (User, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !current.Status.CanTransition(to) {
		return User{}, transitionError(current.Status, to)
	}
	updated, err := apply()
	if err != nil {
		if shared.KindOf(err) == shared.ErrNotFound {
			// The conditional update matched nothing: the row moved on concurrently.
			return User{}, transitionError(current.Status, to)
		}
		return User{}, err
	}
	s.store.Refresh(ctx, updated)
	s.emitter.Emit(ctx, topic, actor, id, updated, nil)
	return updated, nil
}

// PurgeCancelled hard-deletes accounts cancelled before cutoff, evicts their
// cache entries and publishes one deleted event per account.
func (s *Service) PurgeCancelled(ctx context.Context, cutoff time.Time) ([]User, error) {
	purged, err := s.repo.PurgeCancelled(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, u := range purged {
		s.store.Evict(ctx, u.ID)
		s.memberships.Invalidate(ctx, u.ID)
		u.Status = StatusPurged
		s.emitter.Emit(ctx, events.UserDeleted, SystemActor, u.ID, u, nil)
	}
	return purged, nil
}

// FindCredentials returns the account and digest for a username or email.
func (s *Service) FindCredentials(ctx context.Context, login string) (Credentials, error) {
	return s.repo.FindCredentials(ctx, Fold(login))
}

// AddRoles grants roleIDs to the user.
func (s *Service) AddRoles(ctx context.Context, actor, userID string, roleIDs []string) error {
	return s.memberships.Add(ctx, actor, userID, roleIDs)
}

// ReplaceRoles sets the user's roles to exactly roleIDs.
func (s *Service) ReplaceRoles(ctx context.Context, actor, userID string, roleIDs []string) error {
	return s.memberships.Replace(ctx, actor, userID, roleIDs)
}

// ClearRoles revokes every role of the user.
func (s *Service) ClearRoles(ctx context.Context, actor, userID string) error {
	return s.memberships.Clear(ctx, actor, userID)
}

// Roles returns the roles held by the user.
func (s *Service) Roles(ctx context.Context, userID string) ([]roles.Role, error) {
	if err := s.Exists(ctx, userID); err != nil {
		return nil, err
	}
	roleIDs, err := s.memberships.RelatedIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]roles.Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		role, err := s.roles.Get(ctx, id)
		if err != nil {
			s.logger.Warn("held role missing", slog.String("user", userID), slog.String("role", id), slog.Any("error", err))
			continue
		}
		out = append(out, role)
	}
	return out, nil
}
