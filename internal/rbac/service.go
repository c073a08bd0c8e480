package rbac

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-iam/internal/permissions"
	"github.com/odyssey-erp/odyssey-iam/internal/roles"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// RoleLookup lists the roles a user holds.
type RoleLookup interface {
	Roles(ctx context.Context, userID string) ([]roles.Role, error)
}

// GrantLookup lists the permissions granted to a role.
type GrantLookup interface {
	Permissions(ctx context.Context, roleID string) ([]permissions.Permission, error)
}

// Service resolves effective permissions by walking user→role→permission.
type Service struct {
	users  RoleLookup
	grants GrantLookup
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(users RoleLookup, grants GrantLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, grants: grants, logger: logger}
}

// Effective is the flattened authorisation view of one user.
type Effective struct {
	UserID      string                   `json:"user_id"`
	Roles       []string                 `json:"roles"`
	Permissions []permissions.Permission `json:"permissions"`
}

// Resolve returns the user's roles and the union of their permissions.
func (s *Service) Resolve(ctx context.Context, userID string) (Effective, error) {
	held, err := s.users.Roles(ctx, userID)
	if err != nil {
		return Effective{}, err
	}
	out := Effective{UserID: userID, Roles: make([]string, 0, len(held)), Permissions: []permissions.Permission{}}
	seen := make(map[string]struct{})
	for _, role := range held {
		out.Roles = append(out.Roles, role.Name)
		granted, err := s.grants.Permissions(ctx, role.ID)
		if err != nil {
			if shared.KindOf(err) == shared.ErrNotFound {
				// role deleted between the two reads
				continue
			}
			return Effective{}, err
		}
		for _, perm := range granted {
			if _, ok := seen[perm.ID]; ok {
				continue
			}
			seen[perm.ID] = struct{}{}
			out.Permissions = append(out.Permissions, perm)
		}
	}
	sort.Strings(out.Roles)
	sort.Slice(out.Permissions, func(i, j int) bool { return out.Permissions[i].Name < out.Permissions[j].Name })
	return out, nil
}

// EffectivePermissions returns the lower-cased permission names held by userID.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	resolved, err := s.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resolved.Permissions))
	for _, perm := range resolved.Permissions {
		names = append(names, strings.ToLower(perm.Name))
	}
	return names, nil
}

// CheckAny returns nil when userID holds at least one of perms. An empty perms
// list always passes.
func (s *Service) CheckAny(ctx context.Context, userID string, perms ...string) error {
	required := normalizePermissions(perms)
	if len(required) == 0 {
		return nil
	}
	if userID == "" {
		return shared.ErrTokenMissing
	}
	granted, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return err
	}
	if hasAnyPermission(granted, required) {
		return nil
	}
	s.logger.Debug("permission denied", slog.String("user", userID), slog.Any("required", required))
	return &shared.Error{Kind: shared.ErrForbidden, Message: "missing permission " + strings.Join(required, " or ")}
}

// CheckAll returns nil when userID holds every one of perms.
func (s *Service) CheckAll(ctx context.Context, userID string, perms ...string) error {
	required := normalizePermissions(perms)
	if len(required) == 0 {
		return nil
	}
	if userID == "" {
		return shared.ErrTokenMissing
	}
	granted, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return err
	}
	if hasAllPermissions(granted, required) {
		return nil
	}
	return &shared.Error{Kind: shared.ErrForbidden, Message: "missing permission " + strings.Join(required, " and ")}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	sort.Strings(normalized)
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
