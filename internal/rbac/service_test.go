package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/permissions"
	"github.com/odyssey-erp/odyssey-iam/internal/roles"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

type stubUsers map[string][]roles.Role

func (s stubUsers) Roles(_ context.Context, userID string) ([]roles.Role, error) {
	held, ok := s[userID]
	if !ok {
		return nil, shared.NotFound("user", userID)
	}
	return held, nil
}

type stubGrants map[string][]permissions.Permission

func (s stubGrants) Permissions(_ context.Context, roleID string) ([]permissions.Permission, error) {
	if roleID == "broken" {
		return nil, errors.New("db down")
	}
	granted, ok := s[roleID]
	if !ok {
		return nil, shared.NotFound("role", roleID)
	}
	return granted, nil
}

func newService() *Service {
	view := permissions.Permission{ID: "p1", Name: "users.view", Type: permissions.TypeView}
	manage := permissions.Permission{ID: "p2", Name: "Users.Manage", Type: permissions.TypeAdmin}
	return NewService(
		stubUsers{
			"alice": {{ID: "r1", Name: "editor"}, {ID: "r2", Name: "admin"}, {ID: "gone", Name: "stale"}},
			"bob":   {{ID: "r1", Name: "editor"}},
			"carl":  {{ID: "broken", Name: "broken"}},
			"dana":  {},
		},
		stubGrants{
			"r1": {view},
			"r2": {view, manage},
		},
		nil,
	)
}

func TestResolveUnionsPermissions(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	resolved, err := svc.Resolve(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"admin", "editor", "stale"}, resolved.Roles)
	require.Len(t, resolved.Permissions, 2)

	names, err := svc.EffectivePermissions(ctx, "alice")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"users.view", "users.manage"}, names)

	resolved, err = svc.Resolve(ctx, "dana")
	require.NoError(t, err)
	require.NotNil(t, resolved.Permissions)
	require.Empty(t, resolved.Permissions)

	_, err = svc.Resolve(ctx, "ghost")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Resolve(ctx, "carl")
	require.Error(t, err)
}

func TestCheck(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	require.NoError(t, svc.CheckAny(ctx, "bob"))
	require.NoError(t, svc.CheckAny(ctx, "bob", " USERS.VIEW ", "users.manage"))
	require.ErrorIs(t, svc.CheckAny(ctx, "bob", "users.manage"), shared.ErrForbidden)
	require.ErrorIs(t, svc.CheckAny(ctx, "", "users.view"), shared.ErrTokenMissing)

	require.NoError(t, svc.CheckAll(ctx, "alice", "users.view", "users.manage"))
	require.ErrorIs(t, svc.CheckAll(ctx, "bob", "users.view", "users.manage"), shared.ErrForbidden)
}

func TestHandlerResolvesForSubjectAndID(t *testing.T) {
	h := NewHandler(nil, newService())
	r := chi.NewRouter()
	for _, route := range h.Routes() {
		r.Method(route.Method, route.Pattern, route.Handler)
	}

	req := httptest.NewRequest(http.MethodGet, "/users/me/permissions", nil)
	req = req.WithContext(shared.ContextWithSubject(req.Context(), "bob"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"users.view"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/ghost/permissions", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
