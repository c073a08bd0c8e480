package permissions

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/events"
	"github.com/odyssey-erp/odyssey-iam/internal/ids"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

type stubRepo struct {
	mu   sync.Mutex
	rows map[string]Permission
}

func (r *stubRepo) Create(_ context.Context, in CreateInput) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	p := Permission{ID: ids.New(), Name: in.Name, Type: in.Type, Description: in.Description, CreatedAt: now, UpdatedAt: now}
	r.rows[p.ID] = p
	return p, nil
}

func (r *stubRepo) Get(_ context.Context, id string) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *stubRepo) List(context.Context) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Permission, 0, len(r.rows))
	for _, p := range r.rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubRepo) Update(_ context.Context, id string, patch Patch) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Type != nil {
		p.Type = *patch.Type
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	r.rows[id] = p
	return p, nil
}

func (r *stubRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type stubReferrers struct {
	owners      []string
	invalidated []string
}

func (s *stubReferrers) Owners(context.Context, string) ([]string, error) { return s.owners, nil }

func (s *stubReferrers) Invalidate(_ context.Context, ownerIDs ...string) {
	s.invalidated = append(s.invalidated, ownerIDs...)
}

func newTestService(t *testing.T) (*Service, *events.MemoryPublisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	pub := &events.MemoryPublisher{}
	store := NewStore(&stubRepo{rows: map[string]Permission{}}, cache.NewStore(client, time.Second), events.NewEmitter(pub, nil), nil)
	return NewService(store, nil), pub
}

func TestCreateValidatesType(t *testing.T) {
	svc, pub := newTestService(t)
	_, err := svc.Create(context.Background(), "admin", CreateInput{Name: "users.view", Type: "read"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "type", shared.FieldOf(err))
	require.Empty(t, pub.Events())
}

func TestPermissionLifecycle(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()
	referrers := &stubReferrers{owners: []string{"role-1", "role-2"}}
	svc.SetReferrers(referrers)

	created, err := svc.Create(ctx, "admin", CreateInput{Name: " users.view ", Type: TypeView})
	require.NoError(t, err)
	require.Equal(t, "users.view", created.Name)

	desc := "read users"
	updated, err := svc.Update(ctx, "admin", created.ID, Patch{Description: &desc})
	require.NoError(t, err)
	require.Equal(t, "users.view", updated.Name)
	require.Equal(t, desc, updated.Description)

	_, err = svc.Update(ctx, "admin", created.ID, Patch{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Delete(ctx, "admin", created.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"role-1", "role-2"}, referrers.invalidated)

	require.ErrorIs(t, svc.Exists(ctx, created.ID), shared.ErrNotFound)
	require.Equal(t, []string{events.PermissionCreated, events.PermissionUpdated, events.PermissionDeleted}, pub.Types())
}
