package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type failureCounter struct {
	mu    sync.Mutex
	names []string
}

func (c *failureCounter) RecordHandlerFailure(handler, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, handler)
}

func TestRouterIsolatesHandlerFailures(t *testing.T) {
	counter := &failureCounter{}
	router := NewRouter(nil, counter)

	var audited atomic.Int32
	router.Subscribe("notifier", func(context.Context, Event) error {
		return errors.New("smtp down")
	}, UserCreated)
	router.Subscribe("audit", func(context.Context, Event) error {
		audited.Add(1)
		return nil
	}, UserCreated, RoleCreated)

	event, err := New(UserCreated, "admin", "u1", map[string]string{"username": "alice"}, nil)
	require.NoError(t, err)

	require.NoError(t, router.Dispatch(context.Background(), event))
	require.EqualValues(t, 1, audited.Load())
	require.Equal(t, []string{"notifier"}, counter.names)
	require.Equal(t, []string{RoleCreated, UserCreated}, router.Topics())
}

func TestEmitterSwallowsPublishFailure(t *testing.T) {
	pub := &MemoryPublisher{}
	emitter := NewEmitter(pub, nil)

	emitter.Emit(context.Background(), RoleCreated, "u1", "r1", map[string]string{"name": "editor"}, nil)
	pub.FailWith(errors.New("broker unreachable"))
	emitter.Emit(context.Background(), RoleDeleted, "u1", "r1", nil, nil)

	require.Equal(t, []string{RoleCreated}, pub.Types())
	var payload map[string]string
	require.NoError(t, pub.Events()[0].Decode(&payload))
	require.Equal(t, "editor", payload["name"])
}

func TestEmitSurvivesCancelledContext(t *testing.T) {
	pub := &MemoryPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewEmitter(pub, nil).Emit(ctx, UserUpdated, "", "u1", nil, nil)
	require.Len(t, pub.Events(), 1)
}
