package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalink/chatsync/internal/identity"
	"github.com/vitalink/chatsync/internal/store"
	"github.com/vitalink/chatsync/pkg/logger"
)

func newTestManager(t *testing.T) (*Manager, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	t.Cleanup(mem.Close)

	m := NewManager(func() *Controller {
		return New(mem, &fakeTransport{reply: "ok"}, logger.NewNop())
	})
	t.Cleanup(m.Close)
	return m, mem
}

func TestManagerReusesControllerPerUser(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a1, err := m.For(ctx, identity.User{ID: "u1", Name: "Ada"})
	require.NoError(t, err)
	a2, err := m.For(ctx, identity.User{ID: "u1", Name: "Ada"})
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	b, err := m.For(ctx, identity.User{ID: "u2", Name: "Brin"})
	require.NoError(t, err)
	assert.NotSame(t, a1, b)
}

func TestManagerIsolatesUsers(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.For(ctx, identity.User{ID: "u1", Name: "Ada"})
	require.NoError(t, err)
	b, err := m.For(ctx, identity.User{ID: "u2", Name: "Brin"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.ActiveSessionID() != "" && b.ActiveSessionID() != ""
	}, 3*time.Second, 5*time.Millisecond)

	assert.NotEqual(t, a.ActiveSessionID(), b.ActiveSessionID())
	assert.Len(t, a.Sessions(), 1)
	assert.Len(t, b.Sessions(), 1)
}

func TestManagerConcurrentFirstUse(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	user := identity.User{ID: "u1", Name: "Ada"}

	const workers = 16
	controllers := make([]*Controller, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			c, err := m.For(ctx, user)
			if err != nil {
				errs[i] = err
				return
			}
			controllers[i] = c
			// The controller must be usable the moment it is handed
			// out; a half-attached one would reject this.
			_, errs[i] = c.CreateSession(ctx)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, controllers[0], controllers[i])
	}
}

func TestManagerDrop(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a1, err := m.For(ctx, identity.User{ID: "u1", Name: "Ada"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return a1.ActiveSessionID() != ""
	}, 3*time.Second, 5*time.Millisecond)

	m.Drop("u1")
	assert.Empty(t, a1.ActiveSessionID())

	// A fresh controller is built on the next sight of the user, and it
	// re-adopts the sessions already in the store.
	a2, err := m.For(ctx, identity.User{ID: "u1", Name: "Ada"})
	require.NoError(t, err)
	assert.NotSame(t, a1, a2)
	require.Eventually(t, func() bool {
		return len(a2.Sessions()) == 1
	}, 3*time.Second, 5*time.Millisecond)
}
