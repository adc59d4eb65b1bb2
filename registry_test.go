package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestRegistryRegisterDeregister(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewClientRegistryWithDefaults(cancelCtx)
	defer registry.Close()

	userId := NewId()
	sessionA := NewSession("a", userId, RoleBusiness, 8)
	sessionB := NewSession("b", userId, RoleBusiness, 8)

	registry.Register(sessionA)
	registry.Register(sessionB)

	// multiple simultaneous sessions per user are independent
	assert.Equal(t, 2, registry.SessionCount())
	assert.Equal(t, 2, len(registry.SessionsForUser(userId)))

	registry.Deregister(sessionA)
	assert.Equal(t, 1, registry.SessionCount())
	assert.Equal(t, true, sessionA.IsClosed())
	assert.Equal(t, false, sessionB.IsClosed())

	// deregistration halts delivery immediately
	assert.Equal(t, false, sessionA.Deliver([]byte("x")))
	assert.Equal(t, true, sessionB.Deliver([]byte("x")))
}

func TestRegistryReplaceSameSessionId(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewClientRegistryWithDefaults(cancelCtx)
	defer registry.Close()

	userId := NewId()
	previous := NewSession("s", userId, RoleInfluencer, 8)
	next := NewSession("s", userId, RoleInfluencer, 8)

	registry.Register(previous)
	registry.Register(next)

	assert.Equal(t, 1, registry.SessionCount())
	assert.Equal(t, true, previous.IsClosed())
	assert.Equal(t, false, next.IsClosed())
}

func TestRegistryConsistencyUnderChurn(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewClientRegistryWithDefaults(cancelCtx)
	defer registry.Close()

	userId := NewId()
	n := 200

	// deliver concurrently with register/deregister churn for the same
	// user. a delivery must never land on a session after its
	// deregistration completed.
	stop := make(chan struct{})
	var deliverWg sync.WaitGroup
	deliverWg.Add(1)
	go func() {
		defer deliverWg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, session := range registry.SessionsForUser(userId) {
				session.Deliver([]byte("x"))
			}
		}
	}()

	var churnWg sync.WaitGroup
	for g := 0; g < 4; g += 1 {
		churnWg.Add(1)
		go func(g int) {
			defer churnWg.Done()
			for i := 0; i < n; i += 1 {
				session := NewSession(NewId().String(), userId, RoleInfluencer, 8)
				registry.Register(session)
				registry.Deregister(session)

				// once deregistration returns the session is closed,
				// so no delivery can slip in afterward
				if session.Deliver([]byte("late")) {
					t.Errorf("delivered to a deregistered session")
					return
				}
			}
		}(g)
	}
	churnWg.Wait()
	close(stop)
	deliverWg.Wait()

	assert.Equal(t, 0, registry.SessionCount())
	assert.Equal(t, 0, len(registry.SessionsForUser(userId)))
}

func TestRegistrySweepIdleSessions(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewClientRegistry(cancelCtx, &ClientRegistrySettings{
		IdleTimeout:   50 * time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
	})
	defer registry.Close()

	idle := NewSession("idle", NewId(), RoleBusiness, 8)
	active := NewSession("active", NewId(), RoleInfluencer, 8)
	registry.Register(idle)
	registry.Register(active)

	// keep one session alive past the idle cutoff
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				active.Touch()
			}
		}
	}()

	waitFor(t, 2*time.Second, func() bool {
		return registry.SessionCount() == 1
	})
	close(stop)

	assert.Equal(t, true, idle.IsClosed())
	assert.Equal(t, false, active.IsClosed())
	assert.Equal(t, 1, len(registry.SessionsForUser(active.UserId)))
}

func TestRegistrySessionsForRole(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewClientRegistryWithDefaults(cancelCtx)
	defer registry.Close()

	registry.Register(NewSession("b1", NewId(), RoleBusiness, 8))
	registry.Register(NewSession("i1", NewId(), RoleInfluencer, 8))
	registry.Register(NewSession("i2", NewId(), RoleInfluencer, 8))

	assert.Equal(t, 1, len(registry.SessionsForRole(RoleBusiness)))
	assert.Equal(t, 2, len(registry.SessionsForRole(RoleInfluencer)))
}
