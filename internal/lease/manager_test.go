package lease

import (
	"context"
	"errors"
	"script-desk/internal/domain"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().Truncate(time.Millisecond)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

const testTTL = 15 * time.Minute

// managerFactory builds a backend on a fresh script scope.
type managerFactory func(t *testing.T, clock Clock) (Manager, domain.Scope)

func claim(user, session string) Claim {
	return Claim{User: user, UserName: "Name " + user, Session: session}
}

// runManagerSuite checks the behaviour every backend must share.
func runManagerSuite(t *testing.T, factory managerFactory) {
	ctx := context.Background()

	t.Run("second user is locked out", func(t *testing.T) {
		clock := newFakeClock()
		m, scope := factory(t, clock.Now)

		got, err := m.Acquire(ctx, scope, claim("u1", "s1"))
		require.NoError(t, err)
		assert.Equal(t, "u1", got.Holder)
		assert.True(t, clock.Now().Add(testTTL).Equal(got.ExpiresAt))

		_, err = m.Acquire(ctx, scope, claim("u2", "s2"))
		locked, ok := domain.AsLocked(err)
		require.True(t, ok, "expected LockedError, got %v", err)
		assert.Equal(t, "u1", locked.Holder)
		assert.Equal(t, "Name u1", locked.HolderName)
		assert.False(t, locked.HeldBySelf)
	})

	t.Run("expired lease can be taken without release", func(t *testing.T) {
		clock := newFakeClock()
		m, scope := factory(t, clock.Now)

		_, err := m.Acquire(ctx, scope, claim("u1", "s1"))
		require.NoError(t, err)

		clock.Advance(testTTL - time.Millisecond)
		status, err := m.Status(ctx, scope)
		require.NoError(t, err)
		require.NotNil(t, status)

		clock.Advance(time.Millisecond)
		status, err = m.Status(ctx, scope)
		require.NoError(t, err)
		assert.Nil(t, status, "lease must read as free at issuedAt+TTL")

		got, err := m.Acquire(ctx, scope, claim("u2", "s2"))
		require.NoError(t, err)
		assert.Equal(t, "u2", got.Holder)
	})

	t.Run("same session renews", func(t *testing.T) {
		clock := newFakeClock()
		m, scope := factory(t, clock.Now)

		first, err := m.Acquire(ctx, scope, claim("u1", "s1"))
		require.NoError(t, err)

		clock.Advance(time.Minute)
		renewed, err := m.Acquire(ctx, scope, claim("u1", "s1"))
		require.NoError(t, err)
		assert.True(t, renewed.ExpiresAt.After(first.ExpiresAt))
	})

	t.Run("same user other session needs reclaim", func(t *testing.T) {
		clock := newFakeClock()
		m, scope := factory(t, clock.Now)

		_, err := m.Acquire(ctx, scope, claim("u1", "tab-a"))
		require.NoError(t, err)

		_, err = m.Acquire(ctx, scope, claim("u1", "tab-b"))
		locked, ok := domain.AsLocked(err)
		require.True(t, ok)
		assert.True(t, locked.HeldBySelf)

		c := claim("u1", "tab-b")
		c.Reclaim = true
		_, err = m.Acquire(ctx, scope, c)
		require.NoError(t, err)

		// the old tab can no longer renew or release
		_, err = m.Acquire(ctx, scope, claim("u1", "tab-a"))
		_, ok = domain.AsLocked(err)
		assert.True(t, ok)
		released, err := m.Release(ctx, scope, "u1", "tab-a")
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("renew extends only the holding session", func(t *testing.T) {
		clock := newFakeClock()
		m, scope := factory(t, clock.Now)

		first, err := m.Acquire(ctx, scope, claim("u1", "tab-a"))
		require.NoError(t, err)

		clock.Advance(time.Minute)
		renew := claim("u1", "tab-a")
		renew.Renew = true
		renewed, err := m.Acquire(ctx, scope, renew)
		require.NoError(t, err)
		assert.True(t, renewed.ExpiresAt.After(first.ExpiresAt))

		reclaim := claim("u1", "tab-b")
		reclaim.Reclaim = true
		_, err = m.Acquire(ctx, scope, reclaim)
		require.NoError(t, err)

		_, err = m.Acquire(ctx, scope, renew)
		locked, ok := domain.AsLocked(err)
		require.True(t, ok, "expected LockedError, got %v", err)
		assert.True(t, locked.HeldBySelf)
	})

	t.Run("renew never grants a free lease", func(t *testing.T) {
		clock := newFakeClock()
		m, scope := factory(t, clock.Now)

		renew := claim("u1", "s1")
		renew.Renew = true
		_, err := m.Acquire(ctx, scope, renew)
		assert.ErrorIs(t, err, domain.ErrLeaseLost)

		_, err = m.Acquire(ctx, scope, claim("u1", "s1"))
		require.NoError(t, err)
		released, err := m.Release(ctx, scope, "u1", "s1")
		require.NoError(t, err)
		require.True(t, released)

		_, err = m.Acquire(ctx, scope, renew)
		assert.ErrorIs(t, err, domain.ErrLeaseLost)

		_, err = m.Acquire(ctx, scope, claim("u1", "s1"))
		require.NoError(t, err)
		clock.Advance(testTTL)
		_, err = m.Acquire(ctx, scope, renew)
		assert.ErrorIs(t, err, domain.ErrLeaseLost)

		status, err := m.Status(ctx, scope)
		require.NoError(t, err)
		assert.Nil(t, status)
	})

	t.Run("reclaim never takes another user's lease", func(t *testing.T) {
		clock := newFakeClock()
		m, scope := factory(t, clock.Now)

		_, err := m.Acquire(ctx, scope, claim("u1", "s1"))
		require.NoError(t, err)

		c := claim("u2", "s2")
		c.Reclaim = true
		_, err = m.Acquire(ctx, scope, c)
		_, ok := domain.AsLocked(err)
		assert.True(t, ok)
	})

	t.Run("release by non holder is a no-op", func(t *testing.T) {
		clock := newFakeClock()
		m, scope := factory(t, clock.Now)

		_, err := m.Acquire(ctx, scope, claim("u1", "s1"))
		require.NoError(t, err)

		released, err := m.Release(ctx, scope, "u2", "s2")
		require.NoError(t, err)
		assert.False(t, released)

		status, err := m.Status(ctx, scope)
		require.NoError(t, err)
		require.NotNil(t, status)
		assert.Equal(t, "u1", status.Holder)
	})

	t.Run("holder release frees the script", func(t *testing.T) {
		clock := newFakeClock()
		m, scope := factory(t, clock.Now)

		_, err := m.Acquire(ctx, scope, claim("u1", "s1"))
		require.NoError(t, err)

		released, err := m.Release(ctx, scope, "u1", "s1")
		require.NoError(t, err)
		assert.True(t, released)

		released, err = m.Release(ctx, scope, "u1", "s1")
		require.NoError(t, err)
		assert.False(t, released, "second release is a no-op")

		got, err := m.Acquire(ctx, scope, claim("u2", "s2"))
		require.NoError(t, err)
		assert.Equal(t, "u2", got.Holder)
	})

	t.Run("releasing an expired lease is a no-op", func(t *testing.T) {
		clock := newFakeClock()
		m, scope := factory(t, clock.Now)

		_, err := m.Acquire(ctx, scope, claim("u1", "s1"))
		require.NoError(t, err)
		clock.Advance(testTTL)

		released, err := m.Release(ctx, scope, "u1", "s1")
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("free script has no status", func(t *testing.T) {
		m, scope := factory(t, newFakeClock().Now)

		status, err := m.Status(ctx, scope)
		require.NoError(t, err)
		assert.Nil(t, status)
	})

	t.Run("concurrent acquire has exactly one winner", func(t *testing.T) {
		clock := newFakeClock()
		m, scope := factory(t, clock.Now)

		const contenders = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
			losers  []*domain.LockedError
		)
		for i := range contenders {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				user := "u" + string(rune('a'+i))
				got, err := m.Acquire(ctx, scope, claim(user, "s-"+user))
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					winners = append(winners, got.Holder)
					return
				}
				locked, ok := domain.AsLocked(err)
				if !ok && !errors.Is(err, ErrContention) {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if ok {
					losers = append(losers, locked)
				}
			}(i)
		}
		wg.Wait()

		require.Len(t, winners, 1)
		for _, l := range losers {
			assert.Equal(t, winners[0], l.Holder)
		}
	})

	t.Run("invalid claims are rejected", func(t *testing.T) {
		m, scope := factory(t, newFakeClock().Now)

		_, err := m.Acquire(ctx, scope, Claim{User: "u1"})
		assert.Error(t, err)
		_, err = m.Acquire(ctx, domain.Scope{}, claim("u1", "s1"))
		assert.ErrorIs(t, err, domain.ErrInvalidScope)
	})
}
