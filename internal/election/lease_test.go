package election

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t atomic.Int64 }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.t.Store(time.Unix(1_700_000_000, 0).UnixNano())
	return c
}

func (c *fakeClock) now() time.Time          { return time.Unix(0, c.t.Load()) }
func (c *fakeClock) advance(d time.Duration) { c.t.Add(int64(d)) }

// runLeaseStoreSuite checks the conditional-write contract of a LeaseStore.
func runLeaseStoreSuite(t *testing.T, store LeaseStore, clock *fakeClock) {
	ctx := context.Background()
	ttl := 5 * time.Second

	ok, err := store.TryAcquire(ctx, "counter", "a", ttl)
	require.NoError(t, err)
	assert.True(t, ok, "free lease must be acquired")

	ok, err = store.TryAcquire(ctx, "counter", "b", ttl)
	require.NoError(t, err)
	assert.False(t, ok, "held lease must not be stolen")

	ok, err = store.TryAcquire(ctx, "counter", "a", ttl)
	require.NoError(t, err)
	assert.True(t, ok, "holder must be able to renew")

	ok, err = store.TryAcquire(ctx, "other", "b", ttl)
	require.NoError(t, err)
	assert.True(t, ok, "names are independent")

	clock.advance(ttl + time.Second)
	ok, err = store.TryAcquire(ctx, "counter", "b", ttl)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be taken over")

	require.NoError(t, store.Release(ctx, "counter", "a"))
	ok, err = store.TryAcquire(ctx, "counter", "a", ttl)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-holder must not free the lease")

	require.NoError(t, store.Release(ctx, "counter", "b"))
	ok, err = store.TryAcquire(ctx, "counter", "a", ttl)
	require.NoError(t, err)
	assert.True(t, ok, "released lease must be free")
}

func TestMemoryLeaseStore(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryLeaseStore()
	store.now = clock.now
	runLeaseStoreSuite(t, store, clock)

	owner, held := store.Holder("counter")
	assert.True(t, held)
	assert.Equal(t, "a", owner)
}

func TestSQLiteLeaseStore(t *testing.T) {
	clock := newFakeClock()
	store, err := NewSQLiteLeaseStore(filepath.Join(t.TempDir(), "leases.db"))
	require.NoError(t, err)
	defer store.Close()
	store.now = clock.now

	runLeaseStoreSuite(t, store, clock)
}

func newTestElector(t *testing.T, store LeaseStore, owner string) *LeaseElector {
	t.Helper()
	e, err := NewLeaseElector(store, LeaseConfig{
		Owner:         owner,
		TTL:           300 * time.Millisecond,
		RenewInterval: 20 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestLeaseElectorSingleLeader(t *testing.T) {
	store := NewMemoryLeaseStore()
	a := newTestElector(t, store, "a")
	b := newTestElector(t, store, "b")

	var active, violations atomic.Int32
	var ranA, ranB atomic.Int32
	callback := func(ran *atomic.Int32) Callback {
		return func(ctx context.Context) {
			ran.Add(1)
			if active.Add(1) > 1 {
				violations.Add(1)
			}
			<-ctx.Done()
			active.Add(-1)
		}
	}

	ha, err := a.Register("write-rate", callback(&ranA))
	require.NoError(t, err)
	hb, err := b.Register("write-rate", callback(&ranB))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return ha.Leading() || hb.Leading() }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, ha.Leading() && hb.Leading(), "both registrants leading")
	assert.Equal(t, int32(1), active.Load())

	leader, follower := ha, hb
	if hb.Leading() {
		leader, follower = hb, ha
	}

	leader.Stop()
	assert.False(t, leader.Leading())

	// Released leases are taken over on the follower's next renew tick.
	require.Eventually(t, follower.Leading, 200*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, int32(2), ranA.Load()+ranB.Load(), "each registrant ran once")
	assert.Zero(t, violations.Load())
}

func TestLeaseElectorTakeoverAfterExpiry(t *testing.T) {
	store := NewMemoryLeaseStore()
	// A foreign owner holds the lease and never renews it.
	ok, err := store.TryAcquire(context.Background(), "read-rate", "crashed", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	e := newTestElector(t, store, "survivor")
	h, err := e.Register("read-rate", func(ctx context.Context) { <-ctx.Done() })
	require.NoError(t, err)

	assert.False(t, h.Leading())
	require.Eventually(t, h.Leading, time.Second, 5*time.Millisecond)
}

func TestLeaseElectorRegisterErrors(t *testing.T) {
	e := newTestElector(t, NewMemoryLeaseStore(), "a")

	_, err := e.Register("", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrEmptyName)

	require.NoError(t, e.Close())
	_, err = e.Register("x", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLeaseElectorCloseStopsCallbacks(t *testing.T) {
	e := newTestElector(t, NewMemoryLeaseStore(), "a")

	var exited atomic.Bool
	h, err := e.Register("x", func(ctx context.Context) {
		<-ctx.Done()
		exited.Store(true)
	})
	require.NoError(t, err)
	require.Eventually(t, h.Leading, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Close())
	assert.True(t, exited.Load())
	assert.False(t, h.Leading())
}

func TestNewLeaseElectorValidation(t *testing.T) {
	_, err := NewLeaseElector(NewMemoryLeaseStore(), LeaseConfig{
		TTL:           time.Second,
		RenewInterval: 2 * time.Second,
	}, zerolog.Nop())
	assert.Error(t, err)

	e, err := NewLeaseElector(NewMemoryLeaseStore(), LeaseConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.NotEmpty(t, e.Owner())
}
