package ttl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ttltree/storage"
)

// epoch is a whole second so deadlines computed by tests line up exactly.
var epoch = time.Unix(1_700_000_000, 0)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: epoch}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// At moves the clock to epoch+d.
func (c *manualClock) At(d time.Duration) {
	c.mu.Lock()
	c.now = epoch.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T) *storage.BadgerEngine {
	t.Helper()
	e, err := storage.NewBadgerEngine(storage.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// openTestStore opens an explicit store whose background sweeper never
// fires on its own; tests drive sweeps by hand.
func openTestStore(t *testing.T, e storage.Engine, ttl time.Duration, clock *manualClock, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now), WithSweepInterval(time.Hour)}, opts...)
	st, err := Open(context.Background(), e, "salut", ttl, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func openTestTree(t *testing.T, e storage.Engine, ttl time.Duration, clock *manualClock, opts ...Option) *Tree {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now), WithSweepInterval(time.Hour)}, opts...)
	tree, err := OpenTree(context.Background(), e, "salut", ttl, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tree.Close() })
	return tree
}

func rowCount(t *testing.T, tree storage.Tree) int {
	t.Helper()
	n := 0
	err := tree.Scan(context.Background(), nil, nil, func(_, _ []byte) error {
		n++
		return nil
	})
	require.NoError(t, err)
	return n
}

// requireIndexed checks that key has exactly the given deadline in both
// indices.
func requireIndexed(t *testing.T, ix *Index, key string, ts uint64) {
	t.Helper()
	ctx := context.Background()

	got, found, err := ix.PeekExpiry(ctx, []byte(key))
	require.NoError(t, err)
	require.True(t, found, "forward row for %q", key)
	require.Equal(t, ts, got)

	value, found, err := ix.reverse.Get(ctx, reverseKey(ts, []byte(key)))
	require.NoError(t, err)
	require.True(t, found, "reverse row for %q", key)
	require.Equal(t, []byte(key), value)
}

// requireGone checks that key has no primary row and no index rows.
func requireGone(t *testing.T, ix *Index, key string) {
	t.Helper()
	ctx := context.Background()

	_, found, err := ix.primary.Get(ctx, []byte(key))
	require.NoError(t, err)
	require.False(t, found, "primary row for %q", key)

	_, found, err = ix.forward.Get(ctx, []byte(key))
	require.NoError(t, err)
	require.False(t, found, "forward row for %q", key)

	err = ix.reverse.Scan(ctx, nil, nil, func(rk, _ []byte) error {
		_, k, err := splitReverseKey(rk)
		if err == nil && string(k) == key {
			t.Fatalf("reverse row %x still references %q", rk, key)
		}
		return nil
	})
	require.NoError(t, err)
}

func secs(d time.Duration) uint64 {
	return uint64(epoch.Add(d).Unix())
}
