package ttl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRejectsInvalidTTL(t *testing.T) {
	e := newTestEngine(t)

	_, err := Open(context.Background(), e, "salut", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = Open(context.Background(), e, "salut", -time.Second)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = OpenTree(context.Background(), e, "salut", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestOpenRejectsEmptyName(t *testing.T) {
	e := newTestEngine(t)
	_, err := Open(context.Background(), e, "", time.Second)
	assert.Error(t, err)
}

func TestStoreExpiresAfterTTL(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, 3*time.Second, clock)
	ctx := context.Background()

	_, found, err := st.Set(ctx, []byte("lol"), []byte("kero"))
	require.NoError(t, err)
	assert.False(t, found)
	requireIndexed(t, st.Index(), "lol", secs(3*time.Second))

	for _, at := range []time.Duration{time.Second, 2 * time.Second} {
		clock.At(at)
		value, found, err := st.Get(ctx, []byte("lol"))
		require.NoError(t, err)
		require.True(t, found, "at %s", at)
		assert.Equal(t, []byte("kero"), value)
	}

	clock.At(3 * time.Second)
	_, found, err = st.Get(ctx, []byte("lol"))
	require.NoError(t, err)
	assert.False(t, found)

	_, err = st.Sweeper().Sweep(ctx)
	require.NoError(t, err)
	requireGone(t, st.Index(), "lol")
}

func TestStoreSetResetsDeadline(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, 3*time.Second, clock)
	ctx := context.Background()

	_, _, err := st.Set(ctx, []byte("lol"), []byte("kero"))
	require.NoError(t, err)

	clock.At(time.Second)
	old, found, err := st.Set(ctx, []byte("lol"), []byte("kero2"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("kero"), old)
	requireIndexed(t, st.Index(), "lol", secs(4*time.Second))
	assert.Equal(t, 1, rowCount(t, st.Index().reverse), "old reverse row must be replaced")

	clock.At(3 * time.Second)
	value, found, err := st.Get(ctx, []byte("lol"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("kero2"), value)

	n, err := st.Sweeper().Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.At(4 * time.Second)
	_, found, err = st.Get(ctx, []byte("lol"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreDeadlineTruncatesToSeconds(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, time.Second, clock)
	ctx := context.Background()

	clock.At(500 * time.Millisecond)
	_, _, err := st.Set(ctx, []byte("lol"), []byte("kero"))
	require.NoError(t, err)
	requireIndexed(t, st.Index(), "lol", secs(time.Second))

	clock.At(999 * time.Millisecond)
	_, found, err := st.Get(ctx, []byte("lol"))
	require.NoError(t, err)
	assert.True(t, found)

	clock.At(time.Second)
	_, found, err = st.Get(ctx, []byte("lol"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreSetReturnsExpiredValue(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, time.Second, clock)
	ctx := context.Background()

	_, _, err := st.Set(ctx, []byte("lol"), []byte("kero"))
	require.NoError(t, err)

	clock.At(5 * time.Second)
	old, found, err := st.Set(ctx, []byte("lol"), []byte("kero2"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("kero"), old)
	requireIndexed(t, st.Index(), "lol", secs(6*time.Second))
}

func TestStoreGetIgnoresUntrackedRows(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, time.Minute, clock)
	ctx := context.Background()

	_, _, err := st.Index().Primary().Set(ctx, []byte("raw"), []byte("value"))
	require.NoError(t, err)

	_, found, err := st.Get(ctx, []byte("raw"))
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = st.Del(ctx, []byte("raw"))
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = st.Index().Primary().Get(ctx, []byte("raw"))
	require.NoError(t, err)
	assert.False(t, found, "del removes the row even when untracked")
}

func TestStoreGetDropsIndexOfMissingKey(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, time.Minute, clock)
	ctx := context.Background()

	_, _, err := st.Set(ctx, []byte("lol"), []byte("kero"))
	require.NoError(t, err)
	_, _, err = st.Index().Primary().Delete(ctx, []byte("lol"))
	require.NoError(t, err)

	_, found, err := st.Get(ctx, []byte("lol"))
	require.NoError(t, err)
	assert.False(t, found)
	requireGone(t, st.Index(), "lol")
}

func TestStoreDel(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, 3*time.Second, clock)
	ctx := context.Background()

	_, _, err := st.Set(ctx, []byte("lol"), []byte("kero"))
	require.NoError(t, err)

	old, found, err := st.Del(ctx, []byte("lol"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("kero"), old)
	requireGone(t, st.Index(), "lol")

	_, found, err = st.Del(ctx, []byte("lol"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreDelAfterExpiry(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, 3*time.Second, clock)
	ctx := context.Background()

	_, _, err := st.Set(ctx, []byte("lol"), []byte("kero"))
	require.NoError(t, err)

	clock.At(3 * time.Second)
	_, found, err := st.Del(ctx, []byte("lol"))
	require.NoError(t, err)
	assert.False(t, found)
	requireGone(t, st.Index(), "lol")
}

func TestStoreSetWithTTL(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, time.Minute, clock)
	ctx := context.Background()

	_, _, err := st.SetWithTTL(ctx, []byte("k"), []byte("v"), 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, _, err = st.SetWithTTL(ctx, []byte("k"), []byte("v"), 2*time.Second)
	require.NoError(t, err)
	requireIndexed(t, st.Index(), "k", secs(2*time.Second))

	clock.At(2 * time.Second)
	_, found, err := st.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreExpire(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, 3*time.Second, clock)
	ctx := context.Background()

	_, err := st.Expire(ctx, []byte("lol"), 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	ok, err := st.Expire(ctx, []byte("lol"), time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "missing key")

	_, _, err = st.Set(ctx, []byte("lol"), []byte("kero"))
	require.NoError(t, err)

	clock.At(time.Second)
	ok, err = st.Expire(ctx, []byte("lol"), 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	requireIndexed(t, st.Index(), "lol", secs(11*time.Second))

	value, found, err := st.Get(ctx, []byte("lol"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("kero"), value)

	clock.At(11 * time.Second)
	ok, err = st.Expire(ctx, []byte("lol"), 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "expired key")
}

func TestStoreTTL(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, 3*time.Second, clock)
	ctx := context.Background()

	_, found, err := st.TTL(ctx, []byte("lol"))
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = st.Set(ctx, []byte("lol"), []byte("kero"))
	require.NoError(t, err)

	clock.At(1500 * time.Millisecond)
	left, found, err := st.TTL(ctx, []byte("lol"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1500*time.Millisecond, left)

	clock.At(3 * time.Second)
	_, found, err = st.TTL(ctx, []byte("lol"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreKeys(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, 3*time.Second, clock)
	ctx := context.Background()

	for _, k := range []string{"user:1", "user:2", "user:3", "order:1"} {
		_, _, err := st.Set(ctx, []byte(k), []byte("v"))
		require.NoError(t, err)
	}
	_, _, err := st.SetWithTTL(ctx, []byte("user:0"), []byte("v"), time.Second)
	require.NoError(t, err)
	_, _, err = st.Index().Primary().Set(ctx, []byte("user:raw"), []byte("v"))
	require.NoError(t, err)

	clock.At(time.Second)
	keys, err := st.Keys(ctx, []byte("user:"), 0)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("user:1"), []byte("user:2"), []byte("user:3")}, keys)

	keys, err = st.Keys(ctx, []byte("user:"), 2)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = st.Keys(ctx, nil, 0)
	require.NoError(t, err)
	assert.Len(t, keys, 4)
}

func TestStoreClosed(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, time.Second, clock)
	ctx := context.Background()

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	_, _, err := st.Set(ctx, []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = st.Get(ctx, []byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = st.Del(ctx, []byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = st.Keys(ctx, nil, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, st.Err())
}

func TestStoreClockBeforeEpoch(t *testing.T) {
	e := newTestEngine(t)
	st, err := Open(context.Background(), e, "salut", time.Second,
		WithClock(func() time.Time { return time.Unix(-10, 0) }),
		WithSweepInterval(time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, _, err = st.Set(context.Background(), []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, ErrClockBeforeEpoch)
}

func TestStoreString(t *testing.T) {
	e := newTestEngine(t)
	st := openTestStore(t, e, 3*time.Second, newManualClock())
	assert.Equal(t, "salut", st.Name())
	assert.Equal(t, 3*time.Second, st.DefaultTTL())
	assert.Equal(t, "ttl.Store{salut, ttl=3s}", st.String())
}

func TestStoreMSetMGet(t *testing.T) {
	e := newTestEngine(t)
	clock := newManualClock()
	st := openTestStore(t, e, 3*time.Second, clock)
	ctx := context.Background()

	require.NoError(t, st.MSet(ctx, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}))
	requireIndexed(t, st.Index(), "a", secs(3*time.Second))
	requireIndexed(t, st.Index(), "b", secs(3*time.Second))

	clock.At(time.Second)
	_, _, err := st.SetWithTTL(ctx, []byte("c"), []byte("3"), 10*time.Second)
	require.NoError(t, err)

	got, err := st.MGet(ctx, []string{"a", "b", "c", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")}, got)

	clock.At(3 * time.Second)
	got, err = st.MGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"c": []byte("3")}, got)
}
