package ttl

import (
	"context"
	"fmt"
	"time"

	"ttltree/storage"
)

// SetWithTTL stores value under key with a TTL of its own.
func (st *Store) SetWithTTL(ctx context.Context, key, value []byte, ttl time.Duration) ([]byte, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}
	return st.set(ctx, key, value, ttl)
}

// Expire moves the deadline of a live key to now+ttl without touching its
// value. It reports false when the key is missing or already expired.
func (st *Store) Expire(ctx context.Context, key []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	if err := st.checkOpen(); err != nil {
		return false, err
	}
	ix := st.index
	now, err := ix.now()
	if err != nil {
		return false, err
	}
	expiry, err := ix.deadline(ttl)
	if err != nil {
		return false, err
	}

	var ok bool
	err = ix.engine.Update(ctx, func(txn storage.Txn) error {
		ok = false
		ts, tracked, err := ix.peek(txn, key)
		if err != nil || !tracked || ts <= now {
			return err
		}
		_, live, err := txn.Get(ix.primary, key)
		if err != nil || !live {
			return err
		}
		ok = true
		return ix.touch(txn, key, expiry)
	})
	if err != nil {
		return false, fmt.Errorf("expire: %w", err)
	}
	return ok, nil
}

// TTL returns how long a live key has left.
func (st *Store) TTL(ctx context.Context, key []byte) (time.Duration, bool, error) {
	if err := st.checkOpen(); err != nil {
		return 0, false, err
	}
	ix := st.index
	ts, tracked, err := ix.PeekExpiry(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("ttl: %w", err)
	}
	if !tracked {
		return 0, false, nil
	}
	now := ix.clock()
	secs, err := unix(now)
	if err != nil {
		return 0, false, err
	}
	if ts <= secs {
		return 0, false, nil
	}
	return time.Unix(int64(ts), 0).Sub(now), true, nil
}
