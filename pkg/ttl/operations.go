package ttl

import (
	"context"
	"fmt"
	"time"

	"ttltree/storage"
)

// Set stores value under key with the default TTL and returns the value it
// replaced, whether or not that value had already expired.
func (st *Store) Set(ctx context.Context, key, value []byte) ([]byte, bool, error) {
	return st.set(ctx, key, value, st.ttl)
}

func (st *Store) set(ctx context.Context, key, value []byte, ttl time.Duration) ([]byte, bool, error) {
	if err := st.checkOpen(); err != nil {
		return nil, false, err
	}
	expiry, err := st.index.deadline(ttl)
	if err != nil {
		return nil, false, err
	}

	ix := st.index
	var old []byte
	var found bool
	err = ix.engine.Update(ctx, func(txn storage.Txn) error {
		var err error
		old, found, err = txn.Get(ix.primary, key)
		if err != nil {
			return err
		}
		if err := txn.Set(ix.primary, key, value); err != nil {
			return err
		}
		return ix.touch(txn, key, expiry)
	})
	if err != nil {
		return nil, false, fmt.Errorf("set: %w", err)
	}
	return old, found, nil
}

// Get returns the value of a live key. A key past its deadline is removed
// on the spot and reported as missing; so is a key that was never given a
// deadline.
func (st *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := st.checkOpen(); err != nil {
		return nil, false, err
	}

	ix := st.index
	var value []byte
	var ts uint64
	var tracked, found bool
	err := ix.engine.View(ctx, func(txn storage.Txn) error {
		var err error
		ts, tracked, err = ix.peek(txn, key)
		if err != nil || !tracked {
			return err
		}
		value, found, err = txn.Get(ix.primary, key)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	if !tracked {
		return nil, false, nil
	}

	now, err := ix.now()
	if err != nil {
		return nil, false, err
	}
	if ts <= now {
		outcome, err := ix.expire(ctx, key, ts)
		if err != nil {
			return nil, false, err
		}
		if outcome == expirePending && found {
			return value, true, nil
		}
		return nil, false, nil
	}

	if !found {
		// Reactive trees see this briefly between a raw delete and the
		// observer catching up.
		dropped, err := ix.forget(ctx, key, ts)
		if err != nil {
			return nil, false, err
		}
		if dropped {
			st.logger.Debug("dropped index rows of missing key", "tree", ix.primary.Name(), "key", key)
		}
		return nil, false, nil
	}
	return value, true, nil
}

// Del removes key and returns its value. A key that had already expired, or
// that carried no deadline, is reported as missing even if its row was
// still physically present.
func (st *Store) Del(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := st.checkOpen(); err != nil {
		return nil, false, err
	}
	ix := st.index
	now, err := ix.now()
	if err != nil {
		return nil, false, err
	}

	var old []byte
	var found, expired, tracked bool
	err = ix.engine.Update(ctx, func(txn storage.Txn) error {
		var err error
		old, found, err = txn.Get(ix.primary, key)
		if err != nil {
			return err
		}
		if found {
			if err := txn.Delete(ix.primary, key); err != nil {
				return err
			}
		}
		expired, tracked, err = ix.release(txn, key, now)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("del: %w", err)
	}
	if !tracked || expired || !found {
		return nil, false, nil
	}
	return old, true, nil
}
