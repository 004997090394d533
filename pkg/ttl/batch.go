package ttl

import (
	"context"
	"fmt"

	"ttltree/storage"
)

// MSet stores every pair with the default TTL in a single transaction.
func (st *Store) MSet(ctx context.Context, pairs map[string][]byte) error {
	if err := st.checkOpen(); err != nil {
		return err
	}
	ix := st.index
	expiry, err := ix.deadline(st.ttl)
	if err != nil {
		return err
	}

	err = ix.engine.Update(ctx, func(txn storage.Txn) error {
		for k, v := range pairs {
			key := []byte(k)
			if err := txn.Set(ix.primary, key, v); err != nil {
				return err
			}
			if err := ix.touch(txn, key, expiry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mset: %w", err)
	}
	return nil
}

// MGet returns the live keys among keys. Expired keys are left for the
// sweeper.
func (st *Store) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := st.checkOpen(); err != nil {
		return nil, err
	}
	ix := st.index
	now, err := ix.now()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(keys))
	err = ix.engine.View(ctx, func(txn storage.Txn) error {
		for _, k := range keys {
			key := []byte(k)
			ts, tracked, err := ix.peek(txn, key)
			if err != nil {
				return err
			}
			if !tracked || ts <= now {
				continue
			}
			value, found, err := txn.Get(ix.primary, key)
			if err != nil {
				return err
			}
			if found {
				out[k] = value
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	return out, nil
}
