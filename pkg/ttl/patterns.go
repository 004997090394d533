package ttl

import (
	"context"
	"fmt"

	"ttltree/storage"
)

// Keys returns up to limit live keys starting with prefix, in key order.
// Expired keys are skipped but left for the sweeper. A limit of zero or
// less means no limit.
func (st *Store) Keys(ctx context.Context, prefix []byte, limit int) ([][]byte, error) {
	if err := st.checkOpen(); err != nil {
		return nil, err
	}
	ix := st.index
	now, err := ix.now()
	if err != nil {
		return nil, err
	}

	var keys [][]byte
	err = ix.engine.View(ctx, func(txn storage.Txn) error {
		keys = keys[:0]
		var end []byte
		if len(prefix) > 0 {
			end = storage.PrefixEnd(prefix)
		}
		return txn.Scan(ix.primary, prefix, end, func(key, _ []byte) error {
			ts, tracked, err := ix.peek(txn, key)
			if err != nil {
				return err
			}
			if !tracked || ts <= now {
				return nil
			}
			keys = append(keys, key)
			if limit > 0 && len(keys) >= limit {
				return storage.ErrStopIteration
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	return keys, nil
}
