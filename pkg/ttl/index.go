package ttl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"ttltree/storage"
)

const (
	forwardTreePrefix = "__ttl_times_"
	reverseTreePrefix = "__ttl_keys_"
)

// Index maintains the Forward (key -> expiry) and Reverse
// (expiry‖key -> key) trees that accompany a TTL-bearing primary tree.
// Every mutation runs in one engine transaction, so the two indices and the
// primary row never disagree after a crash.
type Index struct {
	engine  storage.Engine
	primary storage.Tree
	forward storage.Tree
	reverse storage.Tree
	clock   Clock
	logger  hclog.Logger

	// followsFeed is set when an Observer maintains the index. A primary
	// row newer than its Forward row is then a rewrite the observer has
	// not applied yet.
	followsFeed bool
}

func newIndex(engine storage.Engine, name string, clock Clock, logger hclog.Logger) (*Index, error) {
	primary, err := engine.OpenTree(name)
	if err != nil {
		return nil, fmt.Errorf("open primary tree %q: %w", name, err)
	}
	forward, err := engine.OpenTree(forwardTreePrefix + name)
	if err != nil {
		return nil, fmt.Errorf("open forward index of %q: %w", name, err)
	}
	reverse, err := engine.OpenTree(reverseTreePrefix + name)
	if err != nil {
		return nil, fmt.Errorf("open reverse index of %q: %w", name, err)
	}
	return &Index{
		engine:  engine,
		primary: primary,
		forward: forward,
		reverse: reverse,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Primary returns the tree whose keys the index tracks.
func (ix *Index) Primary() storage.Tree { return ix.primary }

func (ix *Index) now() (uint64, error) {
	return unix(ix.clock())
}

func (ix *Index) deadline(ttl time.Duration) (uint64, error) {
	return unix(ix.clock().Add(ttl))
}

// Touch gives key a deadline of now+ttl, replacing any previous one.
func (ix *Index) Touch(ctx context.Context, key []byte, ttl time.Duration) (uint64, error) {
	expiry, err := ix.deadline(ttl)
	if err != nil {
		return 0, err
	}
	err = ix.engine.Update(ctx, func(txn storage.Txn) error {
		return ix.touch(txn, key, expiry)
	})
	if err != nil {
		return 0, fmt.Errorf("touch: %w", err)
	}
	return expiry, nil
}

func (ix *Index) touch(txn storage.Txn, key []byte, expiry uint64) error {
	if err := txn.Set(ix.reverse, reverseKey(expiry, key), key); err != nil {
		return err
	}
	old, found, err := txn.Get(ix.forward, key)
	if err != nil {
		return err
	}
	if err := txn.Set(ix.forward, key, encodeTimestamp(expiry)); err != nil {
		return err
	}
	if !found {
		return nil
	}
	oldExpiry, err := decodeTimestamp(old)
	if err != nil {
		// The stale Reverse row cannot be located; the reconciler drops it.
		ix.logger.Warn("replaced malformed forward row", "tree", ix.primary.Name(), "key", key, "error", err)
		return nil
	}
	if oldExpiry == expiry {
		return nil
	}
	return txn.Delete(ix.reverse, reverseKey(oldExpiry, key))
}

// Release drops the index rows of key. expired reports whether the key was
// already past its deadline; tracked reports whether it had one at all.
func (ix *Index) Release(ctx context.Context, key []byte) (expired bool, err error) {
	now, err := ix.now()
	if err != nil {
		return false, err
	}
	err = ix.engine.Update(ctx, func(txn storage.Txn) error {
		var err error
		expired, _, err = ix.release(txn, key, now)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("release: %w", err)
	}
	return expired, nil
}

func (ix *Index) release(txn storage.Txn, key []byte, now uint64) (expired, tracked bool, err error) {
	raw, found, err := txn.Get(ix.forward, key)
	if err != nil || !found {
		return false, false, err
	}
	if err := txn.Delete(ix.forward, key); err != nil {
		return false, false, err
	}
	ts, err := decodeTimestamp(raw)
	if err != nil {
		ix.logger.Warn("released malformed forward row", "tree", ix.primary.Name(), "key", key, "error", err)
		return true, true, nil
	}
	if err := txn.Delete(ix.reverse, reverseKey(ts, key)); err != nil {
		return false, false, err
	}
	return ts <= now, true, nil
}

// PeekExpiry reads the deadline of key from the Forward index.
func (ix *Index) PeekExpiry(ctx context.Context, key []byte) (uint64, bool, error) {
	var ts uint64
	var found bool
	err := ix.engine.View(ctx, func(txn storage.Txn) error {
		var err error
		ts, found, err = ix.peek(txn, key)
		return err
	})
	return ts, found, err
}

// peek treats a malformed Forward row as already expired.
func (ix *Index) peek(txn storage.Txn, key []byte) (uint64, bool, error) {
	raw, found, err := txn.Get(ix.forward, key)
	if err != nil || !found {
		return 0, false, err
	}
	ts, err := decodeTimestamp(raw)
	if err != nil {
		return 0, true, nil
	}
	return ts, true, nil
}

type expireOutcome int

const (
	expireRemoved expireOutcome = iota
	// Reverse row had no Forward row.
	expireOrphan
	// Forward row moved to another deadline since the Reverse row was read.
	expireStale
	// Reverse row was already removed by a concurrent writer or sweep.
	expireGone
	// Primary row was rewritten after its deadline was set and the
	// observer has yet to move the deadline.
	expirePending
)

// Expire evicts key if its Forward row still holds ts: the primary row and
// both index rows go in one transaction. Otherwise only the Reverse row
// (ts, key) is dropped, so a concurrent rewrite survives. A malformed
// Forward row counts as a match. On an observed tree, a key whose primary
// row is newer than its deadline is left alone until the observer catches
// up.
func (ix *Index) Expire(ctx context.Context, key []byte, ts uint64) (bool, error) {
	outcome, err := ix.expire(ctx, key, ts)
	return outcome == expireRemoved && err == nil, err
}

func (ix *Index) expire(ctx context.Context, key []byte, ts uint64) (expireOutcome, error) {
	var outcome expireOutcome
	err := ix.engine.Update(ctx, func(txn storage.Txn) error {
		rk := reverseKey(ts, key)
		_, present, err := txn.Get(ix.reverse, rk)
		if err != nil {
			return err
		}
		current, found, err := ix.peek(txn, key)
		if err != nil {
			return err
		}
		if !found || (current != ts && current != 0) {
			switch {
			case !present:
				outcome = expireGone
				return nil
			case !found:
				outcome = expireOrphan
			default:
				outcome = expireStale
			}
			return txn.Delete(ix.reverse, rk)
		}
		if ix.followsFeed {
			pending, err := ix.rewritten(txn, key)
			if err != nil {
				return err
			}
			if pending {
				outcome = expirePending
				return nil
			}
		}
		if present {
			if err := txn.Delete(ix.reverse, rk); err != nil {
				return err
			}
		}
		outcome = expireRemoved
		if err := txn.Delete(ix.primary, key); err != nil {
			return err
		}
		return txn.Delete(ix.forward, key)
	})
	if err != nil {
		return 0, fmt.Errorf("expire: %w", err)
	}
	return outcome, nil
}

// rewritten reports whether the primary row of key was committed after its
// Forward row. Reading the primary row also makes a raw write that commits
// during the transaction a conflict.
func (ix *Index) rewritten(txn storage.Txn, key []byte) (bool, error) {
	pv, live, err := txn.Version(ix.primary, key)
	if err != nil || !live {
		return false, err
	}
	fv, _, err := txn.Version(ix.forward, key)
	if err != nil {
		return false, err
	}
	return pv > fv, nil
}

// forget drops the index rows of a key whose primary row has vanished,
// provided the Forward row still holds ts and the primary is still absent.
func (ix *Index) forget(ctx context.Context, key []byte, ts uint64) (bool, error) {
	var dropped bool
	err := ix.engine.Update(ctx, func(txn storage.Txn) error {
		dropped = false
		current, found, err := ix.peek(txn, key)
		if err != nil || !found || current != ts {
			return err
		}
		_, live, err := txn.Get(ix.primary, key)
		if err != nil || live {
			return err
		}
		if err := txn.Delete(ix.forward, key); err != nil {
			return err
		}
		dropped = true
		return txn.Delete(ix.reverse, reverseKey(ts, key))
	})
	return dropped, err
}

type expiredRow struct {
	raw []byte
	key []byte
	ts  uint64
	err error
}

// collectExpired returns up to limit Reverse rows from start on whose
// deadline is at or before now, in deadline order.
func (ix *Index) collectExpired(ctx context.Context, start []byte, now uint64, limit int) ([]expiredRow, error) {
	rows := make([]expiredRow, 0, limit)
	end := encodeTimestamp(now + 1)
	err := ix.reverse.Scan(ctx, start, end, func(rk, _ []byte) error {
		ts, key, err := splitReverseKey(rk)
		rows = append(rows, expiredRow{raw: rk, key: key, ts: ts, err: err})
		if len(rows) >= limit {
			return storage.ErrStopIteration
		}
		return nil
	})
	return rows, err
}

// dropReverse removes a Reverse row by its raw key.
func (ix *Index) dropReverse(ctx context.Context, rk []byte) error {
	return ix.engine.Update(ctx, func(txn storage.Txn) error {
		return txn.Delete(ix.reverse, rk)
	})
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
