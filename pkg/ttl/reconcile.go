package ttl

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"ttltree/storage"
)

const reconcilePage = 256

// Report summarizes a reconciliation pass.
type Report struct {
	// Forward and Reverse count the rows inspected in each index.
	Forward int
	Reverse int

	// OrphanReverse counts Reverse rows with no matching Forward row.
	OrphanReverse int
	// MissingReverse counts Forward rows whose Reverse row was recreated.
	MissingReverse int
	// Dangling counts index entries dropped because the primary row is gone.
	Dangling int
	// Malformed counts undecodable rows that were deleted.
	Malformed int
	// Adopted counts primary rows without a deadline that were given one.
	Adopted int
}

// Repaired reports whether the pass changed anything.
func (r Report) Repaired() bool {
	return r.OrphanReverse+r.MissingReverse+r.Dangling+r.Malformed+r.Adopted > 0
}

// Reconcile checks that Forward and Reverse agree and that every indexed key
// still has a primary row, fixing whatever it finds. When adopt is positive,
// primary rows that carry no deadline are given one of now+adopt; reactive
// trees use this to pick up writes made while no observer was running.
func (ix *Index) Reconcile(ctx context.Context, adopt time.Duration) (Report, error) {
	var rep Report

	err := walk(ctx, ix.reverse, func(rk, value []byte) error {
		rep.Reverse++
		var fix repair
		err := ix.engine.Update(ctx, func(txn storage.Txn) error {
			fix = repairNone
			ts, key, err := splitReverseKey(rk)
			if err != nil || !bytes.Equal(key, value) {
				fix = repairMalformed
				return txn.Delete(ix.reverse, rk)
			}
			current, found, err := ix.peek(txn, key)
			if err != nil || (found && current == ts) {
				return err
			}
			fix = repairOrphanReverse
			return txn.Delete(ix.reverse, rk)
		})
		if err == nil {
			rep.record(ix, fix, rk)
		}
		return err
	})
	if err != nil {
		return rep, fmt.Errorf("reconcile reverse index: %w", err)
	}

	err = walk(ctx, ix.forward, func(key, raw []byte) error {
		rep.Forward++
		var fix repair
		err := ix.engine.Update(ctx, func(txn storage.Txn) error {
			fix = repairNone
			ts, err := decodeTimestamp(raw)
			if err != nil {
				fix = repairMalformed
				return txn.Delete(ix.forward, key)
			}
			_, live, err := txn.Get(ix.primary, key)
			if err != nil {
				return err
			}
			if !live {
				fix = repairDangling
				if err := txn.Delete(ix.forward, key); err != nil {
					return err
				}
				return txn.Delete(ix.reverse, reverseKey(ts, key))
			}
			_, indexed, err := txn.Get(ix.reverse, reverseKey(ts, key))
			if err != nil || indexed {
				return err
			}
			fix = repairMissingReverse
			return txn.Set(ix.reverse, reverseKey(ts, key), key)
		})
		if err == nil {
			rep.record(ix, fix, key)
		}
		return err
	})
	if err != nil {
		return rep, fmt.Errorf("reconcile forward index: %w", err)
	}

	if adopt > 0 {
		expiry, err := ix.deadline(adopt)
		if err != nil {
			return rep, err
		}
		err = walk(ctx, ix.primary, func(key, _ []byte) error {
			var fix repair
			err := ix.engine.Update(ctx, func(txn storage.Txn) error {
				fix = repairNone
				_, found, err := txn.Get(ix.forward, key)
				if err != nil || found {
					return err
				}
				fix = repairAdopted
				return ix.touch(txn, key, expiry)
			})
			if err == nil {
				rep.record(ix, fix, key)
			}
			return err
		})
		if err != nil {
			return rep, fmt.Errorf("adopt untracked keys: %w", err)
		}
	}

	if rep.Repaired() {
		ix.logger.Info("index reconciled", "tree", ix.primary.Name(),
			"orphan_reverse", rep.OrphanReverse, "missing_reverse", rep.MissingReverse,
			"dangling", rep.Dangling, "malformed", rep.Malformed, "adopted", rep.Adopted)
	}
	return rep, nil
}

type repair int

const (
	repairNone repair = iota
	repairMalformed
	repairOrphanReverse
	repairMissingReverse
	repairDangling
	repairAdopted
)

func (r *Report) record(ix *Index, fix repair, row []byte) {
	name := ix.primary.Name()
	switch fix {
	case repairMalformed:
		r.Malformed++
		ix.logger.Warn("dropped malformed index row", "tree", name, "row", row)
	case repairOrphanReverse:
		r.OrphanReverse++
		ix.logger.Warn("dropped orphan reverse row", "tree", name, "row", row)
	case repairMissingReverse:
		r.MissingReverse++
		ix.logger.Warn("restored missing reverse row", "tree", name, "key", row)
	case repairDangling:
		r.Dangling++
		ix.logger.Warn("dropped index rows of missing key", "tree", name, "key", row)
	case repairAdopted:
		r.Adopted++
		ix.logger.Debug("adopted untracked key", "tree", name, "key", row)
	}
}

type kvPair struct {
	key   []byte
	value []byte
}

// walk visits every row of tree a page at a time, so fn may write to the
// engine without holding a long-lived read transaction open.
func walk(ctx context.Context, tree storage.Tree, fn func(key, value []byte) error) error {
	var start []byte
	for {
		page := make([]kvPair, 0, reconcilePage)
		err := tree.Scan(ctx, start, nil, func(k, v []byte) error {
			page = append(page, kvPair{key: k, value: v})
			if len(page) >= reconcilePage {
				return storage.ErrStopIteration
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, p := range page {
			if err := fn(p.key, p.value); err != nil {
				return err
			}
		}
		if len(page) < reconcilePage {
			return nil
		}
		last := page[len(page)-1].key
		start = append(append([]byte{}, last...), 0)
	}
}
