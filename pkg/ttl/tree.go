package ttl

import (
	"context"
	"errors"
	"sync"
	"time"

	"ttltree/storage"
)

// Tree is a reactive TTL tree: callers write the raw tree directly and an
// Observer gives every written key the tree's TTL.
type Tree struct {
	raw      storage.Tree
	store    *Store
	sweeper  *Sweeper
	observer *Observer
	cancel   context.CancelFunc

	closeOnce sync.Once
}

// OpenTree opens the named tree in reactive mode. The change feed is live
// and, when reconciliation is enabled, keys written while no observer was
// running have been given a deadline by the time it returns. The context
// bounds setup only.
func OpenTree(ctx context.Context, engine storage.Engine, name string, ttl time.Duration, opts ...Option) (*Tree, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	o := buildOptions(opts)

	ix, err := newIndex(engine, name, o.clock, o.logger)
	if err != nil {
		return nil, err
	}
	ix.followsFeed = true

	bg, cancel := context.WithCancel(context.Background())
	observer, err := newObserver(bg, ix, ttl, o.logger)
	if err != nil {
		cancel()
		return nil, err
	}

	if o.reconcile {
		if _, err := ix.Reconcile(ctx, ttl); err != nil {
			observer.Stop()
			cancel()
			return nil, err
		}
	}

	sweeper := newSweeper(ix, o.sweepInterval, o.sweepBatch, o.logger)
	sweeper.Start(bg)

	o.logger.Info("opened reactive ttl tree", "tree", name, "ttl", ttl, "sweep_interval", o.sweepInterval)
	return &Tree{
		raw:      ix.primary,
		store:    newStore(ix, ttl, o.logger),
		sweeper:  sweeper,
		observer: observer,
		cancel:   cancel,
	}, nil
}

// Raw returns the primary tree. Writes to it pick up the tree's TTL.
// Reads may return a logically expired row until the sweeper removes it;
// use Store for reads that hide such rows.
func (t *Tree) Raw() storage.Tree { return t.raw }

// Store returns an explicit-API view sharing this tree's index.
func (t *Tree) Store() *Store { return t.store }

// Index exposes the underlying index.
func (t *Tree) Index() *Index { return t.store.index }

// Sweeper returns the background sweeper.
func (t *Tree) Sweeper() *Sweeper { return t.sweeper }

// Observer returns the change feed follower.
func (t *Tree) Observer() *Observer { return t.observer }

// Err reports why a background goroutine stopped, if one did.
func (t *Tree) Err() error {
	return errors.Join(t.observer.Err(), t.sweeper.Err())
}

// Close stops the observer and sweeper and waits for both. The engine
// stays open.
func (t *Tree) Close() error {
	t.closeOnce.Do(func() {
		_ = t.store.Close()
		t.cancel()
		t.observer.Stop()
		t.sweeper.Stop()
	})
	return nil
}
