// Package ttl adds time-to-live expiration to trees of a storage.Engine.
//
// Every TTL-bearing tree is shadowed by two index trees: Forward maps a key
// to its expiry (seconds since the epoch, big-endian) and Reverse maps
// expiry‖key back to the key, ordered by deadline. A Sweeper evicts expired
// keys in the background and reads hide expired keys before it gets to
// them.
//
// Two front-ends share the same Index. Open returns a Store whose Set/Get/Del
// keep the index up to date explicitly. OpenTree returns a Tree whose raw
// storage.Tree may be written directly; an Observer follows its change feed
// and maintains the index.
package ttl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"ttltree/storage"
)

// Store is the explicit TTL API over one primary tree.
type Store struct {
	index   *Index
	ttl     time.Duration
	logger  hclog.Logger
	sweeper *Sweeper

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// Open opens the named tree with a default TTL and starts its sweeper. The
// context bounds setup only.
func Open(ctx context.Context, engine storage.Engine, name string, ttl time.Duration, opts ...Option) (*Store, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	o := buildOptions(opts)

	ix, err := newIndex(engine, name, o.clock, o.logger)
	if err != nil {
		return nil, err
	}
	if o.reconcile {
		if _, err := ix.Reconcile(ctx, 0); err != nil {
			return nil, err
		}
	}

	st := newStore(ix, ttl, o.logger)
	st.sweeper = newSweeper(ix, o.sweepInterval, o.sweepBatch, o.logger)
	st.sweeper.Start(context.Background())

	o.logger.Info("opened ttl tree", "tree", name, "ttl", ttl, "sweep_interval", o.sweepInterval)
	return st, nil
}

func newStore(ix *Index, ttl time.Duration, logger hclog.Logger) *Store {
	return &Store{index: ix, ttl: ttl, logger: logger}
}

// Name returns the primary tree name.
func (st *Store) Name() string { return st.index.primary.Name() }

// DefaultTTL returns the TTL applied by Set.
func (st *Store) DefaultTTL() time.Duration { return st.ttl }

// Index exposes the underlying index for advanced scenarios.
func (st *Store) Index() *Index { return st.index }

// Sweeper returns the background sweeper, or nil when the store shares the
// sweeper of a reactive Tree.
func (st *Store) Sweeper() *Sweeper { return st.sweeper }

// Err reports why the background sweeper stopped, if it did.
func (st *Store) Err() error {
	if st.sweeper == nil {
		return nil
	}
	return st.sweeper.Err()
}

func (st *Store) checkOpen() error {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the sweeper and waits for it. The engine stays open.
func (st *Store) Close() error {
	st.closeOnce.Do(func() {
		st.mu.Lock()
		st.closed = true
		st.mu.Unlock()
		if st.sweeper != nil {
			st.sweeper.Stop()
		}
	})
	return nil
}

func (st *Store) String() string {
	return fmt.Sprintf("ttl.Store{%s, ttl=%s}", st.Name(), st.ttl)
}
