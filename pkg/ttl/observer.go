package ttl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"ttltree/storage"
)

// Observer keeps the index in step with writes made directly to the
// primary tree by following its change feed.
type Observer struct {
	index  *Index
	ttl    time.Duration
	sub    *storage.Subscription
	logger hclog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	processed atomic.Uint64

	mu  sync.Mutex
	err error
}

// newObserver subscribes to the primary tree. The feed is live when it
// returns, so no write made afterwards is missed.
func newObserver(ctx context.Context, ix *Index, ttl time.Duration, logger hclog.Logger) (*Observer, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub, err := ix.primary.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %q: %w", ix.primary.Name(), err)
	}
	o := &Observer{
		index:  ix,
		ttl:    ttl,
		sub:    sub,
		logger: logger.Named("observer"),
		cancel: cancel,
	}
	o.wg.Add(1)
	go o.run(ctx)
	return o, nil
}

func (o *Observer) run(ctx context.Context) {
	defer o.wg.Done()
	defer o.sub.Close()

	for {
		ev, err := o.sub.Next(ctx)
		if err != nil {
			if isCanceled(err) || ctx.Err() != nil {
				o.logger.Debug("observer stopped", "tree", o.index.primary.Name())
				return
			}
			o.fail(err)
			return
		}
		if err := o.apply(ctx, ev); err != nil {
			if isCanceled(err) {
				return
			}
			o.fail(err)
			return
		}
		o.processed.Add(1)
	}
}

// apply reflects one change in the index. Deletes discard the liveness
// flag: the primary row is already gone.
func (o *Observer) apply(ctx context.Context, ev storage.Event) error {
	switch ev.Kind {
	case storage.EventSet, storage.EventMerge:
		_, err := o.index.Touch(ctx, ev.Key, o.ttl)
		return err
	case storage.EventDelete:
		_, err := o.index.Release(ctx, ev.Key)
		return err
	default:
		return fmt.Errorf("unexpected %s event for key %q", ev.Kind, ev.Key)
	}
}

func (o *Observer) fail(err error) {
	if errors.Is(err, storage.ErrFeedClosed) {
		o.logger.Warn("change feed ended", "tree", o.index.primary.Name(), "error", err)
	} else {
		o.logger.Error("observer terminated", "tree", o.index.primary.Name(), "error", err)
	}
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

// Processed returns the number of events applied so far.
func (o *Observer) Processed() uint64 {
	return o.processed.Load()
}

// Stop ends the subscription and waits for the loop to exit.
func (o *Observer) Stop() {
	o.cancel()
	o.wg.Wait()
}

// Err returns the error that ended the loop, if any.
func (o *Observer) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}
