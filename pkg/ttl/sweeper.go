package ttl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Sweeper periodically evicts keys whose deadline has passed.
type Sweeper struct {
	index    *Index
	interval time.Duration
	batch    int
	logger   hclog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

func newSweeper(ix *Index, interval time.Duration, batch int, logger hclog.Logger) *Sweeper {
	return &Sweeper{
		index:    ix,
		interval: interval,
		batch:    batch,
		logger:   logger.Named("sweeper"),
	}
}

// Start launches the polling loop. It runs until Stop is called, ctx is
// done, or the store fails.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("sweeper stopped", "tree", s.index.primary.Name())
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				if isCanceled(err) {
					return
				}
				s.fail(err)
				return
			}
			if n > 0 {
				s.logger.Debug("swept expired keys", "tree", s.index.primary.Name(), "count", n)
			}
		}
	}
}

func (s *Sweeper) fail(err error) {
	s.logger.Error("sweeper terminated", "tree", s.index.primary.Name(), "error", err)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Sweep runs one cycle: every key whose deadline is at or before now is
// evicted along with its index rows. It returns the number of keys removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now, err := s.index.now()
	if err != nil {
		return 0, err
	}

	swept := 0
	var start []byte
	for {
		rows, err := s.index.collectExpired(ctx, start, now, s.batch)
		if err != nil {
			return swept, fmt.Errorf("scan reverse index: %w", err)
		}
		for _, row := range rows {
			if row.err != nil {
				s.logger.Warn("dropping malformed reverse row", "tree", s.index.primary.Name(), "row", row.raw, "error", row.err)
				if err := s.index.dropReverse(ctx, row.raw); err != nil {
					return swept, err
				}
				continue
			}
			outcome, err := s.index.expire(ctx, row.key, row.ts)
			if err != nil {
				return swept, err
			}
			switch outcome {
			case expireRemoved:
				swept++
			case expireOrphan:
				s.logger.Warn("dropped reverse row without forward row", "tree", s.index.primary.Name(), "key", row.key, "expiry", row.ts)
			case expireStale:
				s.logger.Debug("dropped superseded reverse row", "tree", s.index.primary.Name(), "key", row.key, "expiry", row.ts)
			case expirePending:
				s.logger.Debug("skipped key rewritten since its deadline was set", "tree", s.index.primary.Name(), "key", row.key, "expiry", row.ts)
			}
		}
		if len(rows) < s.batch {
			return swept, nil
		}
		// Rows left in place must not be scanned again this cycle.
		last := rows[len(rows)-1].raw
		start = append(append([]byte{}, last...), 0)
	}
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Err returns the error that ended the loop, if any.
func (s *Sweeper) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
