package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/google/uuid"
)

const (
	probePrefix   = "feed-probe:"
	probeInterval = 5 * time.Millisecond
)

// Subscription is a live change feed over one tree. Events arrive in
// commit order and are handed over one at a time through Next.
//
// The feed callback appends to an unbounded queue and never waits on the
// consumer: Badger's publisher holds its lock while delivering, and a
// blocked callback stalls every commit on the engine.
type Subscription struct {
	mu     sync.Mutex
	queue  []Event
	signal chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	return ev, true
}

// Pending returns the number of events queued but not yet taken by Next.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Next blocks until the next event is available, the feed ends, or ctx is
// done. Events queued before the feed ended are still returned.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := s.pop(); ok {
			return ev, nil
		}
		select {
		case <-s.signal:
		case <-s.done:
			if ev, ok := s.pop(); ok {
				return ev, nil
			}
			return Event{}, s.err
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Close ends the feed, waits for it to shut down and discards queued
// events.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done

	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

// Subscribe opens a change feed over the tree. Badger registers subscribers
// asynchronously, so a uniquely named probe key is written until the feed
// reports it back; writes committed before that point are not delivered.
// The feed lives until Close is called or ctx is done.
func (t *badgerTree) Subscribe(ctx context.Context) (*Subscription, error) {
	probe := []byte(probePrefix + uuid.NewString())
	subCtx, cancel := context.WithCancel(ctx)

	s := &Subscription{
		signal: make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	live := false

	matches := []pb.Match{{Prefix: t.prefix}, {Prefix: probe}}
	go func() {
		defer close(s.done)
		err := t.engine.db.Subscribe(subCtx, func(list *badger.KVList) error {
			for _, kv := range list.Kv {
				if bytes.Equal(kv.Key, probe) {
					readyOnce.Do(func() {
						live = true
						close(ready)
					})
					continue
				}
				if !live || !bytes.HasPrefix(kv.Key, t.prefix) {
					continue
				}
				s.push(decodeEvent(kv, len(t.prefix)))
			}
			return nil
		}, matches)
		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.err = ErrFeedClosed
		default:
			s.err = fmt.Errorf("%w: %v", ErrFeedClosed, translateErr(err))
		}
	}()

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		err := t.engine.db.Update(func(txn *badger.Txn) error {
			return txn.Set(probe, nil)
		})
		if err != nil {
			s.Close()
			return nil, translateErr(err)
		}

		select {
		case <-ready:
			if err := t.engine.db.Update(func(txn *badger.Txn) error {
				return txn.Delete(probe)
			}); err != nil {
				t.engine.logger.Warn("failed to remove feed probe", "tree", t.name, "error", err)
			}
			return s, nil
		case <-s.done:
			return nil, s.err
		case <-ctx.Done():
			s.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// probeKeys lists leftover probe keys.
func (e *BadgerEngine) probeKeys() ([][]byte, error) {
	var keys [][]byte
	err := e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(probePrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// dropProbes removes probe keys left behind by subscriptions that failed
// before cleaning up.
func (e *BadgerEngine) dropProbes() error {
	keys, err := e.probeKeys()
	if err != nil || len(keys) == 0 {
		return err
	}
	err = e.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Debug("dropped stale feed probes", "count", len(keys))
	return nil
}

// decodeEvent turns a published Badger entry into an Event. The event kind
// travels in the user-meta byte; a raw write without one is a set unless it
// carries no value.
func decodeEvent(kv *pb.KV, prefixLen int) Event {
	ev := Event{Key: append([]byte{}, kv.Key[prefixLen:]...)}

	meta := metaDelete
	switch {
	case len(kv.UserMeta) > 0:
		meta = kv.UserMeta[0]
	case len(kv.Meta) > 0:
		meta = kv.Meta[0]
	}

	switch {
	case meta == metaMerge:
		ev.Kind = EventMerge
	case meta == metaSet, len(kv.Value) > 0:
		ev.Kind = EventSet
	default:
		ev.Kind = EventDelete
		return ev
	}
	ev.Value = kv.Value
	return ev
}
