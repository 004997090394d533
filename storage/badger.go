package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/hashicorp/go-hclog"
)

const (
	treePrefix = "tr:"

	// User-meta markers carried on every write so the change feed can tell
	// sets and merges from deletes, which Badger reports as empty values.
	metaDelete byte = 0
	metaSet    byte = 1
	metaMerge  byte = 2

	maxConflictRetries = 16
	conflictBackoff    = time.Millisecond
)

// Options configures a BadgerEngine.
type Options struct {
	// DataDir is the Badger directory. Ignored when InMemory is set.
	DataDir string
	// InMemory keeps all data in memory.
	InMemory bool
	// GCInterval is the value-log GC period. Zero disables GC.
	GCInterval time.Duration
	Logger     hclog.Logger
}

// BadgerEngine implements Engine on top of a single BadgerDB instance.
// Trees are key-prefix namespaces within it.
type BadgerEngine struct {
	db     *badger.DB
	logger hclog.Logger

	mu     sync.Mutex
	trees  map[string]*badgerTree
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewBadgerEngine opens (or creates) a Badger-backed engine.
func NewBadgerEngine(opts Options) (*BadgerEngine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("storage")

	bopts := badger.DefaultOptions(opts.DataDir).
		WithLogger(badgerLogger{logger}).
		WithLoggingLevel(badger.WARNING)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	e := &BadgerEngine{
		db:     db,
		logger: logger,
		trees:  make(map[string]*badgerTree),
		stop:   make(chan struct{}),
	}

	// A crash between writing and removing a probe leaves it behind.
	if err := e.dropProbes(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to drop feed probes: %w", err)
	}

	// Value-log GC is not supported in memory.
	if opts.GCInterval > 0 && !opts.InMemory {
		e.wg.Add(1)
		go e.runGC(opts.GCInterval)
	}

	return e, nil
}

// runGC runs the value-log garbage collector periodically
func (e *BadgerEngine) runGC(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			for {
				// One call rewrites at most one file; loop until nothing is left.
				err := e.db.RunValueLogGC(0.7)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
					e.logger.Warn("value log gc failed", "error", err)
				}
				break
			}
		}
	}
}

// OpenTree returns the tree with the given name.
func (e *BadgerEngine) OpenTree(name string) (Tree, error) {
	if name == "" {
		return nil, ErrEmptyTreeName
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if t, ok := e.trees[name]; ok {
		return t, nil
	}
	t := &badgerTree{engine: e, name: name, prefix: treeKeyspace(name)}
	e.trees[name] = t
	return t, nil
}

// treeKeyspace length-prefixes the name so no tree's keyspace is a prefix
// of another's.
func treeKeyspace(name string) []byte {
	p := make([]byte, 0, len(treePrefix)+4+len(name))
	p = append(p, treePrefix...)
	p = binary.BigEndian.AppendUint32(p, uint32(len(name)))
	return append(p, name...)
}

// Update runs fn in a read-write transaction, retrying on conflicts.
func (e *BadgerEngine) Update(ctx context.Context, fn func(txn Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := e.db.Update(func(txn *badger.Txn) error {
			return fn(badgerTxn{txn: txn})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return translateErr(err)
		}
		if attempt >= maxConflictRetries {
			return fmt.Errorf("%w after %d attempts", ErrConflict, attempt+1)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(conflictBackoff * time.Duration(attempt+1)):
		}
	}
}

// View runs fn in a read-only transaction.
func (e *BadgerEngine) View(ctx context.Context, fn func(txn Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return translateErr(e.db.View(func(txn *badger.Txn) error {
		return fn(badgerTxn{txn: txn})
	}))
}

// Close stops background work and closes the database.
func (e *BadgerEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.stop)
	e.wg.Wait()
	if err := e.dropProbes(); err != nil {
		e.logger.Warn("failed to drop feed probes", "error", err)
	}
	return e.db.Close()
}

func translateErr(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return err
}

// badgerLogger routes Badger's internal logging to hclog.
type badgerLogger struct {
	hclog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}
