package storage

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("storage: engine closed")
	// ErrConflict is returned when a transaction keeps conflicting with
	// concurrent writers after all retries are spent.
	ErrConflict = errors.New("storage: transaction conflict")
	// ErrEmptyKey is returned when a write targets an empty key.
	ErrEmptyKey = errors.New("storage: key must not be empty")
	// ErrEmptyTreeName is returned by OpenTree for an empty name.
	ErrEmptyTreeName = errors.New("storage: tree name must not be empty")
	// ErrFeedClosed is returned by Subscription.Next once the feed has ended.
	ErrFeedClosed = errors.New("storage: change feed closed")
	// ErrStopIteration may be returned from a scan callback to end the scan
	// early without failing it.
	ErrStopIteration = errors.New("storage: stop iteration")
)

// Engine is an ordered key-value store partitioned into named trees.
// All trees of one engine share a single keyspace, so a transaction may
// touch several trees atomically.
type Engine interface {
	// OpenTree opens the named tree, creating it implicitly.
	OpenTree(name string) (Tree, error)

	// Update runs fn in a read-write transaction. fn may be invoked more
	// than once when the commit conflicts with a concurrent writer, so it
	// must not have side effects outside the transaction.
	Update(ctx context.Context, fn func(txn Txn) error) error

	// View runs fn in a read-only snapshot.
	View(ctx context.Context, fn func(txn Txn) error) error

	Close() error
}

// Tree is a named, ordered byte-key container with atomic per-key
// operations.
type Tree interface {
	Name() string

	// Set stores value at key and returns the previous value, if any.
	Set(ctx context.Context, key, value []byte) ([]byte, bool, error)
	// Get returns the value stored at key.
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	// Delete removes key and returns the removed value, if any.
	Delete(ctx context.Context, key []byte) ([]byte, bool, error)
	// Merge replaces the value at key with fn(key, old, operand). A nil
	// result deletes the key.
	Merge(ctx context.Context, key, operand []byte, fn MergeFunc) ([]byte, error)

	// Scan visits keys in [start, end) in ascending order. A nil start or
	// end leaves that side of the range open.
	Scan(ctx context.Context, start, end []byte, fn func(key, value []byte) error) error

	// Subscribe opens a change feed over the whole tree. It returns once
	// the feed is live; every write committed afterwards is delivered.
	Subscribe(ctx context.Context) (*Subscription, error)

	keyspace() []byte
}

// Txn is a transaction spanning any number of trees of one engine.
type Txn interface {
	Get(tree Tree, key []byte) ([]byte, bool, error)
	// Version returns the commit version of key. A row written after
	// another one has a higher version.
	Version(tree Tree, key []byte) (uint64, bool, error)
	Set(tree Tree, key, value []byte) error
	Delete(tree Tree, key []byte) error
	Scan(tree Tree, start, end []byte, fn func(key, value []byte) error) error
}

// MergeFunc combines the current value (nil when absent) with an operand.
type MergeFunc func(key, old, operand []byte) []byte

// EventKind classifies change feed events.
type EventKind uint8

const (
	EventSet EventKind = iota + 1
	EventMerge
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventSet:
		return "set"
	case EventMerge:
		return "merge"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a single change observed on a tree. Value is nil for deletes.
type Event struct {
	Kind  EventKind
	Key   []byte
	Value []byte
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
