package storage

import (
	"bytes"
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// badgerTree is a key-prefix namespace inside a BadgerEngine.
type badgerTree struct {
	engine *BadgerEngine
	name   string
	prefix []byte
}

func (t *badgerTree) Name() string { return t.name }

func (t *badgerTree) keyspace() []byte { return t.prefix }

// Set stores a key-value pair and returns the previous value
func (t *badgerTree) Set(ctx context.Context, key, value []byte) ([]byte, bool, error) {
	var old []byte
	var found bool

	err := t.engine.Update(ctx, func(txn Txn) error {
		var err error
		old, found, err = txn.Get(t, key)
		if err != nil {
			return err
		}
		return txn.Set(t, key, value)
	})
	if err != nil {
		return nil, false, err
	}
	return old, found, nil
}

// Get retrieves a value by key
func (t *badgerTree) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	var found bool

	err := t.engine.View(ctx, func(txn Txn) error {
		var err error
		value, found, err = txn.Get(t, key)
		return err
	})
	return value, found, err
}

// Delete removes a key and returns the removed value
func (t *badgerTree) Delete(ctx context.Context, key []byte) ([]byte, bool, error) {
	var old []byte
	var found bool

	err := t.engine.Update(ctx, func(txn Txn) error {
		var err error
		old, found, err = txn.Get(t, key)
		if err != nil || !found {
			return err
		}
		return txn.Delete(t, key)
	})
	if err != nil {
		return nil, false, err
	}
	return old, found, nil
}

// Merge applies fn to the current value and stores the result
func (t *badgerTree) Merge(ctx context.Context, key, operand []byte, fn MergeFunc) ([]byte, error) {
	var merged []byte

	err := t.engine.Update(ctx, func(txn Txn) error {
		old, _, err := txn.Get(t, key)
		if err != nil {
			return err
		}
		merged = fn(key, old, operand)
		if merged == nil {
			return txn.Delete(t, key)
		}
		return txn.(badgerTxn).setWithMeta(t, key, merged, metaMerge)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Scan visits keys in [start, end)
func (t *badgerTree) Scan(ctx context.Context, start, end []byte, fn func(key, value []byte) error) error {
	return t.engine.View(ctx, func(txn Txn) error {
		return txn.Scan(t, start, end, fn)
	})
}

// badgerTxn adapts a Badger transaction to Txn.
type badgerTxn struct {
	txn *badger.Txn
}

func rawKey(tree Tree, key []byte) []byte {
	p := tree.keyspace()
	k := make([]byte, 0, len(p)+len(key))
	k = append(k, p...)
	return append(k, key...)
}

func (b badgerTxn) Get(tree Tree, key []byte) ([]byte, bool, error) {
	item, err := b.txn.Get(rawKey(tree, key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b badgerTxn) Version(tree Tree, key []byte) (uint64, bool, error) {
	item, err := b.txn.Get(rawKey(tree, key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return item.Version(), true, nil
}

func (b badgerTxn) Set(tree Tree, key, value []byte) error {
	return b.setWithMeta(tree, key, value, metaSet)
}

func (b badgerTxn) setWithMeta(tree Tree, key, value []byte, meta byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	entry := badger.NewEntry(rawKey(tree, key), value).WithMeta(meta)
	return b.txn.SetEntry(entry)
}

func (b badgerTxn) Delete(tree Tree, key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return b.txn.Delete(rawKey(tree, key))
}

func (b badgerTxn) Scan(tree Tree, start, end []byte, fn func(key, value []byte) error) error {
	prefix := tree.keyspace()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := b.txn.NewIterator(opts)
	defer it.Close()

	var upper []byte
	if end != nil {
		upper = rawKey(tree, end)
	}

	for it.Seek(rawKey(tree, start)); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := item.Key()
		if upper != nil && bytes.Compare(k, upper) >= 0 {
			break
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		key := append([]byte{}, k[len(prefix):]...)
		if err := fn(key, value); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}
