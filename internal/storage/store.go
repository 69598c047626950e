// Package storage is the key-value substrate the ledger state is mirrored
// into. Backends only need ordered-prefix iteration and atomic multi-key
// writes; the key layout lives in codec.go.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("storage: key not found")

// Store is a key-value backend.
type Store interface {
	// Get returns the value stored at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Apply writes every operation in cs atomically.
	Apply(ctx context.Context, cs *ChangeSet) error

	// Iterate calls fn for each key with the given prefix. Order is
	// backend-defined. A non-nil error from fn stops iteration and is returned.
	Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Op is a single put or delete.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// ChangeSet is an ordered list of operations applied as one unit. When a
// key appears more than once the last operation wins.
type ChangeSet struct {
	Ops []Op
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{}
}

func (cs *ChangeSet) Put(key string, value []byte) {
	cs.Ops = append(cs.Ops, Op{Key: key, Value: value})
}

func (cs *ChangeSet) Delete(key string) {
	cs.Ops = append(cs.Ops, Op{Key: key, Delete: true})
}

// Merge appends other's operations after this set's.
func (cs *ChangeSet) Merge(other *ChangeSet) {
	if other == nil {
		return
	}
	cs.Ops = append(cs.Ops, other.Ops...)
}

func (cs *ChangeSet) Len() int {
	return len(cs.Ops)
}

// Compact returns the operations with only the last one per key kept, in
// order of each key's final occurrence.
func (cs *ChangeSet) Compact() []Op {
	last := make(map[string]int, len(cs.Ops))
	for i, op := range cs.Ops {
		last[op.Key] = i
	}
	out := make([]Op, 0, len(last))
	for i, op := range cs.Ops {
		if last[op.Key] == i {
			out = append(out, op)
		}
	}
	return out
}
