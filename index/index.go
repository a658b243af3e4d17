// Package index implements the append-only, versioned in-memory key-value
// index: a singly-linked chain of immutable nodes reachable from a single
// atomic head cell, giving wait-free snapshot reads alongside one writer.
package index

import (
	"bytes"
	"errors"
	"sync/atomic"
)

// ErrNotFound is returned by Read when no visible node matches the key.
var ErrNotFound = errors.New("index: not found")

// node is never mutated after construction. Its fields are fully
// initialized before its address is published to the head cell.
type node struct {
	key       []byte
	value     []byte
	version   uint64
	tombstone bool
	next      *node
}

// Index is a multi-version, lock-free key-value index. The zero value is
// an empty index, the same as what New returns.
type Index struct {
	head atomic.Pointer[node]
}

// New returns an empty Index.
func New() *Index {
	return &Index{}
}

// Read returns the value of the node with the largest version <=
// visibleUpTo matching key, or ErrNotFound if no such node exists
// (including when the matching node is a tombstone).
//
// This is wait-free: one atomic load of the head plus pointer chasing
// over an immutable, already-published chain.
func (idx *Index) Read(key []byte, visibleUpTo uint64) ([]byte, error) {
	for n := idx.head.Load(); n != nil; n = n.next {
		if n.version > visibleUpTo {
			continue
		}
		if bytes.Equal(n.key, key) {
			if n.tombstone {
				return nil, ErrNotFound
			}
			return n.value, nil
		}
	}
	return nil, ErrNotFound
}

// Apply publishes a new node as the head of the chain, stamped with
// commitVersion. Callers (the single writer) must ensure commitVersion is
// no smaller than any version previously passed to Apply or
// ApplyTombstone; several writes may share one version, and Read returns
// the most recently applied of them for a key.
func (idx *Index) Apply(key, value []byte, commitVersion uint64) {
	idx.apply(key, value, commitVersion, false)
}

// ApplyTombstone publishes a deletion marker for key at commitVersion.
// A subsequent Read for key at a version >= commitVersion observes
// ErrNotFound until an even newer, non-tombstone write is applied.
func (idx *Index) ApplyTombstone(key []byte, commitVersion uint64) {
	idx.apply(key, nil, commitVersion, true)
}

func (idx *Index) apply(key, value []byte, commitVersion uint64, tombstone bool) {
	n := &node{
		key:       append([]byte(nil), key...),
		value:     append([]byte{}, value...),
		version:   commitVersion,
		tombstone: tombstone,
		next:      idx.head.Load(),
	}
	// Release publication: every field above is fully initialized before
	// this store makes the node reachable to concurrent readers (I2/O2).
	idx.head.Store(n)
}
