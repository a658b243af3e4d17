// Package engine provides the thin transaction-coordinator glue between
// the WAL and the versioned index: it sequences BEGIN/PUT/DELETE/COMMIT
// against the log, mints commit versions, and applies committed writes to
// the index only after the commit fsync has returned.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nodevein/ledgerkv/index"
	"github.com/nodevein/ledgerkv/wal"
)

// Engine is the embedded storage engine: a WAL paired with a versioned
// index, plus the single-writer sequencing required to keep them
// consistent across a crash.
type Engine struct {
	mu sync.Mutex // serializes the single writer; readers never take it

	log *wal.Log
	idx *index.Index

	// version is the last commit version minted, read wait-free by
	// Read/ReadAt via atomic load so a reader is never blocked behind an
	// in-flight transaction holding mu.
	version atomic.Uint64
	nextTx  uint64 // touched only by the single writer, under mu

	logger logrus.FieldLogger
}

// Options configures Open.
type Options struct {
	Limits wal.Limits
	Logger logrus.FieldLogger

	// FsyncOnCommit disables the fsync normally issued after every COMMIT
	// record when set to false. nil (the zero value) means "use the
	// default", which is fsync enabled — only engineconfig's documented
	// benchmark-only knob should ever pass a non-nil false here.
	FsyncOnCommit *bool
}

// Open opens (creating if absent) the WAL at path, replays it into a
// fresh index, and returns an Engine ready to accept new transactions.
// Per §2 of the storage spec, replay always happens before any new
// transaction is accepted.
func Open(path string, opts Options) (*Engine, error) {
	limits := opts.Limits
	if limits.MaxKeyLen == 0 && limits.MaxValueLen == 0 {
		limits = wal.DefaultLimits()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	fsyncOnCommit := true
	if opts.FsyncOnCommit != nil {
		fsyncOnCommit = *opts.FsyncOnCommit
	}

	l, err := wal.OpenWithOptions(path, limits, fsyncOnCommit)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:    l,
		idx:    index.New(),
		logger: logger,
	}

	maxTxid, err := l.Replay(e.applyDuringReplay, logger)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	// Seed from the highest txid seen in any record, not just committed
	// ones: a transaction that began but never committed still consumed
	// its txid, and reusing it here would let a later commit for the
	// reused id resurrect that dangling transaction's records on the next
	// replay.
	e.nextTx = maxTxid

	return e, nil
}

func (e *Engine) applyDuringReplay(m wal.Mutation) error {
	// Replay has no externally-minted commit version (the WAL predates
	// this open); derive a dense, strictly increasing version stream by
	// counting applied mutations so I3 holds across the whole replay.
	v := e.version.Add(1)
	if m.Delete {
		e.idx.ApplyTombstone(m.Key, v)
	} else {
		e.idx.Apply(m.Key, m.Value, v)
	}
	return nil
}

// Close releases the underlying WAL file descriptor.
func (e *Engine) Close() error {
	return e.log.Close()
}

// Read returns the value visible to a reader with no commit-version
// ceiling: the latest committed value for key, or index.ErrNotFound. It
// is wait-free: an atomic load of the current version plus the index's
// own wait-free traversal, never the writer's lock.
func (e *Engine) Read(key []byte) ([]byte, error) {
	return e.idx.Read(key, e.version.Load())
}

// ReadAt returns the value visible at a specific commit-version snapshot.
func (e *Engine) ReadAt(key []byte, visibleUpTo uint64) ([]byte, error) {
	return e.idx.Read(key, visibleUpTo)
}

// Tx is a single multi-key transaction in progress against the engine's
// WAL. It must be finished with Commit or Abort; either releases the
// engine's single-writer lock taken by Begin.
type Tx struct {
	e        *Engine
	txid     uint64
	ops      []pendingOp
	finished bool
}

var errTxAlreadyFinished = errTx("transaction already committed or aborted")

type errTx string

func (e errTx) Error() string { return "engine: " + string(e) }

type pendingOp struct {
	key    []byte
	value  []byte
	delete bool
}

// beginLocked mints the next txid and appends its BEGIN record. Callers
// must hold e.mu.
func (e *Engine) beginLocked() (uint64, error) {
	e.nextTx++
	txid := e.nextTx
	if err := e.log.Begin(txid); err != nil {
		return 0, err
	}
	return txid, nil
}

// Begin opens a new transaction and appends its BEGIN record. The
// transaction holds the engine's single-writer lock until Commit or Abort
// returns.
func (e *Engine) Begin() (*Tx, error) {
	e.mu.Lock()
	txid, err := e.beginLocked()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	return &Tx{e: e, txid: txid}, nil
}

// BeginTx mints a new txid, appends its BEGIN record, and returns
// immediately without holding the writer lock beyond the call. Unlike
// Begin, it is meant for a caller that cannot hold a single Go value across
// the whole transaction — e.g. a CLI that threads a txid across separate
// process invocations via Put/Delete/CommitTx.
func (e *Engine) BeginTx() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beginLocked()
}

// Put appends a PUT record for an already-begun transaction identified by
// txid (from BeginTx), without requiring the *Tx value that started it.
func (e *Engine) Put(txid uint64, key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Put(txid, key, value)
}

// Delete appends a DELETE record for an already-begun transaction
// identified by txid (from BeginTx).
func (e *Engine) Delete(txid uint64, key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Delete(txid, key)
}

// CommitTx appends COMMIT(txid) and fsyncs, finalizing a transaction begun
// with BeginTx. It does not apply the transaction's writes to this
// process's in-memory index — a caller threading a transaction across
// process invocations has no in-memory record of what was written by
// earlier invocations, so those writes only become visible once some
// process calls Open again: replay will find the now-complete
// BEGIN..COMMIT sequence for txid and apply it like any other committed
// transaction.
func (e *Engine) CommitTx(txid uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Commit(txid)
}

// Put appends a PUT record for this transaction. Not durable until Commit.
func (t *Tx) Put(key, value []byte) error {
	if t.finished {
		return errTxAlreadyFinished
	}
	if err := t.e.log.Put(t.txid, key, value); err != nil {
		return err
	}
	t.ops = append(t.ops, pendingOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

// Delete appends a DELETE record for this transaction. Not durable until
// Commit.
func (t *Tx) Delete(key []byte) error {
	if t.finished {
		return errTxAlreadyFinished
	}
	if err := t.e.log.Delete(t.txid, key); err != nil {
		return err
	}
	t.ops = append(t.ops, pendingOp{
		key:    append([]byte(nil), key...),
		delete: true,
	})
	return nil
}

// Commit appends COMMIT and fsyncs; only once that returns successfully
// are the transaction's writes applied to the index, stamped with a
// freshly minted, strictly monotone commit version, and the writer lock
// released. Every key written in this transaction shares that single
// commit version, so a snapshot read either observes all of the
// transaction's writes or none of them.
func (t *Tx) Commit() error {
	if t.finished {
		return errTxAlreadyFinished
	}
	defer t.e.mu.Unlock()
	t.finished = true

	if err := t.e.log.Commit(t.txid); err != nil {
		return err
	}

	v := t.e.version.Add(1)
	for _, op := range t.ops {
		if op.delete {
			t.e.idx.ApplyTombstone(op.key, v)
		} else {
			t.e.idx.Apply(op.key, op.value, v)
		}
	}
	return nil
}

// Abort releases the writer lock without appending a COMMIT record. The
// transaction's BEGIN/PUT/DELETE records remain in the WAL but I4
// guarantees replay will never apply them, since no COMMIT(txid) exists.
func (t *Tx) Abort() error {
	if t.finished {
		return errTxAlreadyFinished
	}
	t.finished = true
	t.e.mu.Unlock()
	return nil
}

// Txid returns the transaction identifier assigned at Begin.
func (t *Tx) Txid() uint64 { return t.txid }
