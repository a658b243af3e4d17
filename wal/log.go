// Package wal implements the transactional write-ahead log: durable,
// single-appender append of BEGIN/PUT/DELETE/COMMIT records, and a
// strict-prefix, two-pass replay that reconstructs only the mutations of
// committed transactions.
package wal

import (
	"errors"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nodevein/ledgerkv/walfmt"
)

// Limits bounds the key/value sizes this Log will accept, defaulting to
// the codec's own bounds. A coordinator may tighten them, never loosen.
type Limits struct {
	MaxKeyLen   uint32
	MaxValueLen uint32
}

// DefaultLimits mirrors the wire-format bounds in walfmt.
func DefaultLimits() Limits {
	return Limits{MaxKeyLen: walfmt.MaxKeyLen, MaxValueLen: walfmt.MaxValueLen}
}

// Log is a single append-only WAL file with one writer.
type Log struct {
	mu            sync.Mutex
	path          string
	file          *os.File
	limits        Limits
	fsyncOnCommit bool
}

// Open opens path for append, creating it with mode 0644 if absent, with
// fsync-on-commit enabled.
func Open(path string) (*Log, error) {
	return OpenWithLimits(path, DefaultLimits())
}

// OpenWithLimits is Open with explicit size bounds and fsync-on-commit
// enabled.
func OpenWithLimits(path string, limits Limits) (*Log, error) {
	return OpenWithOptions(path, limits, true)
}

// OpenWithOptions is Open with explicit size bounds and durability policy.
// fsyncOnCommit false is a deliberate, documented durability trade — only
// engineconfig's benchmark-facing knob should ever pass false.
func OpenWithOptions(path string, limits Limits, fsyncOnCommit bool) (*Log, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, ioErr("open", err)
	}
	return &Log{path: path, file: f, limits: limits, fsyncOnCommit: fsyncOnCommit}, nil
}

// Close releases the underlying file descriptor.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Close(); err != nil {
		return ioErr("close", err)
	}
	return nil
}

// Begin appends a BEGIN(txid) record. Not durable by itself.
func (l *Log) Begin(txid uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeAll(walfmt.EncodeBegin(txid))
}

// Put appends a PUT(txid,k,v) record. Not durable by itself.
func (l *Log) Put(txid uint64, key, value []byte) error {
	if uint32(len(key)) > l.limits.MaxKeyLen {
		return &IOError{Op: "put", Err: errors.New("key exceeds configured limit")}
	}
	if uint32(len(value)) > l.limits.MaxValueLen {
		return &IOError{Op: "put", Err: errors.New("value exceeds configured limit")}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeAll(walfmt.EncodePut(txid, key, value))
}

// Delete appends a DELETE(txid,k) record. Not durable by itself.
func (l *Log) Delete(txid uint64, key []byte) error {
	if uint32(len(key)) > l.limits.MaxKeyLen {
		return &IOError{Op: "delete", Err: errors.New("key exceeds configured limit")}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeAll(walfmt.EncodeDelete(txid, key))
}

// Commit appends a COMMIT(txid) record and, unless fsyncOnCommit was
// disabled at Open, fsyncs. On successful return with fsync enabled, every
// record of this transaction is durable.
func (l *Log) Commit(txid uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writeAll(walfmt.EncodeCommit(txid)); err != nil {
		return err
	}
	if !l.fsyncOnCommit {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return ioErr("fsync", err)
	}
	return nil
}

// writeAll retries transient interrupts and accumulates partial writes
// until the whole record has been transferred to the kernel.
func (l *Log) writeAll(buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := l.file.Write(buf[written:])
		written += n
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return ioErr("write", err)
		}
	}
	return nil
}

// Mutation is one applied PUT or DELETE belonging to a committed
// transaction, delivered to Replay's apply callback in per-transaction
// append order.
type Mutation struct {
	Txid   uint64
	Key    []byte
	Value  []byte
	Delete bool
}

type pendingTx struct {
	ops []Mutation
}

// Replay reopens the log read-only and streams every record through the
// strict-prefix two-pass algorithm: pass one validates and classifies
// records into per-txid pending operations and a committed-txid set,
// stopping at the first invalid record; pass two invokes apply once per
// PUT/DELETE of every committed transaction, in append order within that
// transaction. Corruption is absorbed here — it is reported to log (if
// non-nil) as a diagnostic, never returned as an error.
//
// It also returns maxTxid, the highest txid seen in any well-formed record
// of any type — committed, uncommitted, or orphaned. A coordinator reopening
// the log must seed its next-txid counter from this value, not merely from
// the txids of applied mutations: a transaction that began but never
// committed still consumed that txid, and reissuing it would let a later,
// unrelated commit for the reused txid resurrect the earlier transaction's
// dangling BEGIN/PUT records on the next replay.
func (l *Log) Replay(apply func(Mutation) error, log logrus.FieldLogger) (uint64, error) {
	if log == nil {
		log = logrus.New()
	}

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, ioErr("open-for-replay", err)
	}
	defer f.Close()

	pending := make(map[uint64]*pendingTx)
	committed := make(map[uint64]bool)
	var commitOrder []uint64
	var maxTxid uint64

	offset := int64(0)
	for {
		rec, err := walfmt.DecodeNext(f)
		if err != nil {
			if err == io.EOF {
				break
			}
			log.WithFields(logrus.Fields{
				"offset": offset,
				"reason": err,
			}).Warn("wal: replay stopped at corrupted record")
			break
		}

		if rec.Header.Txid > maxTxid {
			maxTxid = rec.Header.Txid
		}

		switch rec.Header.Type {
		case walfmt.TypeBegin:
			if _, ok := pending[rec.Header.Txid]; !ok {
				pending[rec.Header.Txid] = &pendingTx{}
			}
		case walfmt.TypePut:
			tx, ok := pending[rec.Header.Txid]
			if !ok {
				log.WithField("txid", rec.Header.Txid).Warn("wal: orphan PUT with no BEGIN, skipping")
				break
			}
			tx.ops = append(tx.ops, Mutation{Txid: rec.Header.Txid, Key: rec.Key, Value: rec.Value})
		case walfmt.TypeDelete:
			tx, ok := pending[rec.Header.Txid]
			if !ok {
				log.WithField("txid", rec.Header.Txid).Warn("wal: orphan DELETE with no BEGIN, skipping")
				break
			}
			tx.ops = append(tx.ops, Mutation{Txid: rec.Header.Txid, Key: rec.Key, Delete: true})
		case walfmt.TypeCommit:
			if !committed[rec.Header.Txid] {
				committed[rec.Header.Txid] = true
				commitOrder = append(commitOrder, rec.Header.Txid)
			}
		}

		offset += int64(walfmt.HeaderSize + len(rec.Key) + len(rec.Value) + walfmt.TrailerSize)
	}

	for _, txid := range commitOrder {
		tx, ok := pending[txid]
		if !ok {
			continue
		}
		for _, op := range tx.ops {
			if err := apply(op); err != nil {
				return maxTxid, err
			}
		}
	}
	return maxTxid, nil
}
