package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wal")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

// Scenario 4: committed transaction durable — replay invokes apply on
// both PUTs.
func TestReplayAppliesCommittedTransaction(t *testing.T) {
	l, path := openTestLog(t)

	require.NoError(t, l.Begin(42))
	require.NoError(t, l.Put(42, []byte("a"), []byte("1")))
	require.NoError(t, l.Put(42, []byte("b"), []byte("2")))
	require.NoError(t, l.Commit(42))
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	var applied []Mutation
	maxTxid, err := l2.Replay(func(m Mutation) error {
		applied = append(applied, m)
		return nil
	}, nil)
	require.NoError(t, err)

	require.Len(t, applied, 2)
	require.Equal(t, []byte("a"), applied[0].Key)
	require.Equal(t, []byte("1"), applied[0].Value)
	require.Equal(t, []byte("b"), applied[1].Key)
	require.Equal(t, []byte("2"), applied[1].Value)
	require.Equal(t, uint64(42), maxTxid)
}

// Scenario 5: uncommitted transaction dropped.
func TestReplayDropsUncommittedTransaction(t *testing.T) {
	l, path := openTestLog(t)

	require.NoError(t, l.Begin(7))
	require.NoError(t, l.Put(7, []byte("x"), []byte("X")))
	require.NoError(t, l.Begin(8))
	require.NoError(t, l.Put(8, []byte("y"), []byte("Y")))
	require.NoError(t, l.Commit(8))
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	var applied []Mutation
	maxTxid, err := l2.Replay(func(m Mutation) error {
		applied = append(applied, m)
		return nil
	}, nil)
	require.NoError(t, err)

	require.Len(t, applied, 1)
	require.Equal(t, []byte("y"), applied[0].Key)
	require.Equal(t, []byte("Y"), applied[0].Value)
	// maxTxid is the highest txid in any record: here the committed 8, which
	// is above the uncommitted 7, so a coordinator reopening the log never
	// reissues txid 7.
	require.Equal(t, uint64(8), maxTxid)
}

// A transaction that begins but never commits must still retire its txid:
// replay's maxTxid has to be at least as large as the highest txid seen in
// any record, committed or not.
func TestReplayMaxTxidIncludesUncommittedBegin(t *testing.T) {
	l, path := openTestLog(t)

	require.NoError(t, l.Begin(1))
	require.NoError(t, l.Put(1, []byte("k1"), []byte("v1")))
	require.NoError(t, l.Commit(1))

	require.NoError(t, l.Begin(5))
	require.NoError(t, l.Put(5, []byte("x"), []byte("X")))
	// No commit for txid 5: simulates an abort or a crash mid-transaction.
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	var applied []Mutation
	maxTxid, err := l2.Replay(func(m Mutation) error {
		applied = append(applied, m)
		return nil
	}, nil)
	require.NoError(t, err)

	require.Len(t, applied, 1)
	require.Equal(t, uint64(5), maxTxid)
}

// Property P4: replay's applied set after a truncated suffix equals the
// applied set after the last successful commit.
func TestReplayStopsAtTornSuffix(t *testing.T) {
	l, path := openTestLog(t)

	require.NoError(t, l.Begin(1))
	require.NoError(t, l.Put(1, []byte("k1"), []byte("v1")))
	require.NoError(t, l.Commit(1))
	require.NoError(t, l.Close())

	// Simulate a crash mid-append: append a truncated tail record.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x57, 0x41}) // two stray bytes, not a full header
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	var applied []Mutation
	_, err = l2.Replay(func(m Mutation) error {
		applied = append(applied, m)
		return nil
	}, nil)
	require.NoError(t, err)

	require.Len(t, applied, 1)
	require.Equal(t, []byte("k1"), applied[0].Key)
}

// Property P5 / scenario 6: flipping a byte inside the second transaction's
// COMMIT record causes replay to apply only the first transaction.
func TestReplayStopsAtCorruptedCommit(t *testing.T) {
	l, path := openTestLog(t)

	require.NoError(t, l.Begin(1))
	require.NoError(t, l.Put(1, []byte("k1"), []byte("v1")))
	require.NoError(t, l.Commit(1))

	require.NoError(t, l.Begin(2))
	require.NoError(t, l.Put(2, []byte("k2"), []byte("v2")))
	require.NoError(t, l.Commit(2))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// tx1: BEGIN(26) + PUT(22+2+2+4=30) + COMMIT(26) = 82 bytes.
	// tx2's COMMIT starts at 82 + 26 (BEGIN) + 30 (PUT) = 138.
	data[138] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	var applied []Mutation
	_, err = l2.Replay(func(m Mutation) error {
		applied = append(applied, m)
		return nil
	}, nil)
	require.NoError(t, err)

	require.Len(t, applied, 1)
	require.Equal(t, []byte("k1"), applied[0].Key)
}

func TestReplayEmitsDiagnosticOnCorruption(t *testing.T) {
	l, path := openTestLog(t)
	require.NoError(t, l.Begin(1))
	require.NoError(t, l.Put(1, []byte("k"), []byte("v")))
	require.NoError(t, l.Commit(1))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] ^= 0xFF // corrupt magic of the very first record
	require.NoError(t, os.WriteFile(path, data, 0644))

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.WarnLevel)

	var applied []Mutation
	_, err = l2.Replay(func(m Mutation) error {
		applied = append(applied, m)
		return nil
	}, logger)
	require.NoError(t, err)

	require.Empty(t, applied)
	require.NotEmpty(t, hook.Entries)
}

func TestReplayOnMissingFileIsNoop(t *testing.T) {
	l, path := openTestLog(t)
	require.NoError(t, l.Close())
	require.NoError(t, os.Remove(path))

	l2 := &Log{path: path}
	var applied []Mutation
	maxTxid, err := l2.Replay(func(m Mutation) error {
		applied = append(applied, m)
		return nil
	}, nil)
	require.NoError(t, err)
	require.Empty(t, applied)
	require.Equal(t, uint64(0), maxTxid)
}

func TestPutRejectsOversizeKeyAndValue(t *testing.T) {
	l, err := OpenWithLimits(filepath.Join(t.TempDir(), "t.wal"), Limits{MaxKeyLen: 2, MaxValueLen: 2})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Begin(1))
	err = l.Put(1, []byte("too-long"), []byte("v"))
	require.Error(t, err)

	err = l.Put(1, []byte("k"), []byte("too-long"))
	require.Error(t, err)
}

func TestDeleteMutationRoundTrips(t *testing.T) {
	l, path := openTestLog(t)

	require.NoError(t, l.Begin(1))
	require.NoError(t, l.Put(1, []byte("k"), []byte("v")))
	require.NoError(t, l.Commit(1))

	require.NoError(t, l.Begin(2))
	require.NoError(t, l.Delete(2, []byte("k")))
	require.NoError(t, l.Commit(2))
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	var applied []Mutation
	_, err = l2.Replay(func(m Mutation) error {
		applied = append(applied, m)
		return nil
	}, nil)
	require.NoError(t, err)

	require.Len(t, applied, 2)
	require.False(t, applied[0].Delete)
	require.True(t, applied[1].Delete)
	require.Equal(t, []byte("k"), applied[1].Key)
}
