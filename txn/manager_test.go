package txn

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"minidb/lock"
	"minidb/storage/bufferpool"
	"minidb/storage/filemanager"
	"minidb/types"
	"minidb/wal"
)

func newHarness(t *testing.T) (*Manager, *bufferpool.BufferPool, *wal.WAL) {
	t.Helper()
	dir := t.TempDir()

	fm, err := filemanager.Open(filepath.Join(dir, "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { fm.Close() })

	bp := bufferpool.New(16, fm)

	w, err := wal.Open(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	lm := lock.New(time.Second, 10*time.Millisecond)
	t.Cleanup(lm.Close)

	return New(w, bp, lm), bp, w
}

func TestBeginAssignsIncreasingIds(t *testing.T) {
	m, _, _ := newHarness(t)

	t1, err := m.Begin(RepeatableRead)
	require.NoError(t, err)
	t2, err := m.Begin(RepeatableRead)
	require.NoError(t, err)

	require.Greater(t, t2.Id, t1.Id)
	require.True(t, m.IsActive(t1.Id))
	require.True(t, m.IsActive(t2.Id))
}

func TestCommitFlushesDirtyPagesAndReleasesLocks(t *testing.T) {
	m, bp, _ := newHarness(t)

	tx, err := m.Begin(RepeatableRead)
	require.NoError(t, err)

	guard, err := bp.NewGuarded()
	require.NoError(t, err)
	pageID := guard.Page().Id()
	_, err = guard.Page().InsertRecord([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, guard.Release(true))
	tx.RecordDirtyPage(pageID)

	res := lock.PageResource(1, pageID)
	require.NoError(t, m.AcquireLock(context.Background(), tx, res, lock.Exclusive))

	require.NoError(t, m.Commit(tx))

	require.False(t, m.IsActive(tx.Id))
	if _, held := m.lm.Holds(tx.Id, res); held {
		t.Fatalf("txn %d still holds %s after commit", tx.Id, res)
	}

	stats := bp.Stats()
	require.Zero(t, stats.DirtyPages)
}

func TestAbortDiscardsDirtyPages(t *testing.T) {
	m, bp, _ := newHarness(t)

	tx, err := m.Begin(RepeatableRead)
	require.NoError(t, err)

	guard, err := bp.NewGuarded()
	require.NoError(t, err)
	pageID := guard.Page().Id()
	require.NoError(t, guard.Release(true))
	tx.RecordDirtyPage(pageID)

	require.NoError(t, m.Abort(tx))
	require.False(t, m.IsActive(tx.Id))

	// The page is gone from the pool but its on-disk slot is untouched,
	// so a fresh fetch must succeed rather than error.
	pg, err := bp.FetchPage(pageID)
	require.NoError(t, err)
	require.NotNil(t, pg)
	require.NoError(t, bp.UnpinPage(pageID, false))
}

func TestCommitTwiceFails(t *testing.T) {
	m, _, _ := newHarness(t)

	tx, err := m.Begin(RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, m.Commit(tx))
	require.Error(t, m.Commit(tx))
}

func TestIsVisibleOwnWritesAlwaysVisible(t *testing.T) {
	tx := &Transaction{Id: 1, State: Active, Isolation: RepeatableRead, SnapshotLSN: 10}
	require.True(t, IsVisible(tx, tx))
}

func TestIsVisibleReadUncommittedSeesEverything(t *testing.T) {
	writer := &Transaction{Id: 1, State: Active}
	reader := &Transaction{Id: 2, State: Active, Isolation: ReadUncommitted}
	require.True(t, IsVisible(writer, reader))
}

func TestIsVisibleReadCommittedRequiresCommit(t *testing.T) {
	reader := &Transaction{Id: 2, State: Active, Isolation: ReadCommitted}

	uncommitted := &Transaction{Id: 1, State: Active}
	require.False(t, IsVisible(uncommitted, reader))

	committed := &Transaction{Id: 1, State: Committed, CommitLSN: 999}
	require.True(t, IsVisible(committed, reader))
}

func TestIsVisibleRepeatableReadRequiresCommitBeforeSnapshot(t *testing.T) {
	reader := &Transaction{Id: 2, State: Active, Isolation: RepeatableRead, SnapshotLSN: types.LSN(10)}

	before := &Transaction{Id: 1, State: Committed, CommitLSN: types.LSN(5)}
	require.True(t, IsVisible(before, reader))

	atSnapshot := &Transaction{Id: 1, State: Committed, CommitLSN: types.LSN(10)}
	require.True(t, IsVisible(atSnapshot, reader))

	after := &Transaction{Id: 1, State: Committed, CommitLSN: types.LSN(11)}
	require.False(t, IsVisible(after, reader))

	uncommitted := &Transaction{Id: 1, State: Active, CommitLSN: types.LSN(5)}
	require.False(t, IsVisible(uncommitted, reader))
}

func TestRestoreNextIDOnlyAdvances(t *testing.T) {
	m, _, _ := newHarness(t)

	m.RestoreNextID(types.TxnId(50))
	tx, err := m.Begin(RepeatableRead)
	require.NoError(t, err)
	require.Equal(t, types.TxnId(51), tx.Id)

	m.RestoreNextID(types.TxnId(10))
	require.NoError(t, m.Commit(tx))
	tx2, err := m.Begin(RepeatableRead)
	require.NoError(t, err)
	require.Equal(t, types.TxnId(52), tx2.Id, "RestoreNextID must never move the counter backward")
}

func TestCurrentTracksMostRecentOpenTransaction(t *testing.T) {
	m, _, _ := newHarness(t)

	_, ok := m.Current()
	require.False(t, ok)

	tx, err := m.Begin(RepeatableRead)
	require.NoError(t, err)
	cur, ok := m.Current()
	require.True(t, ok)
	require.Equal(t, tx.Id, cur.Id)

	require.NoError(t, m.Commit(tx))
	_, ok = m.Current()
	require.False(t, ok)
}
