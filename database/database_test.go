package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"minidb/config"
	"minidb/lock"
	"minidb/txn"
	"minidb/types"
	"minidb/wal"
)

func TestOpenCreatesCollaborators(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir, config.Default())
	require.NoError(t, err)

	require.NotNil(t, db.FileManager)
	require.NotNil(t, db.BufferPool)
	require.NotNil(t, db.WAL)
	require.NotNil(t, db.Catalog)
	require.NotNil(t, db.Locks)
	require.NotNil(t, db.Txns)

	require.NoError(t, db.Close())
}

func TestReopenPersistsCatalogAndPages(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()

	db, err := Open(dir, cfg)
	require.NoError(t, err)

	guard, err := db.BufferPool.NewGuarded()
	require.NoError(t, err)
	pageID := guard.Page().Id()
	_, err = guard.Page().InsertRecord([]byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, guard.Release(true))

	_, err = db.Catalog.CreateTable(pageID, "t", []types.ColumnDescriptor{
		{Name: "id", TypeTag: types.TypeInt, Size: 8, IsPK: true, Id: 0},
	}, true, 0)
	require.NoError(t, err)

	require.NoError(t, db.Close())

	db2, err := Open(dir, cfg)
	require.NoError(t, err)
	defer db2.Close()

	got, ok := db2.Catalog.GetTable("t")
	require.True(t, ok)
	require.Equal(t, pageID, got.FirstPage)

	pg, err := db2.BufferPool.FetchPage(pageID)
	require.NoError(t, err)
	rec, err := pg.GetRecord(types.SlotId(0))
	require.NoError(t, err)
	require.Equal(t, "persisted", string(rec))
	require.NoError(t, db2.BufferPool.UnpinPage(pageID, false))
}

// TestReopenNeverReusesLSNsOrTxnIds guards against a WAL-LSN and TxnId
// counter that silently restarts at zero on every reopen: if it did,
// a transaction committed in the second run could be assigned the
// same TxnId as one committed in the first, and wal.Scan's
// last-control-record classification would attach the earlier run's
// COMMIT to it.
func TestReopenNeverReusesLSNsOrTxnIds(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()

	db, err := Open(dir, cfg)
	require.NoError(t, err)

	guard, err := db.BufferPool.NewGuarded()
	require.NoError(t, err)
	pageID := guard.Page().Id()
	require.NoError(t, guard.Release(true))

	tx, err := db.Txns.Begin(txn.RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, db.Txns.AcquireLock(context.Background(), tx, lock.PageResource(1, pageID), lock.Exclusive))
	_, err = db.Txns.LogData(tx, wal.RecordInsert, wal.DataPayload{Page: pageID, Slot: 0, NewImage: []byte("row")})
	require.NoError(t, err)
	require.NoError(t, db.Txns.Commit(tx))

	firstLSN := db.WAL.LastLSN()
	firstTxnId := tx.Id
	require.NoError(t, db.Close())

	db2, err := Open(dir, cfg)
	require.NoError(t, err)
	defer db2.Close()

	require.GreaterOrEqual(t, db2.WAL.LastLSN(), firstLSN)

	tx2, err := db2.Txns.Begin(txn.RepeatableRead)
	require.NoError(t, err)
	require.Greater(t, tx2.Id, firstTxnId)
}
