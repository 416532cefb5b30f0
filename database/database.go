// Package database wires the storage core's collaborators into a
// single value (§9 Design Notes): the File Manager, Buffer Pool, WAL,
// Catalog, Transaction Manager, and Lock Manager, opened together and
// passed by reference to callers rather than kept as process globals.
package database

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"minidb/catalog"
	"minidb/config"
	"minidb/dberrors"
	"minidb/lock"
	"minidb/logging"
	"minidb/storage/bufferpool"
	"minidb/storage/filemanager"
	"minidb/txn"
	"minidb/types"
	"minidb/wal"
)

var log = logging.New("database")

// Database owns every shared collaborator for one open database
// directory.
type Database struct {
	cfg config.Config

	FileManager *filemanager.FileManager
	BufferPool  *bufferpool.BufferPool
	WAL         *wal.WAL
	Catalog     *catalog.Catalog
	Locks       *lock.Manager
	Txns        *txn.Manager
}

// Open opens (creating if necessary) the database rooted at dir,
// wiring every collaborator and running WAL recovery before returning.
func Open(dir string, cfg config.Config) (*Database, error) {
	if cfg == (config.Config{}) {
		cfg = config.Default()
	}
	fm, err := filemanager.Open(filepath.Join(dir, "data.db"))
	if err != nil {
		return nil, errors.Wrap(err, "opening file manager")
	}
	bp := bufferpool.New(cfg.BufferPoolCapacity, fm)

	walPath := filepath.Join(dir, "wal.log")
	plan, err := recoverFromWAL(walPath, bp)
	if err != nil {
		fm.Close()
		return nil, errors.Wrap(err, "recovering from WAL")
	}
	w, err := wal.Open(walPath)
	if err != nil {
		fm.Close()
		return nil, errors.Wrap(err, "opening WAL")
	}
	// §4.5: "set current_lsn to max-seen + 1" — restore the counter so
	// a second crash/recovery cycle never reuses an LSN already on disk.
	w.RestoreLSN(plan.MaxLSN)

	cat, err := catalog.New(filepath.Join(dir, "catalog.db"))
	if err != nil {
		w.Close()
		fm.Close()
		return nil, errors.Wrap(err, "creating catalog")
	}
	if err := cat.Load(); err != nil {
		cat.Close()
		w.Close()
		fm.Close()
		return nil, errors.Wrap(err, "loading catalog")
	}

	lm := lock.New(
		time.Duration(cfg.LockTimeoutMS)*time.Millisecond,
		time.Duration(cfg.DeadlockPollMS)*time.Millisecond,
	)
	tm := txn.New(w, bp, lm)
	tm.RestoreNextID(plan.MaxTxnId)

	log.Infof("opened database at %s", dir)
	return &Database{
		cfg:         cfg,
		FileManager: fm,
		BufferPool:  bp,
		WAL:         w,
		Catalog:     cat,
		Locks:       lm,
		Txns:        tm,
	}, nil
}

// recoverFromWAL applies the redo/undo plan from a prior run's log, if
// any, before a fresh WAL handle is opened over it, and returns the
// plan so Open can restore the LSN and TxnId counters past everything
// already on disk.
func recoverFromWAL(path string, bp *bufferpool.BufferPool) (*wal.Plan, error) {
	plan, err := wal.Scan(path)
	if err != nil {
		return nil, err
	}
	for _, dr := range plan.Redo {
		if err := applyImage(bp, dr.Payload.Page, dr.Payload.Slot, dr.Payload.NewImage); err != nil {
			return nil, errors.Wrapf(err, "redoing LSN %d", dr.Record.LSN)
		}
	}
	for _, dr := range plan.Undo {
		if err := applyImage(bp, dr.Payload.Page, dr.Payload.Slot, dr.Payload.OldImage); err != nil {
			return nil, errors.Wrapf(err, "undoing LSN %d", dr.Record.LSN)
		}
	}
	if len(plan.Redo) > 0 || len(plan.Undo) > 0 {
		if err := bp.FlushAll(); err != nil {
			return nil, errors.Wrap(err, "flushing recovered pages")
		}
	}
	return plan, nil
}

// applyImage reapplies a logged row image to (pageID, slot): an empty
// image means the slot should end up tombstoned (the DELETE record's
// redo, or the UNDO of an INSERT), otherwise the image is written in
// place, growing the page's slot directory if the slot has never been
// seen before.
func applyImage(bp *bufferpool.BufferPool, pageID types.PageId, slot types.SlotId, image []byte) error {
	guard, err := bp.FetchGuarded(pageID)
	if err != nil {
		return err
	}
	defer guard.Release(true)

	pg := guard.Page()
	if len(image) == 0 {
		if err := pg.DeleteRecord(slot); err != nil && !errors.Is(err, dberrors.SlotAbsent) {
			return err
		}
		return nil
	}
	return pg.PutAt(slot, image)
}

// Close flushes every dirty page, saves the catalog, and closes every
// collaborator in reverse dependency order.
func (db *Database) Close() error {
	if err := db.BufferPool.FlushAll(); err != nil {
		return errors.Wrap(err, "flushing buffer pool")
	}
	if err := db.Catalog.Save(); err != nil {
		return errors.Wrap(err, "saving catalog")
	}
	db.Catalog.Close()
	db.Locks.Close()
	if err := db.WAL.Close(); err != nil {
		return errors.Wrap(err, "closing WAL")
	}
	if err := db.FileManager.Close(); err != nil {
		return errors.Wrap(err, "closing file manager")
	}
	log.Infof("closed database")
	return nil
}
