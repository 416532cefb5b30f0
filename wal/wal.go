// Package wal implements the append-only write-ahead log of §4.5: a
// 64KiB in-memory write buffer that is force-flushed to stable storage
// on COMMIT, ABORT and CHECKPOINT (and whenever the next record would
// overflow it), with a recovery scan that redoes
// committed transactions and undoes in-flight or aborted ones.
package wal

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"minidb/logging"
	"minidb/types"
)

// BufferSize is the size of the in-memory write buffer before it must
// be flushed regardless of durability demands.
const BufferSize = 64 * 1024

var log = logging.New("wal")

// WAL owns the append-only log file and its write buffer. It is safe
// for concurrent use: every append, flush and LSN allocation runs under
// the WAL's own mutex.
type WAL struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	buf     []byte
	lastLSN types.LSN
	flushed types.LSN
}

// Open opens (creating if necessary) the log file at path and appends
// subsequent records after its current end.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening WAL file %s", path)
	}
	w := &WAL{path: path, file: f, buf: make([]byte, 0, BufferSize)}
	log.Infof("opened WAL %s", path)
	return w, nil
}

// nextLSN allocates the next LSN. Caller holds w.mu.
func (w *WAL) nextLSN() types.LSN {
	w.lastLSN++
	return w.lastLSN
}

// append buffers rec's encoded bytes, flushing first if they would
// overflow the buffer. Caller holds w.mu.
func (w *WAL) append(rec Record) error {
	enc := rec.encode()
	if len(w.buf)+len(enc) > BufferSize {
		if err := w.flushLocked(); err != nil {
			return err
		}
	}
	w.buf = append(w.buf, enc...)
	return nil
}

// flushLocked writes the buffer to the file and fsyncs it. Caller
// holds w.mu.
func (w *WAL) flushLocked() error {
	if len(w.buf) == 0 {
		return nil
	}
	if _, err := w.file.Write(w.buf); err != nil {
		return errors.Wrap(err, "writing WAL buffer")
	}
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, "syncing WAL file")
	}
	w.buf = w.buf[:0]
	w.flushed = w.lastLSN
	return nil
}

// Flush forces the write buffer to stable storage.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// FlushedLSN returns the highest LSN known to be durable.
func (w *WAL) FlushedLSN() types.LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushed
}

// LastLSN returns the highest LSN allocated so far, durable or not.
// A transaction captures this at BEGIN as its snapshot point.
func (w *WAL) LastLSN() types.LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastLSN
}

// RestoreLSN advances the log's LSN counter to lsn if it is higher
// than what this WAL has allocated so far. Recovery calls this with
// the highest LSN found in the scanned log before any new record is
// appended, so §4.5's "set current_lsn to max-seen + 1" holds across a
// restart instead of silently reusing LSNs already on disk.
func (w *WAL) RestoreLSN(lsn types.LSN) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lsn > w.lastLSN {
		w.lastLSN = lsn
		w.flushed = lsn
	}
}

// LogBegin appends a BEGIN record for txn and returns its LSN.
func (w *WAL) LogBegin(txn types.TxnId) (types.LSN, error) {
	return w.logControl(RecordBegin, txn, types.InvalidLSN, false)
}

// LogCommit appends a COMMIT record for txn and force-flushes, per
// §4.5's rule that COMMIT never returns before its record is durable.
func (w *WAL) LogCommit(txn types.TxnId, prevLSN types.LSN) (types.LSN, error) {
	return w.logControl(RecordCommit, txn, prevLSN, true)
}

// LogAbort appends an ABORT record for txn and force-flushes.
func (w *WAL) LogAbort(txn types.TxnId, prevLSN types.LSN) (types.LSN, error) {
	return w.logControl(RecordAbort, txn, prevLSN, true)
}

// LogCheckpoint appends a CHECKPOINT record, force-flushes, and
// atomically records the record's end offset as the new recovery
// floor: Scan need never look at anything before it.
func (w *WAL) LogCheckpoint() (types.LSN, error) {
	lsn, err := w.logControl(RecordCheckpoint, types.InvalidTxnId, types.InvalidLSN, true)
	if err != nil {
		return lsn, err
	}

	w.mu.Lock()
	offset, err := w.file.Seek(0, io.SeekEnd)
	w.mu.Unlock()
	if err != nil {
		return lsn, errors.Wrap(err, "finding checkpoint offset")
	}
	if err := saveCheckpointMarker(w.path, lsn, offset); err != nil {
		return lsn, errors.Wrap(err, "saving checkpoint marker")
	}
	return lsn, nil
}

func (w *WAL) logControl(t RecordType, txn types.TxnId, prevLSN types.LSN, force bool) (types.LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN()
	if err := w.append(Record{LSN: lsn, PrevLSN: prevLSN, Txn: txn, Type: t}); err != nil {
		return types.InvalidLSN, err
	}
	if force {
		if err := w.flushLocked(); err != nil {
			return types.InvalidLSN, err
		}
	}
	return lsn, nil
}

// LogData appends an INSERT/UPDATE/DELETE record and returns its LSN.
// Data records are not force-flushed; they become durable on the
// transaction's eventual COMMIT or on a CHECKPOINT.
func (w *WAL) LogData(t RecordType, txn types.TxnId, prevLSN types.LSN, payload DataPayload) (types.LSN, error) {
	if t != RecordInsert && t != RecordUpdate && t != RecordDelete {
		return types.InvalidLSN, errors.Errorf("LogData: not a data record type: %d", t)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN()
	rec := Record{LSN: lsn, PrevLSN: prevLSN, Txn: txn, Type: t, Payload: encodeDataPayload(payload)}
	if err := w.append(rec); err != nil {
		return types.InvalidLSN, err
	}
	return lsn, nil
}

// LogInsert appends an INSERT record recording the row bytes written
// to (page, slot).
func (w *WAL) LogInsert(txn types.TxnId, prevLSN types.LSN, pageID types.PageId, slot types.SlotId, newImage []byte) (types.LSN, error) {
	return w.LogData(RecordInsert, txn, prevLSN, DataPayload{Page: pageID, Slot: slot, NewImage: newImage})
}

// LogUpdate appends an UPDATE record recording (page, slot)'s before
// and after images.
func (w *WAL) LogUpdate(txn types.TxnId, prevLSN types.LSN, pageID types.PageId, slot types.SlotId, oldImage, newImage []byte) (types.LSN, error) {
	return w.LogData(RecordUpdate, txn, prevLSN, DataPayload{Page: pageID, Slot: slot, OldImage: oldImage, NewImage: newImage})
}

// LogDelete appends a DELETE record recording (page, slot)'s image
// before the delete.
func (w *WAL) LogDelete(txn types.TxnId, prevLSN types.LSN, pageID types.PageId, slot types.SlotId, oldImage []byte) (types.LSN, error) {
	return w.LogData(RecordDelete, txn, prevLSN, DataPayload{Page: pageID, Slot: slot, OldImage: oldImage})
}

// Checkpoint appends a CHECKPOINT record and force-flushes.
func (w *WAL) Checkpoint() (types.LSN, error) {
	return w.LogCheckpoint()
}

// Close flushes and closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.file.Close()
}
