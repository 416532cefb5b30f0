package wal

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"minidb/dberrors"
	"minidb/types"
)

// Plan is the result of scanning a log for recovery: the data records
// to redo, in LSN order, and the data records to undo, in reverse LSN
// order, per §4.5. MaxLSN and MaxTxnId are the highest LSN and TxnId
// seen anywhere in the scanned region (including control records), so
// the caller can resume numbering past everything already on disk
// instead of restarting both counters at zero. MaxLSN starts from the
// checkpoint marker's LSN, so it is never below the last checkpoint even
// when no record follows it; MaxTxnId covers only records after the
// last checkpoint.
type Plan struct {
	Redo     []DecodedRecord
	Undo     []DecodedRecord
	MaxLSN   types.LSN
	MaxTxnId types.TxnId
}

// DecodedRecord pairs a data record with its already-parsed payload.
type DecodedRecord struct {
	Record  Record
	Payload DataPayload
}

// Scan reads every record in the log at path and classifies its data
// records by whether their owning transaction committed.
//
// A transaction is committed if a COMMIT record for it appears before
// end of file; it is in-flight or aborted (and so undone) otherwise,
// including when the log ends mid-transaction after a crash.
func Scan(path string) (*Plan, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &Plan{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening WAL file %s for recovery", path)
	}
	defer f.Close()

	floorLSN, floorOffset, err := loadCheckpointMarker(path)
	if err != nil {
		return nil, errors.Wrap(err, "loading checkpoint marker")
	}
	if floorOffset > 0 {
		if _, err := f.Seek(floorOffset, io.SeekStart); err != nil {
			return nil, errors.Wrapf(err, "seeking to checkpoint offset %d", floorOffset)
		}
		log.Infof("recovery scan starting after checkpoint at offset %d", floorOffset)
	}

	var records []Record
	status := make(map[types.TxnId]RecordType) // last control record seen
	plan := &Plan{MaxLSN: floorLSN}

	for {
		rec, err := readRecord(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warnf("WAL scan stopped at a short or corrupt record: %v", err)
			break
		}
		records = append(records, rec)
		if rec.LSN > plan.MaxLSN {
			plan.MaxLSN = rec.LSN
		}
		if rec.Txn > plan.MaxTxnId {
			plan.MaxTxnId = rec.Txn
		}
		switch rec.Type {
		case RecordBegin, RecordCommit, RecordAbort:
			status[rec.Txn] = rec.Type
		}
	}

	for _, rec := range records {
		switch rec.Type {
		case RecordInsert, RecordUpdate, RecordDelete:
			payload, err := decodeDataPayload(rec.Payload)
			if err != nil {
				return nil, errors.Wrapf(err, "decoding data record at LSN %d", rec.LSN)
			}
			dr := DecodedRecord{Record: rec, Payload: payload}
			if status[rec.Txn] == RecordCommit {
				plan.Redo = append(plan.Redo, dr)
			} else {
				plan.Undo = append(plan.Undo, dr)
			}
		}
	}

	for i, j := 0, len(plan.Undo)-1; i < j; i, j = i+1, j-1 {
		plan.Undo[i], plan.Undo[j] = plan.Undo[j], plan.Undo[i]
	}

	return plan, nil
}

// readRecord reads and checksum-verifies the next record from r.
func readRecord(r io.Reader) (Record, error) {
	header := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, io.EOF
		}
		return Record{}, err
	}
	rec, storedSum, payloadLen, err := decodeHeader(header)
	if err != nil {
		return Record{}, err
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Record{}, errors.Wrap(dberrors.ShortRead, "reading WAL record payload")
		}
	}
	if err := verifyChecksum(header, payload, storedSum); err != nil {
		return Record{}, err
	}
	rec.Payload = payload
	return rec, nil
}
