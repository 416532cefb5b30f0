package wal

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"minidb/checksum"
	"minidb/dberrors"
	"minidb/types"
)

// RecordType tags the kind of a WAL record, per §4.5.
type RecordType uint8

const (
	RecordBegin RecordType = iota + 1
	RecordCommit
	RecordAbort
	RecordInsert
	RecordUpdate
	RecordDelete
	RecordCheckpoint
)

// recordHeaderSize is LSN(8) + PrevLSN(8) + TxnId(8) + Type(1) +
// PayloadLen(4) + Checksum(4).
const recordHeaderSize = 8 + 8 + 8 + 1 + 4 + 4

const (
	hdrLSNOff     = 0
	hdrPrevLSNOff = 8
	hdrTxnOff     = 16
	hdrTypeOff    = 24
	hdrLenOff     = 25
	hdrSumOff     = 29
)

// Record is one entry in the log: a transaction control record (BEGIN,
// COMMIT, ABORT, CHECKPOINT) or a data record (INSERT, UPDATE, DELETE)
// carrying the before/after row images needed to redo or undo it.
type Record struct {
	LSN     types.LSN
	PrevLSN types.LSN
	Txn     types.TxnId
	Type    RecordType
	Payload []byte
}

// DataPayload is the decoded payload of an INSERT/UPDATE/DELETE record.
type DataPayload struct {
	Page     types.PageId
	Slot     types.SlotId
	OldImage []byte // empty for INSERT
	NewImage []byte // empty for DELETE
}

func encodeDataPayload(p DataPayload) []byte {
	buf := make([]byte, 4+2+4+len(p.OldImage)+4+len(p.NewImage))
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(p.Page))
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], uint16(p.Slot))
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(p.OldImage)))
	off += 4
	copy(buf[off:], p.OldImage)
	off += len(p.OldImage)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(p.NewImage)))
	off += 4
	copy(buf[off:], p.NewImage)
	return buf
}

func decodeDataPayload(buf []byte) (DataPayload, error) {
	if len(buf) < 4+2+4 {
		return DataPayload{}, errors.Wrap(dberrors.BadFormat, "data payload too short")
	}
	off := 0
	page := types.PageId(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	slot := types.SlotId(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	oldLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+oldLen+4 > len(buf) {
		return DataPayload{}, errors.Wrap(dberrors.BadFormat, "data payload old image truncated")
	}
	old := buf[off : off+oldLen]
	off += oldLen
	newLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+newLen > len(buf) {
		return DataPayload{}, errors.Wrap(dberrors.BadFormat, "data payload new image truncated")
	}
	newImg := buf[off : off+newLen]
	return DataPayload{Page: page, Slot: slot, OldImage: old, NewImage: newImg}, nil
}

// encode serializes r into its on-disk form, including the trailing
// checksum over everything but the checksum field itself.
func (r Record) encode() []byte {
	buf := make([]byte, recordHeaderSize+len(r.Payload))
	binary.LittleEndian.PutUint64(buf[hdrLSNOff:], uint64(r.LSN))
	binary.LittleEndian.PutUint64(buf[hdrPrevLSNOff:], uint64(r.PrevLSN))
	binary.LittleEndian.PutUint64(buf[hdrTxnOff:], uint64(r.Txn))
	buf[hdrTypeOff] = byte(r.Type)
	binary.LittleEndian.PutUint32(buf[hdrLenOff:], uint32(len(r.Payload)))
	copy(buf[recordHeaderSize:], r.Payload)

	sum := checksum.Fold(append(buf[:hdrSumOff:hdrSumOff], buf[recordHeaderSize:]...))
	binary.LittleEndian.PutUint32(buf[hdrSumOff:], sum)
	return buf
}

// decodeHeader parses the fixed header of a record from buf, which
// must have length recordHeaderSize.
func decodeHeader(buf []byte) (Record, uint32, int, error) {
	if len(buf) != recordHeaderSize {
		return Record{}, 0, 0, errors.Errorf("decodeHeader: expected %d bytes, got %d", recordHeaderSize, len(buf))
	}
	r := Record{
		LSN:     types.LSN(binary.LittleEndian.Uint64(buf[hdrLSNOff:])),
		PrevLSN: types.LSN(binary.LittleEndian.Uint64(buf[hdrPrevLSNOff:])),
		Txn:     types.TxnId(binary.LittleEndian.Uint64(buf[hdrTxnOff:])),
		Type:    RecordType(buf[hdrTypeOff]),
	}
	payloadLen := int(binary.LittleEndian.Uint32(buf[hdrLenOff:]))
	storedSum := binary.LittleEndian.Uint32(buf[hdrSumOff:])
	return r, storedSum, payloadLen, nil
}

// verifyChecksum recomputes a record's checksum from its header and
// payload bytes and compares it against storedSum.
func verifyChecksum(headerBuf []byte, payload []byte, storedSum uint32) error {
	got := checksum.Fold(append(headerBuf[:hdrSumOff:hdrSumOff], payload...))
	if got != storedSum {
		return errors.Wrapf(dberrors.ChecksumMismatch, "wal record: stored=%#x computed=%#x", storedSum, got)
	}
	return nil
}
