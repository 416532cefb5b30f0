// Package page implements the 4096-byte slotted page layout of §4.2:
// a forward-growing slot directory and a backward-growing record area,
// with a CRC-style checksum computed by the checksum package.
package page

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"minidb/checksum"
	"minidb/dberrors"
	"minidb/types"
)

const (
	Size = 4096

	headerPageIdOff   = 0
	headerSlotCntOff  = 4
	headerFSOffOff    = 6
	headerFSEndOff    = 8
	headerNextPageOff = 10
	headerChecksumOff = 14
	HeaderSize        = 18

	slotEntrySize = 5 // offset(2) + length(2) + deleted(1)
)

type slotEntry struct {
	offset  uint16
	length  uint16
	deleted bool
}

// Page is the in-memory parsed form of one 4096-byte disk block.
type Page struct {
	mu sync.RWMutex

	id              types.PageId
	slots           []slotEntry
	freeSpaceOffset uint16 // constant: the slot directory's front, HeaderSize
	freeSpaceEnd    uint16 // the record area's back cursor
	nextPage        types.PageId
	checksum        uint32

	data  [Size]byte
	dirty bool
}

// New returns an empty page with the given id.
func New(id types.PageId) *Page {
	return &Page{
		id:              id,
		freeSpaceOffset: HeaderSize,
		freeSpaceEnd:    Size,
		nextPage:        types.InvalidPageId,
	}
}

func (p *Page) Lock()    { p.mu.Lock() }
func (p *Page) Unlock()  { p.mu.Unlock() }
func (p *Page) RLock()   { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }

func (p *Page) Id() types.PageId { return p.id }

func (p *Page) IsDirty() bool     { return p.dirty }
func (p *Page) SetDirty(d bool)   { p.dirty = d }
func (p *Page) NextPage() types.PageId      { return p.nextPage }
func (p *Page) SetNextPage(n types.PageId)  { p.nextPage = n; p.dirty = true }
func (p *Page) SlotCount() int              { return len(p.slots) }

// FreeSpace returns the number of bytes available for a new record,
// per the §4.2 formula.
func (p *Page) FreeSpace() int {
	return int(p.freeSpaceEnd) - int(p.freeSpaceOffset) - len(p.slots)*slotEntrySize
}

// InsertRecord places bytes in the record area and returns the slot
// that addresses it. It reuses the smallest tombstoned slot if one
// exists, otherwise appends a new slot.
func (p *Page) InsertRecord(record []byte) (types.SlotId, error) {
	if p.FreeSpace() < len(record)+slotEntrySize {
		return 0, errors.Errorf("page %d: insufficient free space for %d-byte record", p.id, len(record))
	}
	idx := p.insertBytes(record)
	p.dirty = true
	return types.SlotId(idx), nil
}

// insertBytes places record in the data area and returns the slot
// index it was installed at, reusing a tombstone if available.
func (p *Page) insertBytes(record []byte) int {
	newEnd := p.freeSpaceEnd - uint16(len(record))
	copy(p.data[newEnd:p.freeSpaceEnd], record)
	p.freeSpaceEnd = newEnd

	entry := slotEntry{offset: newEnd, length: uint16(len(record)), deleted: false}
	for i, s := range p.slots {
		if s.deleted {
			p.slots[i] = entry
			return i
		}
	}
	p.slots = append(p.slots, entry)
	return len(p.slots) - 1
}

// PutAt writes record directly into slot, growing the slot directory
// with tombstones if slot has never been used before. Unlike
// InsertRecord, the caller chooses the slot index; recovery uses this
// to replay a logged record at the exact (page, slot) it was logged
// against, rather than wherever ordinary insertion would place it.
func (p *Page) PutAt(slot types.SlotId, record []byte) error {
	idx := int(slot)
	for len(p.slots) <= idx {
		p.slots = append(p.slots, slotEntry{deleted: true})
	}
	if p.FreeSpace() < len(record) {
		return errors.Errorf("page %d: insufficient free space to replay slot %d", p.id, slot)
	}
	newEnd := p.freeSpaceEnd - uint16(len(record))
	copy(p.data[newEnd:p.freeSpaceEnd], record)
	p.freeSpaceEnd = newEnd
	p.slots[idx] = slotEntry{offset: newEnd, length: uint16(len(record)), deleted: false}
	p.dirty = true
	return nil
}

// DeleteRecord tombstones a slot without reclaiming its bytes.
func (p *Page) DeleteRecord(slot types.SlotId) error {
	idx := int(slot)
	if idx < 0 || idx >= len(p.slots) || p.slots[idx].deleted {
		return dberrors.SlotAbsent
	}
	p.slots[idx].deleted = true
	p.dirty = true
	return nil
}

// UpdateRecord overwrites a slot's bytes in place when they fit in the
// existing allocation, otherwise tombstones and re-inserts, swapping
// directory entries so the caller's SlotId still addresses the new
// bytes (§4.2).
func (p *Page) UpdateRecord(slot types.SlotId, record []byte) error {
	idx := int(slot)
	if idx < 0 || idx >= len(p.slots) || p.slots[idx].deleted {
		return dberrors.SlotAbsent
	}

	if len(record) <= int(p.slots[idx].length) {
		off := p.slots[idx].offset
		copy(p.data[off:off+uint16(len(record))], record)
		p.slots[idx].length = uint16(len(record))
		p.dirty = true
		return nil
	}

	if p.FreeSpace()+slotEntrySize < len(record)+slotEntrySize {
		return errors.Errorf("page %d: insufficient free space to grow slot %d", p.id, slot)
	}

	p.slots[idx].deleted = true
	newIdx := p.insertBytes(record)
	if newIdx != idx {
		p.slots[idx], p.slots[newIdx] = p.slots[newIdx], p.slots[idx]
	}
	p.dirty = true
	return nil
}

// GetRecord returns the bytes addressed by slot, or SlotAbsent if the
// slot is out of range or tombstoned.
func (p *Page) GetRecord(slot types.SlotId) ([]byte, error) {
	idx := int(slot)
	if idx < 0 || idx >= len(p.slots) || p.slots[idx].deleted {
		return nil, dberrors.SlotAbsent
	}
	e := p.slots[idx]
	out := make([]byte, e.length)
	copy(out, p.data[e.offset:e.offset+e.length])
	return out, nil
}

// checksumRange returns the byte range over which the checksum is
// computed: the full page buffer excluding the 4-byte checksum field.
func checksumRange(buf []byte) []byte {
	out := make([]byte, 0, len(buf)-4)
	out = append(out, buf[:headerChecksumOff]...)
	out = append(out, buf[headerChecksumOff+4:]...)
	return out
}

// Serialize writes the page's on-disk form into buf, which must have
// length Size. buf is zero-filled first.
func (p *Page) Serialize(buf []byte) error {
	if len(buf) != Size {
		return errors.Errorf("Serialize: buffer must be %d bytes, got %d", Size, len(buf))
	}
	for i := range buf {
		buf[i] = 0
	}

	binary.LittleEndian.PutUint32(buf[headerPageIdOff:], uint32(p.id))
	binary.LittleEndian.PutUint16(buf[headerSlotCntOff:], uint16(len(p.slots)))
	binary.LittleEndian.PutUint16(buf[headerFSOffOff:], p.freeSpaceOffset)
	binary.LittleEndian.PutUint16(buf[headerFSEndOff:], p.freeSpaceEnd)
	binary.LittleEndian.PutUint32(buf[headerNextPageOff:], uint32(p.nextPage))

	for i, s := range p.slots {
		off := HeaderSize + i*slotEntrySize
		binary.LittleEndian.PutUint16(buf[off:], s.offset)
		binary.LittleEndian.PutUint16(buf[off+2:], s.length)
		if s.deleted {
			buf[off+4] = 1
		}
	}

	copy(buf[p.freeSpaceEnd:Size], p.data[p.freeSpaceEnd:Size])

	sum := checksum.Fold(checksumRange(buf))
	binary.LittleEndian.PutUint32(buf[headerChecksumOff:], sum)
	return nil
}

// Deserialize reconstructs a Page from its on-disk form and verifies
// its checksum.
func Deserialize(buf []byte) (*Page, error) {
	if len(buf) != Size {
		return nil, errors.Errorf("Deserialize: buffer must be %d bytes, got %d", Size, len(buf))
	}

	stored := binary.LittleEndian.Uint32(buf[headerChecksumOff:])
	got := checksum.Fold(checksumRange(buf))
	if stored != got {
		return nil, errors.Wrapf(dberrors.ChecksumMismatch, "stored=%#x computed=%#x", stored, got)
	}

	p := &Page{
		id:              types.PageId(binary.LittleEndian.Uint32(buf[headerPageIdOff:])),
		freeSpaceOffset: binary.LittleEndian.Uint16(buf[headerFSOffOff:]),
		freeSpaceEnd:    binary.LittleEndian.Uint16(buf[headerFSEndOff:]),
		nextPage:        types.PageId(binary.LittleEndian.Uint32(buf[headerNextPageOff:])),
		checksum:        stored,
	}
	slotCount := int(binary.LittleEndian.Uint16(buf[headerSlotCntOff:]))
	p.slots = make([]slotEntry, slotCount)
	for i := 0; i < slotCount; i++ {
		off := HeaderSize + i*slotEntrySize
		p.slots[i] = slotEntry{
			offset:  binary.LittleEndian.Uint16(buf[off:]),
			length:  binary.LittleEndian.Uint16(buf[off+2:]),
			deleted: buf[off+4] != 0,
		}
	}
	copy(p.data[p.freeSpaceEnd:Size], buf[p.freeSpaceEnd:Size])
	return p, nil
}
