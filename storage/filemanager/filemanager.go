// Package filemanager bijectively maps a PageId to a fixed byte offset
// in the database file and manages reuse of freed PageIds, per spec §4.1.
//
// It carries no internal mutex of its own (§5): callers are expected to
// serialize access, normally by calling through the buffer pool's
// mutex or at startup before concurrent access begins.
package filemanager

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"

	"minidb/config"
	"minidb/dberrors"
	"minidb/logging"
	"minidb/types"
)

const (
	Magic   uint32 = 0x4D494E49 // ASCII "MINI"
	Version uint32 = 1

	HeaderSize           = 64
	MaxFreeListEntries   = 1024
	freeListEntrySize    = 4
	FreeListSize         = MaxFreeListEntries * freeListEntrySize
	PageSize             = 4096
	pageAreaStartOffset  = HeaderSize + FreeListSize
	headerMagicOffset    = 0
	headerVersionOffset  = 4
	headerPageCountOff   = 8
	headerFreeListLenOff = 12
)

var log = logging.New("filemanager")

// FileManager owns the open database file handle and the free-page list.
type FileManager struct {
	file      *os.File
	pageCount uint32
	freeList  []types.PageId // tail is popped/pushed (LIFO), per §4.1
}

// Open opens an existing database file or creates and initializes a
// new one at path.
func Open(path string) (*FileManager, error) {
	_, statErr := os.Stat(path)
	exists := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening database file %s", path)
	}

	fm := &FileManager{file: f}
	if !exists {
		if err := fm.initializeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		log.Infof("initialized new database file %s", path)
		return fm, nil
	}

	if err := fm.loadHeader(); err != nil {
		f.Close()
		return nil, err
	}
	log.Infof("opened database file %s, pageCount=%d freeListLen=%d", path, fm.pageCount, len(fm.freeList))
	return fm, nil
}

func (fm *FileManager) initializeHeader() error {
	fm.pageCount = 0
	fm.freeList = nil
	return fm.flushHeader()
}

func (fm *FileManager) loadHeader() error {
	header := make([]byte, HeaderSize)
	n, err := fm.file.ReadAt(header, 0)
	if err != nil && n < HeaderSize {
		return errors.Wrap(dberrors.ShortRead, "reading file header")
	}

	magic := binary.LittleEndian.Uint32(header[headerMagicOffset:])
	if magic != Magic {
		return errors.Wrapf(dberrors.BadFormat, "magic=%#x", magic)
	}
	version := binary.LittleEndian.Uint32(header[headerVersionOffset:])
	if version != Version {
		return errors.Wrapf(dberrors.UnsupportedVersion, "version=%d", version)
	}
	fm.pageCount = binary.LittleEndian.Uint32(header[headerPageCountOff:])
	freeListLen := binary.LittleEndian.Uint32(header[headerFreeListLenOff:])

	flArea := make([]byte, FreeListSize)
	if _, err := fm.file.ReadAt(flArea, HeaderSize); err != nil {
		return errors.Wrap(dberrors.ShortRead, "reading free list area")
	}
	fm.freeList = make([]types.PageId, 0, freeListLen)
	for i := uint32(0); i < freeListLen; i++ {
		v := binary.LittleEndian.Uint32(flArea[i*freeListEntrySize:])
		fm.freeList = append(fm.freeList, types.PageId(v))
	}
	return nil
}

func (fm *FileManager) flushHeader() error {
	buf := make([]byte, HeaderSize+FreeListSize)
	binary.LittleEndian.PutUint32(buf[headerMagicOffset:], Magic)
	binary.LittleEndian.PutUint32(buf[headerVersionOffset:], Version)
	binary.LittleEndian.PutUint32(buf[headerPageCountOff:], fm.pageCount)
	binary.LittleEndian.PutUint32(buf[headerFreeListLenOff:], uint32(len(fm.freeList)))
	for i, id := range fm.freeList {
		binary.LittleEndian.PutUint32(buf[HeaderSize+i*freeListEntrySize:], uint32(id))
	}
	if _, err := fm.file.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "flushing header and free list")
	}
	return nil
}

// offset returns the byte offset of page p's 4096-byte slot.
func offset(p types.PageId) int64 {
	return pageAreaStartOffset + int64(p)*PageSize
}

// AllocatePage pops the last free-list entry if nonempty, otherwise
// grows the page area by one. The new slot is zero-initialized on disk.
func (fm *FileManager) AllocatePage() (types.PageId, error) {
	var id types.PageId
	if n := len(fm.freeList); n > 0 {
		id = fm.freeList[n-1]
		fm.freeList = fm.freeList[:n-1]
	} else {
		id = types.PageId(fm.pageCount)
		fm.pageCount++
	}

	blank := make([]byte, PageSize)
	if _, err := fm.file.WriteAt(blank, offset(id)); err != nil {
		return 0, errors.Wrapf(err, "initializing allocated page %d", id)
	}
	if err := fm.flushHeader(); err != nil {
		return 0, err
	}
	if config.ExceedsAdvisoryPageCount(int(fm.pageCount)) {
		log.Warnf("page count %d exceeds the advisory ceiling", fm.pageCount)
	}
	log.Debugf("allocated page %d (pageCount=%d freeListLen=%d)", id, fm.pageCount, len(fm.freeList))
	return id, nil
}

// DeallocatePage appends p to the free list without erasing its content.
func (fm *FileManager) DeallocatePage(p types.PageId) error {
	fm.freeList = append(fm.freeList, p)
	if err := fm.flushHeader(); err != nil {
		return err
	}
	log.Debugf("deallocated page %d (freeListLen=%d)", p, len(fm.freeList))
	return nil
}

// ReadPage reads page p's 4096 bytes into buf, which must have length
// PageSize.
func (fm *FileManager) ReadPage(p types.PageId, buf []byte) error {
	if len(buf) != PageSize {
		return errors.Errorf("ReadPage: buffer must be %d bytes, got %d", PageSize, len(buf))
	}
	n, err := fm.file.ReadAt(buf, offset(p))
	if err != nil && n < PageSize {
		return errors.Wrapf(dberrors.ShortRead, "reading page %d", p)
	}
	return nil
}

// WritePage writes buf (length PageSize) to page p's slot and flushes
// immediately.
func (fm *FileManager) WritePage(p types.PageId, buf []byte) error {
	if len(buf) != PageSize {
		return errors.Errorf("WritePage: buffer must be %d bytes, got %d", PageSize, len(buf))
	}
	n, err := fm.file.WriteAt(buf, offset(p))
	if err != nil || n < PageSize {
		return errors.Wrapf(dberrors.ShortWrite, "writing page %d", p)
	}
	if err := durableSync(fm.file); err != nil {
		return errors.Wrapf(err, "syncing page %d", p)
	}
	return nil
}

// PageCount returns the number of page slots ever allocated (including
// freed ones still occupying their slot).
func (fm *FileManager) PageCount() uint32 {
	return fm.pageCount
}

// Close syncs and closes the underlying file.
func (fm *FileManager) Close() error {
	if err := fm.flushHeader(); err != nil {
		return err
	}
	if err := durableSync(fm.file); err != nil {
		return errors.Wrap(err, "syncing database file on close")
	}
	return fm.file.Close()
}
