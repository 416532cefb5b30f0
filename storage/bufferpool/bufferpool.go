// Package bufferpool caches fixed-size pages in memory over the file
// manager, evicting by least-recently-used order while a page is
// unpinned, per spec §4.3.
package bufferpool

import (
	"sync"

	"github.com/pkg/errors"

	"minidb/dberrors"
	"minidb/logging"
	"minidb/storage/filemanager"
	"minidb/storage/page"
	"minidb/types"
)

var log = logging.New("bufferpool")

type frame struct {
	pg       *page.Page
	pinCount int
}

// Stats reports a point-in-time snapshot of pool occupancy.
type Stats struct {
	TotalPages  int
	PinnedPages int
	DirtyPages  int
	Capacity    int
}

// BufferPool guards the page table, LRU order, and every frame's pin
// count behind a single mutex (§5): no finer-grained locking is used,
// since a caller holding a pin already excludes eviction of that frame.
type BufferPool struct {
	mu          sync.Mutex
	frames      map[types.PageId]*frame
	capacity    int
	fm          *filemanager.FileManager
	accessOrder []types.PageId // least recently used at front
}

// New creates a buffer pool of the given frame capacity over fm.
func New(capacity int, fm *filemanager.FileManager) *BufferPool {
	return &BufferPool{
		frames:      make(map[types.PageId]*frame, capacity),
		capacity:    capacity,
		fm:          fm,
		accessOrder: make([]types.PageId, 0, capacity),
	}
}

// FetchPage returns the page identified by id, pinned once, loading it
// from disk on a miss.
func (bp *BufferPool) FetchPage(id types.PageId) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if fr, ok := bp.frames[id]; ok {
		fr.pinCount++
		bp.touch(id)
		return fr.pg, nil
	}

	buf := make([]byte, filemanager.PageSize)
	if err := bp.fm.ReadPage(id, buf); err != nil {
		return nil, errors.Wrapf(err, "fetching page %d", id)
	}
	pg, err := page.Deserialize(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "deserializing page %d", id)
	}

	if err := bp.install(id, pg); err != nil {
		return nil, err
	}
	bp.frames[id].pinCount++
	log.Debugf("fetched page %d from disk", id)
	return pg, nil
}

// NewPage allocates a fresh page on disk, installs it pinned and dirty,
// and returns it.
func (bp *BufferPool) NewPage() (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	id, err := bp.fm.AllocatePage()
	if err != nil {
		return nil, errors.Wrap(err, "allocating new page")
	}
	pg := page.New(id)
	pg.SetDirty(true)

	if err := bp.install(id, pg); err != nil {
		return nil, err
	}
	bp.frames[id].pinCount++
	log.Debugf("allocated new page %d", id)
	return pg, nil
}

// install adds pg to the frame table, evicting a frame first if the
// pool is at capacity. Caller holds bp.mu.
func (bp *BufferPool) install(id types.PageId, pg *page.Page) error {
	if _, ok := bp.frames[id]; ok {
		bp.touch(id)
		return nil
	}
	if len(bp.frames) >= bp.capacity {
		if err := bp.evict(); err != nil {
			return err
		}
	}
	bp.frames[id] = &frame{pg: pg}
	bp.touch(id)
	return nil
}

// evict drops the least recently used unpinned frame, flushing it
// first if dirty. Caller holds bp.mu.
func (bp *BufferPool) evict() error {
	for i, id := range bp.accessOrder {
		fr := bp.frames[id]
		if fr == nil {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			return bp.evict()
		}
		if fr.pinCount > 0 {
			continue
		}
		if fr.pg.IsDirty() {
			if err := bp.flush(id, fr); err != nil {
				return errors.Wrapf(err, "flushing page %d during eviction", id)
			}
		}
		delete(bp.frames, id)
		bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
		log.Debugf("evicted page %d", id)
		return nil
	}
	return dberrors.BufferPoolExhausted
}

// touch moves id to the most-recently-used end. Caller holds bp.mu.
func (bp *BufferPool) touch(id types.PageId) {
	for i, v := range bp.accessOrder {
		if v == id {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			break
		}
	}
	bp.accessOrder = append(bp.accessOrder, id)
}

// UnpinPage decrements id's pin count, optionally marking it dirty.
func (bp *BufferPool) UnpinPage(id types.PageId, dirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fr, ok := bp.frames[id]
	if !ok {
		return errors.Wrapf(dberrors.NotResident, "unpin: page %d", id)
	}
	if fr.pinCount > 0 {
		fr.pinCount--
	}
	if dirty {
		fr.pg.SetDirty(true)
	}
	return nil
}

// flush writes fr's page to disk if dirty. Caller holds bp.mu.
func (bp *BufferPool) flush(id types.PageId, fr *frame) error {
	if !fr.pg.IsDirty() {
		return nil
	}
	buf := make([]byte, filemanager.PageSize)
	if err := fr.pg.Serialize(buf); err != nil {
		return err
	}
	if err := bp.fm.WritePage(id, buf); err != nil {
		return err
	}
	fr.pg.SetDirty(false)
	return nil
}

// FlushPage writes a resident page to disk if it is dirty.
func (bp *BufferPool) FlushPage(id types.PageId) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fr, ok := bp.frames[id]
	if !ok {
		return errors.Wrapf(dberrors.NotResident, "flush: page %d", id)
	}
	return bp.flush(id, fr)
}

// FlushAll writes every dirty resident page to disk.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for id, fr := range bp.frames {
		if err := bp.flush(id, fr); err != nil {
			return errors.Wrapf(err, "flushing page %d", id)
		}
	}
	return nil
}

// DeletePage evicts id from the pool and frees its slot on disk. It
// refuses to delete a pinned page.
func (bp *BufferPool) DeletePage(id types.PageId) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if fr, ok := bp.frames[id]; ok {
		if fr.pinCount > 0 {
			return errors.Errorf("cannot delete pinned page %d", id)
		}
		delete(bp.frames, id)
		for i, v := range bp.accessOrder {
			if v == id {
				bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
				break
			}
		}
	}
	return bp.fm.DeallocatePage(id)
}

// DiscardPage drops id's frame from the pool without writing it back,
// leaving the page's on-disk slot allocated and untouched. A
// transaction aborting its own uncommitted changes to a page it never
// flushed uses this instead of FlushPage, so those changes vanish on
// the next fetch from disk. It refuses to discard a pinned page.
func (bp *BufferPool) DiscardPage(id types.PageId) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fr, ok := bp.frames[id]
	if !ok {
		return nil
	}
	if fr.pinCount > 0 {
		return errors.Errorf("cannot discard pinned page %d", id)
	}
	delete(bp.frames, id)
	for i, v := range bp.accessOrder {
		if v == id {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Stats reports the pool's current occupancy.
func (bp *BufferPool) Stats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	s := Stats{TotalPages: len(bp.frames), Capacity: bp.capacity}
	for _, fr := range bp.frames {
		if fr.pinCount > 0 {
			s.PinnedPages++
		}
		if fr.pg.IsDirty() {
			s.DirtyPages++
		}
	}
	return s
}

// Guard is a scoped handle over a pinned page: Release unpins exactly
// once regardless of how many times it is called.
type Guard struct {
	bp       *BufferPool
	id       types.PageId
	pg       *page.Page
	released bool
}

// Page returns the guarded page.
func (g *Guard) Page() *page.Page { return g.pg }

// Release unpins the guarded page, marking it dirty if requested. Safe
// to call more than once.
func (g *Guard) Release(dirty bool) error {
	if g.released {
		return nil
	}
	g.released = true
	return g.bp.UnpinPage(g.id, dirty)
}

// FetchGuarded fetches id and wraps it in a Guard.
func (bp *BufferPool) FetchGuarded(id types.PageId) (*Guard, error) {
	pg, err := bp.FetchPage(id)
	if err != nil {
		return nil, err
	}
	return &Guard{bp: bp, id: id, pg: pg}, nil
}

// NewGuarded allocates a new page and wraps it in a Guard.
func (bp *BufferPool) NewGuarded() (*Guard, error) {
	pg, err := bp.NewPage()
	if err != nil {
		return nil, err
	}
	return &Guard{bp: bp, id: pg.Id(), pg: pg}, nil
}
