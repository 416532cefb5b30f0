package bufferpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"minidb/dberrors"
	"minidb/storage/filemanager"
	"minidb/types"
)

func newTestPool(t *testing.T, capacity int) *BufferPool {
	fm, err := filemanager.Open(filepath.Join(t.TempDir(), "db.minidb"))
	require.NoError(t, err)
	t.Cleanup(func() { fm.Close() })
	return New(capacity, fm)
}

func TestNewPageIsPinnedAndDirty(t *testing.T) {
	bp := newTestPool(t, 4)

	pg, err := bp.NewPage()
	require.NoError(t, err)
	require.True(t, pg.IsDirty())

	s := bp.Stats()
	require.Equal(t, 1, s.TotalPages)
	require.Equal(t, 1, s.PinnedPages)
}

func TestFetchPageAfterUnpinReloadsSameContent(t *testing.T) {
	bp := newTestPool(t, 4)

	pg, err := bp.NewPage()
	require.NoError(t, err)
	id := pg.Id()
	_, err = pg.InsertRecord([]byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, bp.UnpinPage(id, true))
	require.NoError(t, bp.FlushPage(id))

	got, err := bp.FetchPage(id)
	require.NoError(t, err)
	rec, err := got.GetRecord(0)
	require.NoError(t, err)
	require.Equal(t, "persisted", string(rec))
}

func TestEvictionRespectsPinnedPages(t *testing.T) {
	bp := newTestPool(t, 2)

	p1, err := bp.NewPage()
	require.NoError(t, err)
	p2, err := bp.NewPage()
	require.NoError(t, err)
	require.NoError(t, bp.UnpinPage(p1.Id(), false))
	require.NoError(t, bp.UnpinPage(p2.Id(), false))

	// p1 pinned again, pool at capacity: a third NewPage must evict p2,
	// not p1.
	_, err = bp.FetchPage(p1.Id())
	require.NoError(t, err)

	p3, err := bp.NewPage()
	require.NoError(t, err)
	require.NoError(t, bp.UnpinPage(p3.Id(), false))

	s := bp.Stats()
	require.Equal(t, 2, s.TotalPages)
}

func TestEvictionExhaustedWhenAllPinned(t *testing.T) {
	bp := newTestPool(t, 1)

	_, err := bp.NewPage()
	require.NoError(t, err)

	_, err = bp.NewPage()
	require.Error(t, err)
}

func TestDeletePageRefusesPinned(t *testing.T) {
	bp := newTestPool(t, 4)

	pg, err := bp.NewPage()
	require.NoError(t, err)

	require.Error(t, bp.DeletePage(pg.Id()))

	require.NoError(t, bp.UnpinPage(pg.Id(), false))
	require.NoError(t, bp.DeletePage(pg.Id()))
}

func TestDiscardPageDropsWithoutWriteback(t *testing.T) {
	bp := newTestPool(t, 4)

	pg, err := bp.NewPage()
	require.NoError(t, err)
	id := pg.Id()
	_, err = pg.InsertRecord([]byte("uncommitted"))
	require.NoError(t, err)
	require.NoError(t, bp.UnpinPage(id, true))

	require.NoError(t, bp.DiscardPage(id))

	reloaded, err := bp.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, 0, reloaded.SlotCount(), "discarded changes must not be visible on disk")
}

func TestDiscardPageRefusesPinned(t *testing.T) {
	bp := newTestPool(t, 4)

	pg, err := bp.NewPage()
	require.NoError(t, err)

	require.Error(t, bp.DiscardPage(pg.Id()))
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	bp := newTestPool(t, 4)

	g, err := bp.NewGuarded()
	require.NoError(t, err)

	require.NoError(t, g.Release(false))
	require.NoError(t, g.Release(false))
}

func TestFlushAllClearsDirtyFlag(t *testing.T) {
	bp := newTestPool(t, 4)

	pg, err := bp.NewPage()
	require.NoError(t, err)
	require.NoError(t, bp.UnpinPage(pg.Id(), true))

	require.NoError(t, bp.FlushAll())

	s := bp.Stats()
	require.Equal(t, 0, s.DirtyPages)
}

func TestUnpinNonResidentPageReturnsNotResident(t *testing.T) {
	bp := newTestPool(t, 4)
	require.ErrorIs(t, bp.UnpinPage(types.PageId(99), false), dberrors.NotResident)
}

func TestFlushNonResidentPageReturnsNotResident(t *testing.T) {
	bp := newTestPool(t, 4)
	require.ErrorIs(t, bp.FlushPage(types.PageId(99)), dberrors.NotResident)
}
