package filemanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"minidb/types"
)

func TestOpenCreatesNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.minidb")

	fm, err := Open(path)
	require.NoError(t, err)
	defer fm.Close()

	require.Equal(t, uint32(0), fm.PageCount())
}

func TestAllocatePageGrowsPageCount(t *testing.T) {
	fm, err := Open(filepath.Join(t.TempDir(), "db.minidb"))
	require.NoError(t, err)
	defer fm.Close()

	id1, err := fm.AllocatePage()
	require.NoError(t, err)
	id2, err := fm.AllocatePage()
	require.NoError(t, err)

	require.Equal(t, types.PageId(0), id1)
	require.Equal(t, types.PageId(1), id2)
	require.Equal(t, uint32(2), fm.PageCount())
}

func TestWriteThenReadPageRoundTrips(t *testing.T) {
	fm, err := Open(filepath.Join(t.TempDir(), "db.minidb"))
	require.NoError(t, err)
	defer fm.Close()

	id, err := fm.AllocatePage()
	require.NoError(t, err)

	buf := make([]byte, PageSize)
	for i := range buf {
		buf[i] = byte(i % 256)
	}
	require.NoError(t, fm.WritePage(id, buf))

	out := make([]byte, PageSize)
	require.NoError(t, fm.ReadPage(id, out))
	require.Equal(t, buf, out)
}

func TestDeallocateThenAllocateReusesSlot(t *testing.T) {
	fm, err := Open(filepath.Join(t.TempDir(), "db.minidb"))
	require.NoError(t, err)
	defer fm.Close()

	id1, err := fm.AllocatePage()
	require.NoError(t, err)
	_, err = fm.AllocatePage()
	require.NoError(t, err)

	require.NoError(t, fm.DeallocatePage(id1))

	before := fm.PageCount()
	reused, err := fm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, id1, reused)
	require.Equal(t, before, fm.PageCount(), "reusing a freed slot must not grow the page area")
}

func TestReopenPersistsHeaderAndFreeList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.minidb")
	fm, err := Open(path)
	require.NoError(t, err)

	id1, err := fm.AllocatePage()
	require.NoError(t, err)
	_, err = fm.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, fm.DeallocatePage(id1))
	require.NoError(t, fm.Close())

	fm2, err := Open(path)
	require.NoError(t, err)
	defer fm2.Close()

	require.Equal(t, uint32(2), fm2.PageCount())
	reused, err := fm2.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, id1, reused)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.minidb")
	fm, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, fm.Close())

	// Corrupt the magic number directly.
	raw, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = raw.WriteAt([]byte{0, 0, 0, 0}, 0)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = Open(path)
	require.Error(t, err)
}
