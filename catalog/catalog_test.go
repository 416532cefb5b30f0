package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"minidb/storage/bufferpool"
	"minidb/storage/filemanager"
	"minidb/types"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func sampleColumns() []types.ColumnDescriptor {
	return []types.ColumnDescriptor{
		{Name: "id", TypeTag: types.TypeInt, Size: 8, IsPK: true, Id: 0},
		{Name: "name", TypeTag: types.TypeString, Size: 16, Id: 1},
	}
}

func TestCreateAndGetTable(t *testing.T) {
	c := newTestCatalog(t)

	tbl, err := c.CreateTable(types.PageId(0), "t", sampleColumns(), true, 0)
	require.NoError(t, err)
	require.Equal(t, "t", tbl.Name)
	require.True(t, c.TableExists("t"))

	got, ok := c.GetTable("t")
	require.True(t, ok)
	require.Equal(t, tbl.Id, got.Id)
	require.Len(t, got.Columns, 2)
}

func TestCreateTableDuplicateFails(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.CreateTable(types.PageId(0), "t", sampleColumns(), true, 0)
	require.NoError(t, err)
	_, err = c.CreateTable(types.PageId(1), "t", sampleColumns(), true, 0)
	require.Error(t, err)
}

func TestUpdateRowCountClampsAtZero(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.CreateTable(types.PageId(0), "t", sampleColumns(), true, 0)
	require.NoError(t, err)

	require.NoError(t, c.UpdateRowCount("t", 5))
	got, _ := c.GetTable("t")
	require.EqualValues(t, 5, got.RowCount)

	require.NoError(t, c.UpdateRowCount("t", -10))
	got, _ = c.GetTable("t")
	require.EqualValues(t, 0, got.RowCount)
}

func TestDropTableRemovesIt(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.CreateTable(types.PageId(0), "t", sampleColumns(), true, 0)
	require.NoError(t, err)

	require.NoError(t, c.DropTable("t"))
	require.False(t, c.TableExists("t"))
	require.Error(t, c.DropTable("t"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	c1, err := New(path)
	require.NoError(t, err)
	_, err = c1.CreateTable(types.PageId(3), "t", sampleColumns(), true, 0)
	require.NoError(t, err)
	require.NoError(t, c1.UpdateRowCount("t", 3))
	require.NoError(t, c1.Save())
	c1.Close()

	c2, err := New(path)
	require.NoError(t, err)
	defer c2.Close()
	require.NoError(t, c2.Load())

	got, ok := c2.GetTable("t")
	require.True(t, ok)
	require.Equal(t, "t", got.Name)
	require.EqualValues(t, 3, got.RowCount)
	require.EqualValues(t, types.PageId(3), got.FirstPage)
	require.Len(t, got.Columns, 2)
	require.Equal(t, "name", got.Columns[1].Name)
}

func TestLookupIndexRebuildsFromHeap(t *testing.T) {
	dir := t.TempDir()
	fm, err := filemanager.Open(filepath.Join(dir, "data.db"))
	require.NoError(t, err)
	defer fm.Close()
	bp := bufferpool.New(16, fm)

	guard, err := bp.NewGuarded()
	require.NoError(t, err)
	firstPage := guard.Page().Id()

	rows := [][2]interface{}{{int64(1), "a"}, {int64(2), "b"}, {int64(3), "c"}}
	for _, r := range rows {
		rec := types.EncodeRow([]types.Value{types.NewInt(r[0].(int64)), types.NewString(r[1].(string))})
		_, err := guard.Page().InsertRecord(rec)
		require.NoError(t, err)
	}
	require.NoError(t, guard.Release(true))
	require.NoError(t, bp.FlushPage(firstPage))

	c := newTestCatalog(t)
	_, err = c.CreateTable(firstPage, "t", sampleColumns(), true, 0)
	require.NoError(t, err)

	tree, err := c.LookupIndex(bp, "t", 4)
	require.NoError(t, err)

	rid, err := tree.Search(2)
	require.NoError(t, err)
	require.Equal(t, firstPage, rid.PageId)

	// Second lookup should be served from cache without rescanning.
	tree2, err := c.LookupIndex(bp, "t", 4)
	require.NoError(t, err)
	require.Same(t, tree, tree2)
}
