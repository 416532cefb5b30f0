package catalog

import (
	"github.com/pkg/errors"

	"minidb/dberrors"
	"minidb/index/bplustree"
	"minidb/storage/bufferpool"
	"minidb/types"
)

// CreateIndex builds a fresh, empty primary-key B+ tree for table and
// warms the cache with it. It does not scan the table's existing rows;
// callers populate it by inserting as rows are written, or by calling
// RebuildIndex afterward.
func (c *Catalog) CreateIndex(bp *bufferpool.BufferPool, table string, order int) (*bplustree.BPlusTree, error) {
	t, ok := c.GetTable(table)
	if !ok {
		return nil, errors.Errorf("catalog: table %q does not exist", table)
	}

	tree, err := bplustree.New(bp, order)
	if err != nil {
		return nil, errors.Wrapf(err, "creating index for table %q", table)
	}
	c.indexCache.Set(t.Id, tree, 1)
	c.indexCache.Wait()
	return tree, nil
}

// DropIndex discards table's cached index handle. The tree's pages
// remain on disk until the caller reclaims them.
func (c *Catalog) DropIndex(table string) error {
	t, ok := c.GetTable(table)
	if !ok {
		return errors.Errorf("catalog: table %q does not exist", table)
	}
	c.indexCache.Del(t.Id)
	return nil
}

// LookupIndex returns table's open primary-key index, serving it from
// cache when warm and rebuilding it from the table's heap otherwise.
func (c *Catalog) LookupIndex(bp *bufferpool.BufferPool, table string, order int) (*bplustree.BPlusTree, error) {
	t, ok := c.GetTable(table)
	if !ok {
		return nil, errors.Errorf("catalog: table %q does not exist", table)
	}
	if !t.HasPK {
		return nil, errors.Errorf("catalog: table %q has no primary key index", table)
	}

	if tree, found := c.indexCache.Get(t.Id); found {
		return tree, nil
	}
	return c.RebuildIndex(bp, table, order)
}

// RebuildIndex walks table's heap page chain from its first page,
// decoding every live row and reinserting its primary key into a fresh
// B+ tree, then installs that tree in the index cache. It is the only
// way a primary-key index survives a reopen, since the catalog file
// persists no index root pointer of its own (§9 open question).
//
// The primary key column must be an INT column; rebuilding an index
// over a non-integer primary key is not supported by this core.
func (c *Catalog) RebuildIndex(bp *bufferpool.BufferPool, table string, order int) (*bplustree.BPlusTree, error) {
	t, ok := c.GetTable(table)
	if !ok {
		return nil, errors.Errorf("catalog: table %q does not exist", table)
	}
	if !t.HasPK {
		return nil, errors.Errorf("catalog: table %q has no primary key", table)
	}

	var pkCol *types.ColumnDescriptor
	for i := range t.Columns {
		if t.Columns[i].Id == t.PKColumnId {
			pkCol = &t.Columns[i]
			break
		}
	}
	if pkCol == nil {
		return nil, errors.Errorf("catalog: table %q's primary key column %d not found", table, t.PKColumnId)
	}
	if pkCol.TypeTag != types.TypeInt {
		return nil, errors.Errorf("catalog: table %q's primary key column %q is not INT", table, pkCol.Name)
	}

	tree, err := bplustree.New(bp, order)
	if err != nil {
		return nil, errors.Wrapf(err, "rebuilding index for table %q", table)
	}

	pageID := t.FirstPage
	for pageID != types.InvalidPageId {
		guard, err := bp.FetchGuarded(pageID)
		if err != nil {
			return nil, errors.Wrapf(err, "fetching heap page %d for table %q", pageID, table)
		}
		pg := guard.Page()
		slotCount := pg.SlotCount()
		next := pg.NextPage()

		for s := 0; s < slotCount; s++ {
			slot := types.SlotId(s)
			raw, err := pg.GetRecord(slot)
			if err != nil {
				if errors.Is(err, dberrors.SlotAbsent) {
					continue
				}
				guard.Release(false)
				return nil, errors.Wrapf(err, "reading slot %d of page %d", s, pageID)
			}
			values, err := types.DecodeRow(raw, len(t.Columns))
			if err != nil {
				guard.Release(false)
				return nil, errors.Wrapf(err, "decoding row at page %d slot %d", pageID, s)
			}
			key := values[pkColumnIndex(t.Columns, t.PKColumnId)].Int
			rid := types.RecordId{PageId: pageID, Slot: slot}
			if err := tree.InsertUnique(key, rid); err != nil {
				guard.Release(false)
				return nil, errors.Wrapf(err, "indexing row at page %d slot %d", pageID, s)
			}
		}
		guard.Release(false)
		pageID = next
	}

	c.indexCache.Set(t.Id, tree, 1)
	c.indexCache.Wait()
	log.Infof("rebuilt index for table %q", table)
	return tree, nil
}

func pkColumnIndex(columns []types.ColumnDescriptor, pkID uint16) int {
	for i, c := range columns {
		if c.Id == pkID {
			return i
		}
	}
	return -1
}
