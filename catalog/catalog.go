// Package catalog implements the table and index metadata store of
// §6's catalog file format: a single binary file holding every table's
// schema, row count, and heap pointer, with the primary-key B+ tree
// indexes built (or rebuilt) on top of it rather than persisted
// directly.
package catalog

import (
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"

	"minidb/index/bplustree"
	"minidb/logging"
	"minidb/types"
)

var log = logging.New("catalog")

// Catalog owns every table's persisted metadata, guarded by one mutex
// held only for metadata reads and writes (§5). Primary-key indexes
// are not part of the persisted file; they are opened lazily and kept
// warm in indexCache, rebuilt from the table's heap on a cache miss.
type Catalog struct {
	mu          sync.Mutex
	path        string
	tables      map[string]*types.TableDescriptor
	nextTableID uint32

	indexCache *ristretto.Cache[uint32, *bplustree.BPlusTree]
}

// New creates an empty catalog that will persist to path.
func New(path string) (*Catalog, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint32, *bplustree.BPlusTree]{
		NumCounters: 1e4,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating catalog index cache")
	}
	return &Catalog{
		path:        path,
		tables:      make(map[string]*types.TableDescriptor),
		nextTableID: 1,
		indexCache:  cache,
	}, nil
}

// Close releases the index handle cache's background goroutines.
func (c *Catalog) Close() {
	c.indexCache.Close()
}

// CreateTable registers a new table with the given columns, whose heap
// starts at firstPage (a page the caller has already allocated). It
// fails if a table with the same name already exists.
func (c *Catalog) CreateTable(firstPage types.PageId, name string, columns []types.ColumnDescriptor, hasPK bool, pkColumnID uint16) (*types.TableDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[name]; exists {
		return nil, errors.Errorf("catalog: table %q already exists", name)
	}

	t := &types.TableDescriptor{
		Name:       name,
		Id:         c.nextTableID,
		FirstPage:  firstPage,
		RowCount:   0,
		Columns:    columns,
		HasPK:      hasPK,
		PKColumnId: pkColumnID,
	}
	c.nextTableID++
	c.tables[name] = t
	log.Infof("created table %q (id=%d, columns=%d)", name, t.Id, len(columns))
	return t, nil
}

// DropTable removes name from the catalog and evicts its cached index
// handle, if any.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tables[name]
	if !ok {
		return errors.Errorf("catalog: table %q does not exist", name)
	}
	delete(c.tables, name)
	c.indexCache.Del(t.Id)
	log.Infof("dropped table %q", name)
	return nil
}

// TableExists reports whether name names a table in the catalog.
func (c *Catalog) TableExists(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tables[name]
	return ok
}

// GetTable returns a copy of name's descriptor.
func (c *Catalog) GetTable(name string) (types.TableDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return types.TableDescriptor{}, false
	}
	return *t, true
}

// TableNames returns every registered table's name, in no particular
// order.
func (c *Catalog) TableNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

// UpdateRowCount adjusts name's row count by delta, clamping at zero
// rather than underflowing (§8 property 10).
func (c *Catalog) UpdateRowCount(name string, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tables[name]
	if !ok {
		return errors.Errorf("catalog: table %q does not exist", name)
	}
	if delta < 0 && uint64(-delta) > t.RowCount {
		t.RowCount = 0
		return nil
	}
	t.RowCount = uint64(int64(t.RowCount) + delta)
	return nil
}

// SetFirstPage updates name's heap first-page pointer.
func (c *Catalog) SetFirstPage(name string, page types.PageId) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tables[name]
	if !ok {
		return errors.Errorf("catalog: table %q does not exist", name)
	}
	t.FirstPage = page
	return nil
}
