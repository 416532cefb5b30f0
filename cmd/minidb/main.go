// Command minidb is a small driver over the storage core: enough to
// open a database directory, create a table, insert rows through a
// transaction, and dump what the catalog and heap hold afterward.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"minidb/config"
	"minidb/database"
	"minidb/lock"
	"minidb/storage/bufferpool"
	"minidb/txn"
	"minidb/types"
	"minidb/wal"
)

var CLI struct {
	Dir string `help:"Database directory." default:"./minidb-data" type:"path"`

	Init   InitCmd   `cmd:"" help:"Create a database directory and a sample table."`
	Insert InsertCmd `cmd:"" help:"Insert a row into an existing table."`
	Dump   DumpCmd   `cmd:"" help:"Print the catalog and every row of a table."`
}

type InitCmd struct {
	Table string `arg:"" help:"Table name to create." default:"items"`
}

func (c *InitCmd) Run() error {
	db, err := openDB(CLI.Dir)
	if err != nil {
		return err
	}
	defer db.Close()

	if db.Catalog.TableExists(c.Table) {
		fmt.Printf("table %q already exists\n", c.Table)
		return nil
	}

	guard, err := db.BufferPool.NewGuarded()
	if err != nil {
		return err
	}
	firstPage := guard.Page().Id()
	if err := guard.Release(true); err != nil {
		return err
	}

	columns := []types.ColumnDescriptor{
		{Name: "id", TypeTag: types.TypeInt, IsPK: true, Id: 0},
		{Name: "label", TypeTag: types.TypeString, Id: 1},
	}
	if _, err := db.Catalog.CreateTable(firstPage, c.Table, columns, true, 0); err != nil {
		return err
	}
	fmt.Printf("created table %q with first page %d\n", c.Table, firstPage)
	return nil
}

type InsertCmd struct {
	Table string `arg:"" help:"Table to insert into."`
	Id    int64  `arg:"" help:"Value for the id column."`
	Label string `arg:"" help:"Value for the label column."`
}

func (c *InsertCmd) Run() error {
	db, err := openDB(CLI.Dir)
	if err != nil {
		return err
	}
	defer db.Close()

	desc, ok := db.Catalog.GetTable(c.Table)
	if !ok {
		return fmt.Errorf("table %q does not exist; run init first", c.Table)
	}

	t, err := db.Txns.Begin(txn.RepeatableRead)
	if err != nil {
		return err
	}

	res := lock.TableResource(desc.Id)
	if err := db.Txns.AcquireLock(context.Background(), t, res, lock.Exclusive); err != nil {
		return rollback(db, t, err)
	}

	row := types.EncodeRow([]types.Value{types.NewInt(c.Id), types.NewString(c.Label)})
	slot, pageID, err := appendToHeap(db.BufferPool, desc.FirstPage, row)
	if err != nil {
		return rollback(db, t, err)
	}

	if _, err := db.Txns.LogData(t, wal.RecordInsert, wal.DataPayload{Page: pageID, Slot: slot, NewImage: row}); err != nil {
		return rollback(db, t, err)
	}
	if err := db.Txns.Commit(t); err != nil {
		return err
	}
	if err := db.Catalog.UpdateRowCount(c.Table, 1); err != nil {
		return err
	}

	fmt.Printf("inserted (%d, %q) into %q at page %d slot %d\n", c.Id, c.Label, c.Table, pageID, slot)
	return nil
}

type DumpCmd struct {
	Table string `arg:"" help:"Table to dump."`
}

func (c *DumpCmd) Run() error {
	db, err := openDB(CLI.Dir)
	if err != nil {
		return err
	}
	defer db.Close()

	desc, ok := db.Catalog.GetTable(c.Table)
	if !ok {
		return fmt.Errorf("table %q does not exist", c.Table)
	}
	fmt.Printf("table %q: id=%d rows=%d firstPage=%d columns=%d\n", desc.Name, desc.Id, desc.RowCount, desc.FirstPage, len(desc.Columns))

	pageID := desc.FirstPage
	for pageID != types.InvalidPageId {
		guard, err := db.BufferPool.FetchGuarded(pageID)
		if err != nil {
			return err
		}
		pg := guard.Page()
		for i := 0; i < pg.SlotCount(); i++ {
			raw, err := pg.GetRecord(types.SlotId(i))
			if err != nil {
				continue
			}
			values, err := types.DecodeRow(raw, len(desc.Columns))
			if err != nil {
				guard.Release(false)
				return err
			}
			fmt.Printf("  page=%d slot=%d id=%d label=%q\n", pageID, i, values[0].Int, values[1].Str)
		}
		next := pg.NextPage()
		if err := guard.Release(false); err != nil {
			return err
		}
		pageID = next
	}
	return nil
}

func openDB(dir string) (*database.Database, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return database.Open(dir, config.Default())
}

// appendToHeap inserts row into the first page of firstPage's chain
// that has room, allocating and linking a new page if none does.
func appendToHeap(bp *bufferpool.BufferPool, firstPage types.PageId, row []byte) (types.SlotId, types.PageId, error) {
	pageID := firstPage
	for {
		guard, err := bp.FetchGuarded(pageID)
		if err != nil {
			return 0, 0, err
		}
		pg := guard.Page()
		slot, err := pg.InsertRecord(row)
		if err == nil {
			if relErr := guard.Release(true); relErr != nil {
				return 0, 0, relErr
			}
			return slot, pageID, nil
		}
		next := pg.NextPage()
		if next != types.InvalidPageId {
			if relErr := guard.Release(false); relErr != nil {
				return 0, 0, relErr
			}
			pageID = next
			continue
		}

		newGuard, err := bp.NewGuarded()
		if err != nil {
			guard.Release(false)
			return 0, 0, err
		}
		pg.SetNextPage(newGuard.Page().Id())
		if relErr := guard.Release(true); relErr != nil {
			newGuard.Release(false)
			return 0, 0, relErr
		}

		newSlot, err := newGuard.Page().InsertRecord(row)
		if err != nil {
			newGuard.Release(true)
			return 0, 0, err
		}
		newPageID := newGuard.Page().Id()
		if relErr := newGuard.Release(true); relErr != nil {
			return 0, 0, relErr
		}
		return newSlot, newPageID, nil
	}
}

func rollback(db *database.Database, t *txn.Transaction, cause error) error {
	if err := db.Txns.Abort(t); err != nil {
		return fmt.Errorf("%v (abort also failed: %v)", cause, err)
	}
	return cause
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("minidb"),
		kong.Description("Driver for the embedded storage core."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
