// Package lock implements the lock manager of §4.6: table/page/row
// granularity locking with SHARED/EXCLUSIVE modes, FIFO waiter queues,
// and wait-for-graph deadlock detection.
package lock

import (
	"fmt"

	"minidb/types"
)

// Mode is a lock's requested or held access mode.
type Mode uint8

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// compatible reports whether a and b may be held simultaneously.
func compatible(a, b Mode) bool {
	return a == Shared && b == Shared
}

// Granularity names the kind of resource a ResourceId addresses.
type Granularity uint8

const (
	GranularityTable Granularity = iota
	GranularityPage
	GranularityRow
)

// ResourceId names a lockable resource: a table, a page, or a row
// within a table, per §4.6.
type ResourceId struct {
	Kind  Granularity
	Table uint32
	Page  types.PageId
	Row   types.RecordId
}

func TableResource(tableID uint32) ResourceId {
	return ResourceId{Kind: GranularityTable, Table: tableID}
}

func PageResource(tableID uint32, page types.PageId) ResourceId {
	return ResourceId{Kind: GranularityPage, Table: tableID, Page: page}
}

func RowResource(tableID uint32, row types.RecordId) ResourceId {
	return ResourceId{Kind: GranularityRow, Table: tableID, Row: row}
}

// key turns a ResourceId into a comparable map key.
func (r ResourceId) key() string {
	switch r.Kind {
	case GranularityTable:
		return fmt.Sprintf("t:%d", r.Table)
	case GranularityPage:
		return fmt.Sprintf("p:%d:%d", r.Table, r.Page)
	default:
		return fmt.Sprintf("r:%d:%d:%d", r.Table, r.Row.PageId, r.Row.Slot)
	}
}

func (r ResourceId) String() string { return r.key() }
