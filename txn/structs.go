// Package txn implements the transaction manager of §4.7: it hands out
// transaction ids, tracks each transaction's held locks and dirty pages,
// and drives WAL commit/abort records in lockstep with lock release and
// buffer pool writeback.
package txn

import (
	"minidb/lock"
	"minidb/types"
)

// IsolationLevel is the isolation level a transaction runs under.
type IsolationLevel uint8

const (
	// ReadUncommitted sees every write, committed or not.
	ReadUncommitted IsolationLevel = iota
	// ReadCommitted sees any write whose transaction has committed,
	// regardless of when, so two reads in the same transaction can see
	// different values for the same row.
	ReadCommitted
	// RepeatableRead lets a transaction see any write committed before
	// its own snapshot LSN, and nothing committed after it.
	RepeatableRead
	// Serializable additionally requires every lock acquired for the
	// lifetime of the transaction, never released early; the lock
	// manager already does this, so Serializable differs from
	// RepeatableRead only in how the caller is expected to use it.
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case ReadCommitted:
		return "READ COMMITTED"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "REPEATABLE READ"
	}
}

// State is a transaction's lifecycle state.
type State uint8

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "ACTIVE"
	}
}

// Transaction is one unit of work: its WAL chain position, the locks it
// holds, and the pages it has made dirty, so Commit and Abort know what
// to flush or discard.
type Transaction struct {
	Id          types.TxnId
	State       State
	Isolation   IsolationLevel
	SnapshotLSN types.LSN
	CommitLSN   types.LSN
	lastLSN     types.LSN

	heldLocks  []lock.ResourceId
	dirtyPages map[types.PageId]bool
}

// RecordLock remembers that the transaction holds res, so ReleaseAll
// can drop it at commit or abort.
func (t *Transaction) RecordLock(res lock.ResourceId) {
	for _, r := range t.heldLocks {
		if r == res {
			return
		}
	}
	t.heldLocks = append(t.heldLocks, res)
}

// RecordDirtyPage remembers that the transaction wrote to id.
func (t *Transaction) RecordDirtyPage(id types.PageId) {
	if t.dirtyPages == nil {
		t.dirtyPages = make(map[types.PageId]bool)
	}
	t.dirtyPages[id] = true
}

// LastLSN returns the LSN of the most recent record this transaction
// wrote to the log, or InvalidLSN before it has written any.
func (t *Transaction) LastLSN() types.LSN { return t.lastLSN }
