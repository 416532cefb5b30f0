package txn

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"minidb/dberrors"
	"minidb/lock"
	"minidb/logging"
	"minidb/storage/bufferpool"
	"minidb/types"
	"minidb/wal"
)

var log = logging.New("txn")

// Manager is the transaction manager of §4.7. Its mutex ordering
// relative to the other components is Transaction -> WAL -> Lock ->
// BufferPool (§5): a call site never holds this manager's mutex and
// another component's mutex at the same time except in that order.
type Manager struct {
	mu      sync.RWMutex
	nextID  types.TxnId
	active  map[types.TxnId]*Transaction
	current *Transaction

	wal *wal.WAL
	bp  *bufferpool.BufferPool
	lm  *lock.Manager
}

// New creates a transaction manager wired to the given log, buffer
// pool, and lock manager.
func New(w *wal.WAL, bp *bufferpool.BufferPool, lm *lock.Manager) *Manager {
	return &Manager{
		active: make(map[types.TxnId]*Transaction),
		wal:    w,
		bp:     bp,
		lm:     lm,
	}
}

// Begin starts a new transaction and logs its BEGIN record. For
// RepeatableRead and Serializable it also captures the WAL's current
// LSN as the transaction's snapshot point, per §4.7.
func (m *Manager) Begin(isolation IsolationLevel) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID

	lsn, err := m.wal.LogBegin(id)
	if err != nil {
		return nil, errors.Wrapf(err, "logging BEGIN for txn %d", id)
	}

	t := &Transaction{
		Id:        id,
		State:     Active,
		Isolation: isolation,
		lastLSN:   lsn,
	}
	if isolation == RepeatableRead || isolation == Serializable {
		t.SnapshotLSN = m.wal.LastLSN()
	}
	m.active[id] = t
	m.current = t
	log.Debugf("txn %d began at snapshot LSN %d", id, t.SnapshotLSN)
	return t, nil
}

// Current returns the transaction most recently started by Begin that
// has not yet committed or aborted, for the executor to use when a
// statement runs outside an explicit BEGIN. It returns nil, false if
// no transaction is open.
func (m *Manager) Current() (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.current.State != Active {
		return nil, false
	}
	return m.current, true
}

// RestoreNextID advances the manager's TxnId counter to id if it is
// higher than what this manager has handed out so far. Recovery calls
// this with the highest TxnId found in the scanned log, so a restart
// never hands out a TxnId already used by a record that recovery scans
// (everything after the last checkpoint); TxnIds used only before that
// checkpoint can be handed out again.
func (m *Manager) RestoreNextID(id types.TxnId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id > m.nextID {
		m.nextID = id
	}
}

// GetTransaction returns the active transaction with the given id.
func (m *Manager) GetTransaction(id types.TxnId) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.active[id]
	return t, ok
}

// IsActive reports whether id names a currently active transaction.
func (m *Manager) IsActive(id types.TxnId) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.active[id]
	return ok && t.State == Active
}

// ActiveTransactions returns the ids of every currently active
// transaction.
func (m *Manager) ActiveTransactions() []types.TxnId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]types.TxnId, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// AcquireLock acquires res for t in mode through the lock manager and,
// on success, records it on t so Commit/Abort can release it.
func (m *Manager) AcquireLock(ctx context.Context, t *Transaction, res lock.ResourceId, mode lock.Mode) error {
	if err := m.lm.Acquire(ctx, t.Id, res, mode); err != nil {
		return err
	}
	t.RecordLock(res)
	return nil
}

// LogData writes a data record for t and advances its LSN chain.
func (m *Manager) LogData(t *Transaction, kind wal.RecordType, payload wal.DataPayload) (types.LSN, error) {
	lsn, err := m.wal.LogData(kind, t.Id, t.lastLSN, payload)
	if err != nil {
		return types.InvalidLSN, err
	}
	t.lastLSN = lsn
	t.RecordDirtyPage(payload.Page)
	return lsn, nil
}

// Commit logs t's COMMIT record, flushes every page it dirtied,
// releases its locks, and marks it committed. The commit record is
// force-flushed before this call returns, so a crash afterward can
// only redo, never undo, this transaction's effects.
func (m *Manager) Commit(t *Transaction) error {
	m.mu.Lock()
	if t.State != Active {
		m.mu.Unlock()
		return errors.Wrapf(dberrors.TxnNotActive, "txn %d is %s", t.Id, t.State)
	}
	m.mu.Unlock()

	commitLSN, err := m.wal.LogCommit(t.Id, t.lastLSN)
	if err != nil {
		return errors.Wrapf(err, "logging COMMIT for txn %d", t.Id)
	}

	for id := range t.dirtyPages {
		if err := m.bp.FlushPage(id); err != nil {
			return errors.Wrapf(err, "flushing page %d for txn %d commit", id, t.Id)
		}
	}
	if err := m.lm.ReleaseAll(t.Id, t.heldLocks); err != nil {
		return errors.Wrapf(err, "releasing locks for txn %d", t.Id)
	}

	m.mu.Lock()
	t.State = Committed
	t.CommitLSN = commitLSN
	delete(m.active, t.Id)
	if m.current == t {
		m.current = nil
	}
	m.mu.Unlock()

	log.Debugf("txn %d committed", t.Id)
	return nil
}

// Abort logs t's ABORT record, discards every page it dirtied without
// writing it back, releases its locks, and marks it aborted.
func (m *Manager) Abort(t *Transaction) error {
	m.mu.Lock()
	if t.State != Active {
		m.mu.Unlock()
		return errors.Wrapf(dberrors.TxnNotActive, "txn %d is %s", t.Id, t.State)
	}
	m.mu.Unlock()

	if _, err := m.wal.LogAbort(t.Id, t.lastLSN); err != nil {
		return errors.Wrapf(err, "logging ABORT for txn %d", t.Id)
	}

	for id := range t.dirtyPages {
		if err := m.bp.DiscardPage(id); err != nil {
			return errors.Wrapf(err, "discarding page %d for txn %d abort", id, t.Id)
		}
	}
	if err := m.lm.ReleaseAll(t.Id, t.heldLocks); err != nil {
		return errors.Wrapf(err, "releasing locks for txn %d", t.Id)
	}

	m.mu.Lock()
	t.State = Aborted
	delete(m.active, t.Id)
	if m.current == t {
		m.current = nil
	}
	m.mu.Unlock()

	log.Debugf("txn %d aborted", t.Id)
	return nil
}

// IsVisible reports whether writer's effects are visible to reader,
// per §4.7:
//   - a transaction always sees its own writes;
//   - READ_UNCOMMITTED sees everything;
//   - READ_COMMITTED sees any write whose transaction has committed;
//   - REPEATABLE_READ and SERIALIZABLE additionally require the write
//     to have committed before reader's snapshot LSN.
func IsVisible(writer, reader *Transaction) bool {
	if writer.Id == reader.Id {
		return true
	}
	switch reader.Isolation {
	case ReadUncommitted:
		return true
	case ReadCommitted:
		return writer.State == Committed
	default: // RepeatableRead, Serializable
		return writer.State == Committed && writer.CommitLSN <= reader.SnapshotLSN
	}
}
