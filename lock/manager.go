package lock

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"minidb/dberrors"
	"minidb/logging"
	"minidb/types"
)

const numShards = 16

var log = logging.New("lock")

type waiter struct {
	txn     types.TxnId
	mode    Mode
	ch      chan error
	granted bool
}

type entry struct {
	mu      sync.Mutex
	holders map[types.TxnId]Mode
	queue   []*waiter
}

// shard is one bucket of the lock table, chosen by hashing the
// resource key, so unrelated resources don't contend on one mutex.
type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Manager is the lock manager: a sharded resource table plus the
// wait-for graph used for deadlock detection.
type Manager struct {
	shards  [numShards]*shard
	timeout time.Duration

	graphMu sync.Mutex
	waitFor map[types.TxnId]map[types.TxnId]bool // waiter -> set of holders it waits on
	waiters map[types.TxnId][]*pendingWait        // txn -> its current queue entries, for victim abort

	pollInterval time.Duration
	stopCh       chan struct{}
	stopped      sync.WaitGroup
}

type pendingWait struct {
	resKey string
	sh     *shard
	w      *waiter
}

// New creates a lock manager and starts its background deadlock
// detector, which polls every pollInterval.
func New(timeout, pollInterval time.Duration) *Manager {
	m := &Manager{
		timeout:      timeout,
		waitFor:      make(map[types.TxnId]map[types.TxnId]bool),
		waiters:      make(map[types.TxnId][]*pendingWait),
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	m.stopped.Add(1)
	go m.detectLoop()
	return m
}

// Close stops the background deadlock detector.
func (m *Manager) Close() {
	close(m.stopCh)
	m.stopped.Wait()
}

func (m *Manager) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return m.shards[h%numShards]
}

// Acquire blocks until res is granted to txn in mode, the lock
// manager's timeout expires (LockTimeout), or txn is chosen as a
// deadlock victim (DeadlockDetected).
func (m *Manager) Acquire(ctx context.Context, txn types.TxnId, res ResourceId, mode Mode) error {
	key := res.key()
	sh := m.shardFor(key)

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok {
		e = &entry{holders: make(map[types.TxnId]Mode)}
		sh.entries[key] = e
	}
	sh.mu.Unlock()

	e.mu.Lock()
	if m.canGrantNow(e, txn, mode) {
		e.holders[txn] = mode
		e.mu.Unlock()
		return nil
	}

	w := &waiter{txn: txn, mode: mode, ch: make(chan error, 1)}
	e.queue = append(e.queue, w)
	m.recordWait(txn, key, sh, e, w)
	e.mu.Unlock()

	timeout := m.timeout
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case err := <-w.ch:
		return err
	case <-wctx.Done():
		m.abandonWait(e, key, w)
		return errors.Wrapf(dberrors.LockTimeout, "txn %d waiting on %s", txn, key)
	}
}

// canGrantNow reports whether mode can be granted to txn immediately:
// it must be compatible with every other current holder, and a fresh
// SHARED request must not jump ahead of an ungranted EXCLUSIVE waiter
// already at the head of the queue (§4.6).
func (m *Manager) canGrantNow(e *entry, txn types.TxnId, mode Mode) bool {
	for holder, held := range e.holders {
		if holder == txn {
			continue
		}
		if !compatible(held, mode) {
			return false
		}
	}
	if mode == Shared && len(e.queue) > 0 && e.queue[0].mode == Exclusive && !e.queue[0].granted {
		return false
	}
	return true
}

// recordWait adds a wait-for edge from txn to every current holder of
// e, and remembers the waiter so the deadlock detector or a timeout
// can find and remove it. Caller holds e.mu.
func (m *Manager) recordWait(txn types.TxnId, key string, sh *shard, e *entry, w *waiter) {
	m.graphMu.Lock()
	defer m.graphMu.Unlock()

	edges, ok := m.waitFor[txn]
	if !ok {
		edges = make(map[types.TxnId]bool)
		m.waitFor[txn] = edges
	}
	for holder := range e.holders {
		if holder != txn {
			edges[holder] = true
		}
	}
	m.waiters[txn] = append(m.waiters[txn], &pendingWait{resKey: key, sh: sh, w: w})
}

// clearWait drops every wait-for edge and pending-wait record for txn.
func (m *Manager) clearWait(txn types.TxnId) {
	m.graphMu.Lock()
	defer m.graphMu.Unlock()
	delete(m.waitFor, txn)
	delete(m.waiters, txn)
}

// abandonWait removes w from e's queue after a timeout.
func (m *Manager) abandonWait(e *entry, key string, w *waiter) {
	e.mu.Lock()
	for i, q := range e.queue {
		if q == w {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	m.clearWait(w.txn)
}

// Release releases txn's lock on res, waking any waiters newly made
// grantable.
func (m *Manager) Release(txn types.TxnId, res ResourceId) error {
	key := res.key()
	sh := m.shardFor(key)

	sh.mu.Lock()
	e, ok := sh.entries[key]
	sh.mu.Unlock()
	if !ok {
		return errors.Errorf("release: resource %s has no lock table entry", key)
	}

	e.mu.Lock()
	if _, held := e.holders[txn]; !held {
		e.mu.Unlock()
		return errors.Errorf("release: txn %d does not hold %s", txn, key)
	}
	delete(e.holders, txn)
	m.grantQueued(e)
	empty := len(e.holders) == 0 && len(e.queue) == 0
	e.mu.Unlock()

	m.clearWait(txn)

	if empty {
		sh.mu.Lock()
		if cur, ok := sh.entries[key]; ok && cur == e {
			cur.mu.Lock()
			stillEmpty := len(cur.holders) == 0 && len(cur.queue) == 0
			cur.mu.Unlock()
			if stillEmpty {
				delete(sh.entries, key)
			}
		}
		sh.mu.Unlock()
	}
	return nil
}

// grantQueued grants every waiter at the front of e's queue that is
// now compatible with the current holders, stopping at the first one
// that is not. Caller holds e.mu.
func (m *Manager) grantQueued(e *entry) {
	for len(e.queue) > 0 {
		w := e.queue[0]
		compatibleNow := true
		for holder, held := range e.holders {
			if holder == w.txn {
				continue
			}
			if !compatible(held, w.mode) {
				compatibleNow = false
				break
			}
		}
		if !compatibleNow {
			return
		}
		e.holders[w.txn] = w.mode
		w.granted = true
		e.queue = e.queue[1:]
		m.clearWait(w.txn)
		w.ch <- nil
	}
}

// ReleaseAll releases every resource held by txn.
func (m *Manager) ReleaseAll(txn types.TxnId, held []ResourceId) error {
	for _, res := range held {
		if err := m.Release(txn, res); err != nil {
			return err
		}
	}
	return nil
}

// Upgrade raises txn's held SHARED lock on res to EXCLUSIVE. It
// succeeds immediately if txn is res's only holder; otherwise another
// transaction holds SHARED too and the upgrade cannot proceed without
// risking deadlock against it, so it fails with LockUpgradeBlocked
// rather than blocking.
func (m *Manager) Upgrade(txn types.TxnId, res ResourceId) error {
	key := res.key()
	sh := m.shardFor(key)

	sh.mu.Lock()
	e, ok := sh.entries[key]
	sh.mu.Unlock()
	if !ok {
		return errors.Errorf("upgrade: txn %d does not hold %s", txn, key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	mode, held := e.holders[txn]
	if !held {
		return errors.Errorf("upgrade: txn %d does not hold %s", txn, key)
	}
	if mode == Exclusive {
		return nil
	}
	if len(e.holders) != 1 {
		return errors.Wrapf(dberrors.LockUpgradeBlocked, "txn %d upgrading %s", txn, key)
	}
	e.holders[txn] = Exclusive
	return nil
}

// DetectDeadlock reports whether the wait-for graph currently contains
// a cycle, without resolving it. The background detector still runs
// independently and may abort a victim between this call and the next.
func (m *Manager) DetectDeadlock() bool {
	return len(m.findCycle()) > 0
}

// Holds reports whether txn currently holds res, and in which mode.
func (m *Manager) Holds(txn types.TxnId, res ResourceId) (Mode, bool) {
	sh := m.shardFor(res.key())
	sh.mu.Lock()
	e, ok := sh.entries[res.key()]
	sh.mu.Unlock()
	if !ok {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	mode, held := e.holders[txn]
	return mode, held
}
