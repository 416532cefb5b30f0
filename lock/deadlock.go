package lock

import (
	"time"

	"github.com/pkg/errors"

	"minidb/dberrors"
	"minidb/types"
)

// detectLoop polls the wait-for graph for cycles until Close is called.
func (m *Manager) detectLoop() {
	defer m.stopped.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.detectAndResolve()
		}
	}
}

// detectAndResolve finds a cycle in the wait-for graph, if one exists,
// and aborts one transaction in it to break the deadlock.
func (m *Manager) detectAndResolve() {
	cycle := m.findCycle()
	if len(cycle) == 0 {
		return
	}
	victim := cycle[0]
	for _, txn := range cycle[1:] {
		if txn > victim {
			victim = txn
		}
	}
	log.Warnf("deadlock detected among txns %v, aborting %d", cycle, victim)
	m.abortWaiter(victim)
}

// findCycle runs DFS over the wait-for graph and returns the first
// cycle found, as the ordered list of transactions in it.
func (m *Manager) findCycle() []types.TxnId {
	m.graphMu.Lock()
	graph := make(map[types.TxnId][]types.TxnId, len(m.waitFor))
	for txn, edges := range m.waitFor {
		for to := range edges {
			graph[txn] = append(graph[txn], to)
		}
	}
	m.graphMu.Unlock()

	visited := make(map[types.TxnId]bool)
	onStack := make(map[types.TxnId]bool)

	var stack []types.TxnId
	var cycle []types.TxnId

	var dfs func(types.TxnId) bool
	dfs = func(txn types.TxnId) bool {
		visited[txn] = true
		onStack[txn] = true
		stack = append(stack, txn)

		for _, next := range graph[txn] {
			if onStack[next] {
				for i, t := range stack {
					if t == next {
						cycle = append(cycle, stack[i:]...)
						return true
					}
				}
			}
			if !visited[next] {
				if dfs(next) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		onStack[txn] = false
		return false
	}

	for txn := range graph {
		if !visited[txn] {
			if dfs(txn) {
				return cycle
			}
		}
	}
	return nil
}

// abortWaiter removes every pending wait belonging to victim and sends
// it a DeadlockDetected error, unblocking its Acquire call.
func (m *Manager) abortWaiter(victim types.TxnId) {
	m.graphMu.Lock()
	pending := m.waiters[victim]
	delete(m.waiters, victim)
	delete(m.waitFor, victim)
	m.graphMu.Unlock()

	for _, p := range pending {
		p.sh.mu.Lock()
		e, ok := p.sh.entries[p.resKey]
		p.sh.mu.Unlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		for i, q := range e.queue {
			if q == p.w {
				e.queue = append(e.queue[:i], e.queue[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
		p.w.ch <- errors.Wrapf(dberrors.DeadlockDetected, "txn %d", victim)
	}
}
