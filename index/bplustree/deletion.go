package bplustree

import (
	"github.com/pkg/errors"

	"minidb/dberrors"
	"minidb/storage/bufferpool"
	"minidb/types"
)

// Delete removes key from the tree, rebalancing by borrowing from a
// sibling or merging as nodes underflow below minKeys (§4.4).
func (t *BPlusTree) Delete(key int64) error {
	found, _, err := t.deleteRecursive(t.root, key)
	if err != nil {
		return err
	}
	if !found {
		return dberrors.KeyNotFound
	}
	return nil
}

// deleteRecursive removes key from the subtree rooted at id. It
// reports whether the key was found and whether the subtree's root
// node underflowed below minKeys as a result.
func (t *BPlusTree) deleteRecursive(id types.PageId, key int64) (found, underflow bool, err error) {
	n, guard, err := t.fetchNode(id)
	if err != nil {
		return false, false, err
	}
	guard.Release(false)

	if n.kind == kindLeaf {
		idx := exactMatch(n.keys, key)
		if idx == -1 {
			return false, false, nil
		}
		n.keys = removeAt(n.keys, idx)
		n.values = removeAt(n.values, idx)
		if err := t.writeNode(n); err != nil {
			return false, false, err
		}
		return true, id != t.root && len(n.keys) < t.minKeys, nil
	}

	i := upperBound(n.keys, key)
	if i >= len(n.children) {
		i = len(n.children) - 1
	}
	childFound, childUnderflow, err := t.deleteRecursive(n.children[i], key)
	if err != nil || !childFound || !childUnderflow {
		return childFound, false, err
	}

	if err := t.rebalance(n, i); err != nil {
		return true, false, err
	}
	return true, id != t.root && len(n.keys) < t.minKeys, nil
}

// rebalance fixes an underflowed child at index i of n by borrowing
// from a sibling, or merging with one and propagating the resulting
// key removal up through n.
func (t *BPlusTree) rebalance(n *node, i int) error {
	child, childGuard, err := t.fetchNode(n.children[i])
	if err != nil {
		return err
	}
	childGuard.Release(false)

	var left, right *node
	if i > 0 {
		var leftGuard *bufferpool.Guard
		left, leftGuard, err = t.fetchNode(n.children[i-1])
		if err != nil {
			return err
		}
		leftGuard.Release(false)
	}
	if i < len(n.children)-1 {
		var rightGuard *bufferpool.Guard
		right, rightGuard, err = t.fetchNode(n.children[i+1])
		if err != nil {
			return err
		}
		rightGuard.Release(false)
	}

	if left != nil && len(left.keys) > t.minKeys {
		return t.borrowFromLeft(n, i, left, child)
	}
	if right != nil && len(right.keys) > t.minKeys {
		return t.borrowFromRight(n, i, child, right)
	}
	if left != nil {
		return t.mergeInto(n, i-1, left, child)
	}
	if right != nil {
		return t.mergeInto(n, i, child, right)
	}
	return errors.Errorf("rebalance: node %d's child %d has no sibling", n.pageID, child.pageID)
}

func (t *BPlusTree) borrowFromLeft(n *node, i int, left, child *node) error {
	if child.kind == kindLeaf {
		lastKey := left.keys[len(left.keys)-1]
		lastVal := left.values[len(left.values)-1]
		left.keys = left.keys[:len(left.keys)-1]
		left.values = left.values[:len(left.values)-1]

		child.keys = insertAt(child.keys, 0, lastKey)
		child.values = insertAt(child.values, 0, lastVal)
		n.keys[i-1] = child.keys[0]
	} else {
		sep := n.keys[i-1]
		lastKey := left.keys[len(left.keys)-1]
		lastChild := left.children[len(left.children)-1]
		left.keys = left.keys[:len(left.keys)-1]
		left.children = left.children[:len(left.children)-1]

		child.keys = insertAt(child.keys, 0, sep)
		child.children = insertAt(child.children, 0, lastChild)
		if err := t.reparentChildren([]types.PageId{lastChild}, child.pageID); err != nil {
			return err
		}
		n.keys[i-1] = lastKey
	}
	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(child); err != nil {
		return err
	}
	return t.writeNode(n)
}

func (t *BPlusTree) borrowFromRight(n *node, i int, child, right *node) error {
	if child.kind == kindLeaf {
		firstKey := right.keys[0]
		firstVal := right.values[0]
		right.keys = right.keys[1:]
		right.values = right.values[1:]

		child.keys = append(child.keys, firstKey)
		child.values = append(child.values, firstVal)
		n.keys[i] = right.keys[0]
	} else {
		sep := n.keys[i]
		firstKey := right.keys[0]
		firstChild := right.children[0]
		right.keys = right.keys[1:]
		right.children = right.children[1:]

		child.keys = append(child.keys, sep)
		child.children = append(child.children, firstChild)
		if err := t.reparentChildren([]types.PageId{firstChild}, child.pageID); err != nil {
			return err
		}
		n.keys[i] = firstKey
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	if err := t.writeNode(child); err != nil {
		return err
	}
	return t.writeNode(n)
}

// mergeInto folds right into left, which sit at children[sepIdx] and
// children[sepIdx+1] of n, and removes the separator from n. If n is
// the root and ends up empty, its sole remaining child becomes the
// new root.
func (t *BPlusTree) mergeInto(n *node, sepIdx int, left, right *node) error {
	if left.kind == kindLeaf {
		left.keys = append(left.keys, right.keys...)
		left.values = append(left.values, right.values...)
		left.next = right.next
	} else {
		sep := n.keys[sepIdx]
		left.keys = append(left.keys, sep)
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
		if err := t.reparentChildren(right.children, left.pageID); err != nil {
			return err
		}
	}

	n.keys = removeAt(n.keys, sepIdx)
	n.children = removeAt(n.children, sepIdx+1)

	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.bp.DeletePage(right.pageID); err != nil {
		return errors.Wrapf(err, "freeing merged node %d", right.pageID)
	}
	if err := t.writeNode(n); err != nil {
		return err
	}

	if n.pageID == t.root && len(n.keys) == 0 {
		newRoot := n.children[0]
		child, guard, err := t.fetchNode(newRoot)
		if err != nil {
			return err
		}
		child.parent = types.InvalidPageId
		err = t.writeNode(child)
		guard.Release(false)
		if err != nil {
			return err
		}
		if err := t.bp.DeletePage(n.pageID); err != nil {
			return errors.Wrapf(err, "freeing collapsed root %d", n.pageID)
		}
		t.root = newRoot
	}
	return nil
}
