package bplustree

import (
	"github.com/pkg/errors"

	"minidb/dberrors"
	"minidb/types"
)

// Insert adds key -> rid to the tree. If key is already present, its
// value is overwritten in place rather than growing the tree, so
// search(key) always returns the last value inserted under it.
func (t *BPlusTree) Insert(key int64, rid types.RecordId) error {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return err
	}

	if idx := exactMatch(leaf.keys, key); idx != -1 {
		leaf.values[idx] = rid
		return t.writeNode(leaf)
	}

	pos := lowerBound(leaf.keys, key)
	leaf.keys = insertAt(leaf.keys, pos, key)
	leaf.values = insertAt(leaf.values, pos, rid)
	if err := t.writeNode(leaf); err != nil {
		return err
	}

	if len(leaf.keys) > t.maxKeys {
		return t.splitLeaf(leaf)
	}
	return nil
}

// InsertUnique adds key -> rid like Insert, but returns DuplicateKey
// and leaves the tree untouched if key is already present. Callers
// maintaining a unique index (a primary key, say) use this instead of
// Insert, which is the non-unique, overwrite-on-duplicate path.
func (t *BPlusTree) InsertUnique(key int64, rid types.RecordId) error {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	if exactMatch(leaf.keys, key) != -1 {
		return dberrors.DuplicateKey
	}

	pos := lowerBound(leaf.keys, key)
	leaf.keys = insertAt(leaf.keys, pos, key)
	leaf.values = insertAt(leaf.values, pos, rid)
	if err := t.writeNode(leaf); err != nil {
		return err
	}

	if len(leaf.keys) > t.maxKeys {
		return t.splitLeaf(leaf)
	}
	return nil
}

func (t *BPlusTree) splitLeaf(leaf *node) error {
	mid := len(leaf.keys) / 2

	right, guard, err := t.allocNode(kindLeaf)
	if err != nil {
		return errors.Wrap(err, "splitLeaf: allocating right sibling")
	}
	defer guard.Release(true)

	right.keys = append(right.keys, leaf.keys[mid:]...)
	right.values = append(right.values, leaf.values[mid:]...)
	right.next = leaf.next
	right.parent = leaf.parent

	leaf.keys = leaf.keys[:mid]
	leaf.values = leaf.values[:mid]
	leaf.next = right.pageID

	if err := t.writeNode(leaf); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}

	sepKey := right.keys[0]
	if leaf.pageID == t.root {
		return t.createNewRoot(leaf.pageID, sepKey, right.pageID)
	}
	return t.insertIntoParent(leaf.parent, leaf.pageID, sepKey, right.pageID)
}

func (t *BPlusTree) splitInternal(n *node) error {
	mid := len(n.keys) / 2
	promoteKey := n.keys[mid]

	right, guard, err := t.allocNode(kindInternal)
	if err != nil {
		return errors.Wrap(err, "splitInternal: allocating right sibling")
	}
	defer guard.Release(true)

	right.keys = append(right.keys, n.keys[mid+1:]...)
	right.children = append(right.children, n.children[mid+1:]...)
	right.parent = n.parent

	if err := t.reparentChildren(right.children, right.pageID); err != nil {
		return err
	}

	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]

	if err := t.writeNode(n); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}

	if n.pageID == t.root {
		return t.createNewRoot(n.pageID, promoteKey, right.pageID)
	}
	return t.insertIntoParent(n.parent, n.pageID, promoteKey, right.pageID)
}

// insertIntoParent inserts sepKey and rightID into leftID's parent,
// splitting the parent (and propagating upward) if it overflows.
func (t *BPlusTree) insertIntoParent(parentID, leftID types.PageId, sepKey int64, rightID types.PageId) error {
	parent, guard, err := t.fetchNode(parentID)
	if err != nil {
		return errors.Wrap(err, "insertIntoParent: fetching parent")
	}
	defer guard.Release(true)

	idx := 0
	for idx < len(parent.children) && parent.children[idx] != leftID {
		idx++
	}

	parent.keys = insertAt(parent.keys, idx, sepKey)
	parent.children = insertAt(parent.children, idx+1, rightID)

	if err := t.reparentChildren([]types.PageId{rightID}, parentID); err != nil {
		return err
	}
	if err := t.writeNode(parent); err != nil {
		return err
	}

	if len(parent.keys) > t.maxKeys {
		return t.splitInternal(parent)
	}
	return nil
}

// createNewRoot builds a new internal root above leftID/rightID.
func (t *BPlusTree) createNewRoot(leftID types.PageId, sepKey int64, rightID types.PageId) error {
	root, guard, err := t.allocNode(kindInternal)
	if err != nil {
		return errors.Wrap(err, "createNewRoot: allocating root")
	}
	defer guard.Release(true)

	root.keys = []int64{sepKey}
	root.children = []types.PageId{leftID, rightID}
	root.parent = types.InvalidPageId

	if err := t.reparentChildren(root.children, root.pageID); err != nil {
		return err
	}
	if err := t.writeNode(root); err != nil {
		return err
	}

	t.root = root.pageID
	return nil
}

// reparentChildren updates the parent pointer stored in each child
// node listed in ids.
func (t *BPlusTree) reparentChildren(ids []types.PageId, parent types.PageId) error {
	for _, id := range ids {
		child, guard, err := t.fetchNode(id)
		if err != nil {
			return errors.Wrapf(err, "reparenting child %d", id)
		}
		child.parent = parent
		err = t.writeNode(child)
		guard.Release(true)
		if err != nil {
			return err
		}
	}
	return nil
}
