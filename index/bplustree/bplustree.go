// Package bplustree implements the ordered secondary-structure of §4.4:
// an int64-keyed B+Tree whose leaves hold RecordIds, built over the
// buffer pool so every node lives in an ordinary page.
//
// A BPlusTree is not safe for concurrent use. The catalog or a table
// lock must serialize access to a given tree, per §5.
package bplustree

import (
	"github.com/pkg/errors"

	"minidb/storage/bufferpool"
	"minidb/types"
)

// DefaultOrder and MinOrder mirror §4.4: a tree splits a node on
// reaching Order keys, and Order must be at least 3 for borrow/merge
// rebalancing to have room to work.
const (
	DefaultOrder = 4
	MinOrder     = 3
)

type nodeKind uint8

const (
	kindLeaf nodeKind = iota
	kindInternal
)

// node is the in-memory decoding of one index page's slot-0 record.
type node struct {
	pageID   types.PageId
	kind     nodeKind
	keys     []int64
	children []types.PageId   // internal only, len(children) == len(keys)+1
	values   []types.RecordId // leaf only, len(values) == len(keys)
	next     types.PageId     // leaf only: right sibling chain
	parent   types.PageId
}

// BPlusTree is the tree's root handle. Node content is fetched on
// demand through bp and never cached beyond a single call.
type BPlusTree struct {
	bp       *bufferpool.BufferPool
	root     types.PageId
	order    int
	maxKeys  int
	minKeys  int
}

// New allocates a fresh, empty tree with a single leaf root.
func New(bp *bufferpool.BufferPool, order int) (*BPlusTree, error) {
	if order < MinOrder {
		order = MinOrder
	}
	t := &BPlusTree{bp: bp, order: order, maxKeys: order - 1, minKeys: order / 2}

	root, guard, err := t.allocNode(kindLeaf)
	if err != nil {
		return nil, errors.Wrap(err, "allocating root leaf")
	}
	root.next = types.InvalidPageId
	root.parent = types.InvalidPageId
	if err := t.writeNode(root); err != nil {
		guard.Release(false)
		return nil, err
	}
	guard.Release(true)

	t.root = root.pageID
	return t, nil
}

// Open attaches to an existing tree whose root page is rootPage.
func Open(bp *bufferpool.BufferPool, order int, rootPage types.PageId) *BPlusTree {
	if order < MinOrder {
		order = MinOrder
	}
	return &BPlusTree{bp: bp, order: order, maxKeys: order - 1, minKeys: order / 2, root: rootPage}
}

// RootPage returns the tree's current root page id, which Open accepts
// to reattach to the same tree.
func (t *BPlusTree) RootPage() types.PageId { return t.root }

// Clear discards every page of the tree and reinitializes it as a
// single empty leaf root.
func (t *BPlusTree) Clear() error {
	pages, err := t.collectPages(t.root)
	if err != nil {
		return err
	}
	for _, id := range pages {
		if err := t.bp.DeletePage(id); err != nil {
			return errors.Wrapf(err, "deleting index page %d", id)
		}
	}

	root, guard, err := t.allocNode(kindLeaf)
	if err != nil {
		return err
	}
	root.next = types.InvalidPageId
	root.parent = types.InvalidPageId
	if err := t.writeNode(root); err != nil {
		guard.Release(false)
		return err
	}
	guard.Release(true)
	t.root = root.pageID
	return nil
}

func (t *BPlusTree) collectPages(id types.PageId) ([]types.PageId, error) {
	n, guard, err := t.fetchNode(id)
	if err != nil {
		return nil, err
	}
	defer guard.Release(false)

	out := []types.PageId{id}
	if n.kind == kindInternal {
		for _, c := range n.children {
			sub, err := t.collectPages(c)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}
