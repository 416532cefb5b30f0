package bplustree

import (
	"github.com/pkg/errors"

	"minidb/dberrors"
	"minidb/types"
)

// findLeaf descends from root to the leaf that would hold key.
func (t *BPlusTree) findLeaf(key int64) (*node, error) {
	id := t.root
	for {
		n, guard, err := t.fetchNode(id)
		if err != nil {
			return nil, err
		}
		if n.kind == kindLeaf {
			guard.Release(false)
			return n, nil
		}
		i := upperBound(n.keys, key)
		if i >= len(n.children) {
			i = len(n.children) - 1
		}
		id = n.children[i]
		guard.Release(false)
	}
}

// Search returns the RecordId stored for key.
func (t *BPlusTree) Search(key int64) (types.RecordId, error) {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return types.RecordId{}, err
	}
	idx := exactMatch(leaf.keys, key)
	if idx == -1 {
		return types.RecordId{}, dberrors.KeyNotFound
	}
	return leaf.values[idx], nil
}

// RangeSearch returns every RecordId whose key lies in [lo, hi].
func (t *BPlusTree) RangeSearch(lo, hi int64) ([]types.RecordId, error) {
	if hi < lo {
		return nil, errors.Errorf("RangeSearch: hi %d < lo %d", hi, lo)
	}
	var out []types.RecordId

	leaf, err := t.findLeaf(lo)
	if err != nil {
		return nil, err
	}
	i := lowerBound(leaf.keys, lo)
	for {
		for ; i < len(leaf.keys); i++ {
			if leaf.keys[i] > hi {
				return out, nil
			}
			out = append(out, leaf.values[i])
		}
		if leaf.next == types.InvalidPageId {
			return out, nil
		}
		next, guard, err := t.fetchNode(leaf.next)
		if err != nil {
			return nil, err
		}
		guard.Release(false)
		leaf = next
		i = 0
	}
}

// ScanAll returns every RecordId in key order.
func (t *BPlusTree) ScanAll() ([]types.RecordId, error) {
	leaf, err := t.leftmostLeaf()
	if err != nil {
		return nil, err
	}

	var out []types.RecordId
	for {
		out = append(out, leaf.values...)
		if leaf.next == types.InvalidPageId {
			return out, nil
		}
		next, guard, err := t.fetchNode(leaf.next)
		if err != nil {
			return nil, err
		}
		guard.Release(false)
		leaf = next
	}
}

func (t *BPlusTree) leftmostLeaf() (*node, error) {
	id := t.root
	for {
		n, guard, err := t.fetchNode(id)
		if err != nil {
			return nil, err
		}
		if n.kind == kindLeaf {
			guard.Release(false)
			return n, nil
		}
		id = n.children[0]
		guard.Release(false)
	}
}
