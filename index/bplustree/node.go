package bplustree

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"minidb/storage/bufferpool"
	"minidb/types"
)

const nodeRecordSlot = types.SlotId(0)

// allocNode allocates a fresh page and returns an empty node of the
// requested kind, pinned via guard.
func (t *BPlusTree) allocNode(kind nodeKind) (*node, *bufferpool.Guard, error) {
	guard, err := t.bp.NewGuarded()
	if err != nil {
		return nil, nil, errors.Wrap(err, "allocating index node page")
	}
	n := &node{pageID: guard.Page().Id(), kind: kind, parent: types.InvalidPageId, next: types.InvalidPageId}
	if _, err := guard.Page().InsertRecord(encodeNode(n)); err != nil {
		guard.Release(false)
		return nil, nil, errors.Wrap(err, "installing initial node record")
	}
	return n, guard, nil
}

// fetchNode loads the node stored at id, pinned via guard.
func (t *BPlusTree) fetchNode(id types.PageId) (*node, *bufferpool.Guard, error) {
	guard, err := t.bp.FetchGuarded(id)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "fetching index node %d", id)
	}
	raw, err := guard.Page().GetRecord(nodeRecordSlot)
	if err != nil {
		guard.Release(false)
		return nil, nil, errors.Wrapf(err, "reading index node %d", id)
	}
	n, err := decodeNode(raw, id)
	if err != nil {
		guard.Release(false)
		return nil, nil, errors.Wrapf(err, "decoding index node %d", id)
	}
	return n, guard, nil
}

// writeNode persists n's current content back into its page. The
// caller retains whatever guard it already holds on n's page.
func (t *BPlusTree) writeNode(n *node) error {
	guard, err := t.bp.FetchGuarded(n.pageID)
	if err != nil {
		return errors.Wrapf(err, "fetching index node %d for write", n.pageID)
	}
	defer guard.Release(true)
	return guard.Page().UpdateRecord(nodeRecordSlot, encodeNode(n))
}

func encodeNode(n *node) []byte {
	var buf bytes.Buffer
	if n.kind == kindLeaf {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	binary.Write(&buf, binary.LittleEndian, uint16(len(n.keys)))
	for _, k := range n.keys {
		binary.Write(&buf, binary.LittleEndian, k)
	}
	if n.kind == kindLeaf {
		for _, v := range n.values {
			binary.Write(&buf, binary.LittleEndian, uint32(v.PageId))
			binary.Write(&buf, binary.LittleEndian, uint16(v.Slot))
		}
		binary.Write(&buf, binary.LittleEndian, uint32(n.next))
	} else {
		binary.Write(&buf, binary.LittleEndian, uint16(len(n.children)))
		for _, c := range n.children {
			binary.Write(&buf, binary.LittleEndian, uint32(c))
		}
	}
	binary.Write(&buf, binary.LittleEndian, uint32(n.parent))
	return buf.Bytes()
}

func decodeNode(data []byte, id types.PageId) (*node, error) {
	r := bytes.NewReader(data)
	var kindByte byte
	if err := binary.Read(r, binary.LittleEndian, &kindByte); err != nil {
		return nil, errors.Wrap(err, "reading node kind")
	}
	n := &node{pageID: id}
	if kindByte == 1 {
		n.kind = kindLeaf
	} else {
		n.kind = kindInternal
	}

	var numKeys uint16
	if err := binary.Read(r, binary.LittleEndian, &numKeys); err != nil {
		return nil, errors.Wrap(err, "reading key count")
	}
	n.keys = make([]int64, numKeys)
	for i := range n.keys {
		if err := binary.Read(r, binary.LittleEndian, &n.keys[i]); err != nil {
			return nil, errors.Wrap(err, "reading key")
		}
	}

	if n.kind == kindLeaf {
		n.values = make([]types.RecordId, numKeys)
		for i := range n.values {
			var pid uint32
			var slot uint16
			if err := binary.Read(r, binary.LittleEndian, &pid); err != nil {
				return nil, errors.Wrap(err, "reading value page id")
			}
			if err := binary.Read(r, binary.LittleEndian, &slot); err != nil {
				return nil, errors.Wrap(err, "reading value slot")
			}
			n.values[i] = types.RecordId{PageId: types.PageId(pid), Slot: types.SlotId(slot)}
		}
		var next uint32
		if err := binary.Read(r, binary.LittleEndian, &next); err != nil {
			return nil, errors.Wrap(err, "reading next pointer")
		}
		n.next = types.PageId(next)
	} else {
		var childCount uint16
		if err := binary.Read(r, binary.LittleEndian, &childCount); err != nil {
			return nil, errors.Wrap(err, "reading child count")
		}
		n.children = make([]types.PageId, childCount)
		for i := range n.children {
			var c uint32
			if err := binary.Read(r, binary.LittleEndian, &c); err != nil {
				return nil, errors.Wrap(err, "reading child pointer")
			}
			n.children[i] = types.PageId(c)
		}
	}

	var parent uint32
	if err := binary.Read(r, binary.LittleEndian, &parent); err != nil {
		return nil, errors.Wrap(err, "reading parent pointer")
	}
	n.parent = types.PageId(parent)
	return n, nil
}
