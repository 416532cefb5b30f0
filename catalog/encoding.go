package catalog

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"minidb/dberrors"
	"minidb/types"
)

// Save writes the catalog's current state to its file in full,
// replacing any previous contents, per §6's catalog file format.
func (c *Catalog) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf bytes.Buffer
	writeU32(&buf, uint32(len(c.tables)))
	for _, t := range c.tables {
		encodeTable(&buf, t)
	}
	writeU32(&buf, c.nextTableID)

	if err := os.WriteFile(c.path, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "saving catalog to %s", c.path)
	}
	log.Infof("saved catalog to %s (%d tables)", c.path, len(c.tables))
	return nil
}

// Load reads the catalog's state from its file, replacing whatever is
// currently in memory. A missing file is treated as an empty catalog.
func (c *Catalog) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		c.tables = make(map[string]*types.TableDescriptor)
		c.nextTableID = 1
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "loading catalog from %s", c.path)
	}

	r := bytes.NewReader(data)
	tableCount, err := readU32(r)
	if err != nil {
		return errors.Wrap(dberrors.ShortRead, "reading catalog table count")
	}

	tables := make(map[string]*types.TableDescriptor, tableCount)
	for i := uint32(0); i < tableCount; i++ {
		t, err := decodeTable(r)
		if err != nil {
			return errors.Wrapf(err, "decoding table %d", i)
		}
		tables[t.Name] = t
	}
	nextID, err := readU32(r)
	if err != nil {
		return errors.Wrap(dberrors.ShortRead, "reading catalog next table id")
	}

	c.tables = tables
	c.nextTableID = nextID
	log.Infof("loaded catalog from %s (%d tables)", c.path, len(tables))
	return nil
}

func encodeTable(buf *bytes.Buffer, t *types.TableDescriptor) {
	writeString(buf, t.Name)
	writeU32(buf, t.Id)
	writeU32(buf, uint32(t.FirstPage))
	writeU64(buf, t.RowCount)
	writeU32(buf, uint32(len(t.Columns)))
	for _, col := range t.Columns {
		encodeColumn(buf, col)
	}
	writeBool(buf, t.HasPK)
	writeU16(buf, t.PKColumnId)
}

func decodeTable(r io.Reader) (*types.TableDescriptor, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	id, err := readU32(r)
	if err != nil {
		return nil, err
	}
	firstPage, err := readU32(r)
	if err != nil {
		return nil, err
	}
	rowCount, err := readU64(r)
	if err != nil {
		return nil, err
	}
	colCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	columns := make([]types.ColumnDescriptor, 0, colCount)
	for i := uint32(0); i < colCount; i++ {
		col, err := decodeColumn(r)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	hasPK, err := readBool(r)
	if err != nil {
		return nil, err
	}
	pkColumnID, err := readU16(r)
	if err != nil {
		return nil, err
	}
	return &types.TableDescriptor{
		Name:       name,
		Id:         id,
		FirstPage:  types.PageId(firstPage),
		RowCount:   rowCount,
		Columns:    columns,
		HasPK:      hasPK,
		PKColumnId: pkColumnID,
	}, nil
}

func encodeColumn(buf *bytes.Buffer, c types.ColumnDescriptor) {
	writeString(buf, c.Name)
	buf.WriteByte(byte(c.TypeTag))
	writeU16(buf, c.Size)
	writeBool(buf, c.IsPK)
	writeBool(buf, c.IsNullable)
	writeU16(buf, c.Id)
}

func decodeColumn(r io.Reader) (types.ColumnDescriptor, error) {
	name, err := readString(r)
	if err != nil {
		return types.ColumnDescriptor{}, err
	}
	var tagByte [1]byte
	if _, err := io.ReadFull(r, tagByte[:]); err != nil {
		return types.ColumnDescriptor{}, errors.Wrap(dberrors.ShortRead, "reading column type tag")
	}
	size, err := readU16(r)
	if err != nil {
		return types.ColumnDescriptor{}, err
	}
	isPK, err := readBool(r)
	if err != nil {
		return types.ColumnDescriptor{}, err
	}
	isNullable, err := readBool(r)
	if err != nil {
		return types.ColumnDescriptor{}, err
	}
	id, err := readU16(r)
	if err != nil {
		return types.ColumnDescriptor{}, err
	}
	return types.ColumnDescriptor{
		Name:       name,
		TypeTag:    types.ColumnType(tagByte[0]),
		Size:       size,
		IsPK:       isPK,
		IsNullable: isNullable,
		Id:         id,
	}, nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(dberrors.ShortRead, "reading u16")
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(dberrors.ShortRead, "reading u32")
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(dberrors.ShortRead, "reading u64")
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, errors.Wrap(dberrors.ShortRead, "reading bool")
	}
	return b[0] != 0, nil
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errors.Wrap(dberrors.ShortRead, "reading string body")
	}
	return string(b), nil
}
