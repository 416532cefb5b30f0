package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"minidb/dberrors"
	"minidb/types"
)

func TestInsertAndGetRecordRoundTrips(t *testing.T) {
	p := New(types.PageId(1))

	s1, err := p.InsertRecord([]byte("hello"))
	require.NoError(t, err)
	s2, err := p.InsertRecord([]byte("world!"))
	require.NoError(t, err)

	got1, err := p.GetRecord(s1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got1))

	got2, err := p.GetRecord(s2)
	require.NoError(t, err)
	require.Equal(t, "world!", string(got2))
}

func TestDeleteRecordTombstonesSlot(t *testing.T) {
	p := New(types.PageId(1))
	s, err := p.InsertRecord([]byte("gone"))
	require.NoError(t, err)

	require.NoError(t, p.DeleteRecord(s))
	_, err = p.GetRecord(s)
	require.ErrorIs(t, err, dberrors.SlotAbsent)

	require.ErrorIs(t, p.DeleteRecord(s), dberrors.SlotAbsent)
}

func TestInsertReusesTombstonedSlot(t *testing.T) {
	p := New(types.PageId(1))
	s1, err := p.InsertRecord([]byte("a"))
	require.NoError(t, err)
	_, err = p.InsertRecord([]byte("b"))
	require.NoError(t, err)

	require.NoError(t, p.DeleteRecord(s1))
	before := p.SlotCount()

	s3, err := p.InsertRecord([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, s1, s3, "reinsert should reuse the tombstoned slot")
	require.Equal(t, before, p.SlotCount(), "slot count should not grow when reusing")
}

func TestUpdateRecordInPlaceWhenItFits(t *testing.T) {
	p := New(types.PageId(1))
	s, err := p.InsertRecord([]byte("abcdef"))
	require.NoError(t, err)

	require.NoError(t, p.UpdateRecord(s, []byte("xyz")))
	got, err := p.GetRecord(s)
	require.NoError(t, err)
	require.Equal(t, "xyz", string(got))
}

func TestUpdateRecordGrowsBeyondOriginalSlot(t *testing.T) {
	p := New(types.PageId(1))
	s, err := p.InsertRecord([]byte("ab"))
	require.NoError(t, err)

	require.NoError(t, p.UpdateRecord(s, []byte("a much longer replacement value")))
	got, err := p.GetRecord(s)
	require.NoError(t, err)
	require.Equal(t, "a much longer replacement value", string(got))
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	p := New(types.PageId(7))
	_, err := p.InsertRecord([]byte("one"))
	require.NoError(t, err)
	s2, err := p.InsertRecord([]byte("two"))
	require.NoError(t, err)
	require.NoError(t, p.DeleteRecord(s2))
	p.SetNextPage(types.PageId(42))

	buf := make([]byte, Size)
	require.NoError(t, p.Serialize(buf))

	back, err := Deserialize(buf)
	require.NoError(t, err)
	require.Equal(t, p.Id(), back.Id())
	require.Equal(t, p.NextPage(), back.NextPage())
	require.Equal(t, p.SlotCount(), back.SlotCount())

	got, err := back.GetRecord(types.SlotId(0))
	require.NoError(t, err)
	require.Equal(t, "one", string(got))

	_, err = back.GetRecord(s2)
	require.ErrorIs(t, err, dberrors.SlotAbsent)
}

func TestDeserializeDetectsChecksumMismatch(t *testing.T) {
	p := New(types.PageId(1))
	_, err := p.InsertRecord([]byte("tamper me"))
	require.NoError(t, err)

	buf := make([]byte, Size)
	require.NoError(t, p.Serialize(buf))
	buf[100] ^= 0xFF

	_, err = Deserialize(buf)
	require.ErrorIs(t, err, dberrors.ChecksumMismatch)
}

func TestPutAtWritesExactSlotGrowingDirectory(t *testing.T) {
	p := New(types.PageId(1))
	require.NoError(t, p.PutAt(types.SlotId(3), []byte("late")))
	require.Equal(t, 4, p.SlotCount())

	got, err := p.GetRecord(types.SlotId(3))
	require.NoError(t, err)
	require.Equal(t, "late", string(got))

	for _, s := range []types.SlotId{0, 1, 2} {
		_, err := p.GetRecord(s)
		require.ErrorIs(t, err, dberrors.SlotAbsent)
	}
}

func TestFreeSpaceShrinksAsRecordsAreAdded(t *testing.T) {
	p := New(types.PageId(1))
	before := p.FreeSpace()
	_, err := p.InsertRecord([]byte("0123456789"))
	require.NoError(t, err)
	require.Less(t, p.FreeSpace(), before)
}
