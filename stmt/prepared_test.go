package stmt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/pgproto/codec"
	"github.com/corvidlabs/pgproto/settings"
)

func TestDecodeRowByNameAndPosition(t *testing.T) {
	s := New("", "select id, name from widgets")
	s.SetRowDescriptor([]RowField{
		{Name: "id", TypeOID: 23, Format: codec.TextFormat},
		{Name: "name", TypeOID: 25, Format: codec.TextFormat},
	})

	codecs := codec.NewDefault()
	set := settings.NewRegistry()

	row, err := s.DecodeRow(codecs, set, [][]byte{[]byte("42"), []byte("widget")})
	require.NoError(t, err)

	require.EqualValues(t, 42, row.Value(0))
	require.Equal(t, "widget", row.Value(1))

	name, ok := row.Get("name")
	require.True(t, ok)
	require.Equal(t, "widget", name)

	_, ok = row.Get("missing")
	require.False(t, ok)
}

func TestDecodeRowRejectsColumnCountMismatch(t *testing.T) {
	s := New("", "select 1")
	s.SetRowDescriptor([]RowField{{Name: "one", TypeOID: 23, Format: codec.TextFormat}})

	_, err := s.DecodeRow(codec.NewDefault(), settings.NewRegistry(), [][]byte{[]byte("1"), []byte("2")})
	require.Error(t, err)
}

func TestEncodeBindNullArgument(t *testing.T) {
	s := New("", "insert into widgets (id, note) values ($1, $2)")
	s.SetParamOIDs([]uint32{23, 25})

	encoded, err := s.EncodeBind(codec.NewDefault(), settings.NewRegistry(), []any{7, nil}, codec.TextFormat)
	require.NoError(t, err)
	require.Len(t, encoded, 2)
	require.Nil(t, encoded[1])
	require.Equal(t, "7", string(encoded[0]))
}

func TestReleaseOnlyClosesAfterEveryRefDropped(t *testing.T) {
	s := New("s1", "select 1")
	s.AddRef()

	require.False(t, s.Release())
	require.False(t, s.Closed())

	require.True(t, s.Release())
	require.True(t, s.Closed())

	// a further release is a no-op, not a double-close.
	require.False(t, s.Release())
}
