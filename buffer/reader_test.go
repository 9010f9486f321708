package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReaderFramesOnlyOnceFullyBuffered(t *testing.T) {
	r := NewReader(nil, 0)

	w := NewWriter()
	w.Start('Q')
	w.WriteCString("select 1")
	require.NoError(t, w.EndTagged())

	full := w.Bytes()

	r.Feed(full[:3])
	has, err := r.HasMessage()
	require.NoError(t, err)
	require.False(t, has)

	r.Feed(full[3:])
	has, err = r.HasMessage()
	require.NoError(t, err)
	require.True(t, has)

	require.Equal(t, byte('Q'), r.MessageType())

	s, err := r.ReadCString()
	require.NoError(t, err)
	require.Equal(t, "select 1", s)
}

func TestReaderConsumeMessageAdvancesToNext(t *testing.T) {
	r := NewReader(nil, 0)

	w := NewWriter()
	w.Start('1')
	require.NoError(t, w.EndTagged())
	w.Start('2')
	require.NoError(t, w.EndTagged())

	r.Feed(w.Bytes())

	has, err := r.HasMessage()
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, byte('1'), r.MessageType())
	r.ConsumeMessage()

	has, err = r.HasMessage()
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, byte('2'), r.MessageType())
}

func TestReaderHasUntypedMessage(t *testing.T) {
	r := NewReader(nil, 0)

	w := NewWriter()
	w.StartUntyped()
	w.WriteUint32(196608)
	w.WriteCString("user")
	w.WriteCString("alice")
	w.WriteBytes([]byte{0})
	require.NoError(t, w.EndUntyped())

	r.Feed(w.Bytes())

	has, err := r.HasUntypedMessage()
	require.NoError(t, err)
	require.True(t, has)

	version, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(196608), version)
}

func TestReaderRejectsOversizedMessage(t *testing.T) {
	r := NewReader(nil, 8)

	w := NewWriter()
	w.Start('Q')
	w.WriteCString("this query text is long enough to exceed the tiny cap")
	require.NoError(t, w.EndTagged())

	r.Feed(w.Bytes())

	_, err := r.HasMessage()
	require.Error(t, err)

	var sizeErr *MessageSizeExceeded
	require.ErrorAs(t, err, &sizeErr)
}

func TestReaderReadBytesNullSentinel(t *testing.T) {
	r := NewReader(nil, 0)

	w := NewWriter()
	w.Start('D')
	w.WriteInt16(1)
	w.WriteLengthPrefixed(nil)
	require.NoError(t, w.EndTagged())

	r.Feed(w.Bytes())
	has, err := r.HasMessage()
	require.NoError(t, err)
	require.True(t, has)

	n, err := r.ReadInt16()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	l, err := r.ReadInt32()
	require.NoError(t, err)
	require.EqualValues(t, -1, l)

	b, err := r.ReadBytes(int(l))
	require.NoError(t, err)
	require.Nil(t, b)
}
