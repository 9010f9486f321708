package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterEndTaggedPatchesLength(t *testing.T) {
	w := NewWriter()
	w.Start('Q')
	w.WriteCString("select 1")
	require.NoError(t, w.EndTagged())

	b := w.Bytes()
	require.Equal(t, byte('Q'), b[0])

	declared := int(b[1])<<24 | int(b[2])<<16 | int(b[3])<<8 | int(b[4])
	require.Equal(t, len(b)-1, declared)
}

func TestWriterEndUntypedPatchesLength(t *testing.T) {
	w := NewWriter()
	w.StartUntyped()
	w.WriteUint32(80877103)
	require.NoError(t, w.EndUntyped())

	b := w.Bytes()
	declared := int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	require.Equal(t, len(b), declared)
}

func TestCopyWriterFlushesOnThreshold(t *testing.T) {
	w := NewWriter()
	cw := NewCopyWriter(w, 4)

	cw.Write([]byte{1, 2})
	require.False(t, cw.ShouldFlush())
	require.Zero(t, w.Len())

	cw.Write([]byte{3, 4})
	require.True(t, cw.ShouldFlush())
	require.NoError(t, cw.Flush())

	b := w.Bytes()
	require.Equal(t, byte('d'), b[0])
}

func TestCopyWriterFlushIsNoopWhenEmpty(t *testing.T) {
	w := NewWriter()
	cw := NewCopyWriter(w, 32*1024)

	require.NoError(t, cw.Flush())
	require.Zero(t, w.Len())
}
