package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/pgproto/settings"
)

func TestDefaultRegistryResolvesDistinctOIDsIndependently(t *testing.T) {
	reg := NewDefault()
	set := settings.NewRegistry()

	const int4OID = 23
	const textOID = 25

	encoded, err := reg.Lookup(int4OID).Encode(set, TextFormat, 42)
	require.NoError(t, err)
	require.Equal(t, "42", string(encoded))

	decoded, err := reg.Lookup(int4OID).Decode(set, TextFormat, encoded)
	require.NoError(t, err)
	require.EqualValues(t, 42, decoded)

	encodedText, err := reg.Lookup(textOID).Encode(set, TextFormat, "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", string(encodedText))
}

func TestRegisterOverridesFallback(t *testing.T) {
	reg := NewDefault()

	var calls int
	reg.Register(99, stubCodec{oid: 99, onEncode: func() { calls++ }})

	_, err := reg.Lookup(99).Encode(settings.NewRegistry(), TextFormat, "x")
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

type stubCodec struct {
	oid      uint32
	onEncode func()
}

func (s stubCodec) OID() uint32            { return s.oid }
func (s stubCodec) HasBinaryEncoder() bool { return false }
func (s stubCodec) HasBinaryDecoder() bool { return false }

func (s stubCodec) Encode(*settings.Registry, FormatCode, any) ([]byte, error) {
	s.onEncode()
	return []byte("stub"), nil
}

func (s stubCodec) Decode(*settings.Registry, FormatCode, []byte) (any, error) {
	return "stub", nil
}
