// Package codec defines the external value-encoding contract the protocol
// engine consumes, plus a default registry backed by jackc/pgx/v5/pgtype,
// which already understands the text and binary wire formats for every
// built-in OID.
package codec

import (
	"github.com/corvidlabs/pgproto/settings"
)

// FormatCode selects between the text (0) and binary (1) wire formats.
type FormatCode int16

const (
	TextFormat   FormatCode = 0
	BinaryFormat FormatCode = 1
)

// Codec encodes/decodes a single PostgreSQL type (OID) to and from its wire
// representation. Implementations are looked up by OID through a Registry.
type Codec interface {
	// OID is the PostgreSQL type this codec handles.
	OID() uint32
	// HasBinaryEncoder/HasBinaryDecoder report whether the binary format is
	// supported; when false, the text format is used instead.
	HasBinaryEncoder() bool
	HasBinaryDecoder() bool
	// Encode renders value as its wire bytes in the given format, given the
	// connection's current settings (for encoding-sensitive text codecs).
	Encode(s *settings.Registry, format FormatCode, value any) ([]byte, error)
	// Decode parses wire bytes (as produced by Encode) back into a value.
	Decode(s *settings.Registry, format FormatCode, data []byte) (any, error)
}

// Registry resolves a Codec by OID. Any OID not explicitly Registered is
// built on demand via fallbackFactory (and cached), so that every type the
// backing factory understands works without a per-OID registration call.
type Registry struct {
	codecs          map[uint32]Codec
	fallbackFactory func(oid uint32) Codec
}

// NewRegistry constructs a Registry that builds a Codec via
// fallbackFactory for any OID not explicitly Registered.
func NewRegistry(fallbackFactory func(oid uint32) Codec) *Registry {
	return &Registry{codecs: make(map[uint32]Codec), fallbackFactory: fallbackFactory}
}

// Register installs or overrides the codec used for oid.
func (r *Registry) Register(oid uint32, c Codec) {
	r.codecs[oid] = c
}

// Lookup returns the codec for oid, building and caching one from the
// fallback factory if none was registered yet.
func (r *Registry) Lookup(oid uint32) Codec {
	if c, ok := r.codecs[oid]; ok {
		return c
	}

	c := r.fallbackFactory(oid)
	r.codecs[oid] = c
	return c
}
