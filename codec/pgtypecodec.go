package codec

import (
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/corvidlabs/pgproto/settings"
)

// pgtypeCodec adapts a single pgtype.Type, resolved from a shared
// *pgtype.Map, to the Codec interface, letting every OID pgx understands
// work out of the box.
type pgtypeCodec struct {
	tm  *pgtype.Map
	oid uint32
}

// NewDefault builds a Registry that resolves every OID against a shared
// pgtype.Map, covering the full built-in type set (int2/4/8, float,
// numeric, text, bool, timestamptz, uuid, json/jsonb, arrays, ...) without
// this module hand-rolling per-type math.
func NewDefault() *Registry {
	tm := pgtype.NewMap()
	r := NewRegistry(func(oid uint32) Codec { return &pgtypeCodec{tm: tm, oid: oid} })

	for _, o := range builtinOIDs {
		r.RegisterKnown(tm, o)
	}

	return r
}

// RegisterKnown installs an explicit pgtypeCodec for oid sourced from tm,
// useful when a caller wants to back a Registry with its own pgtype.Map
// instead of (or in addition to) NewDefault's shared one.
func (r *Registry) RegisterKnown(tm *pgtype.Map, oid uint32) {
	r.Register(oid, &pgtypeCodec{tm: tm, oid: oid})
}

func (c *pgtypeCodec) OID() uint32 { return c.oid }

func (c *pgtypeCodec) HasBinaryEncoder() bool {
	typ, ok := c.tm.TypeForOID(c.oid)
	if !ok {
		return false
	}

	_, ok = typ.Codec.(pgtype.BinaryCodec)
	return ok
}

func (c *pgtypeCodec) HasBinaryDecoder() bool {
	return c.HasBinaryEncoder()
}

func (c *pgtypeCodec) Encode(_ *settings.Registry, format FormatCode, value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	return c.tm.Encode(c.oid, int16(format), value, nil)
}

func (c *pgtypeCodec) Decode(_ *settings.Registry, format FormatCode, data []byte) (any, error) {
	if data == nil {
		return nil, nil
	}

	return c.tm.DecodeValue(c.oid, int16(format), data)
}
