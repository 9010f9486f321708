package codec

import "github.com/lib/pq/oid"

// builtinOIDs lists the common built-in type OIDs NewDefault pre-registers
// eagerly, named via lib/pq/oid so the list reads as types rather than bare
// numbers. Any OID not in this list still works through the registry's
// fallback factory; this only saves the first-lookup allocation for the
// types most connections actually use.
var builtinOIDs = []uint32{
	uint32(oid.T_bool),
	uint32(oid.T_bytea),
	uint32(oid.T_int2),
	uint32(oid.T_int4),
	uint32(oid.T_int8),
	uint32(oid.T_float4),
	uint32(oid.T_float8),
	uint32(oid.T_numeric),
	uint32(oid.T_text),
	uint32(oid.T_varchar),
	uint32(oid.T_bpchar),
	uint32(oid.T_date),
	uint32(oid.T_time),
	uint32(oid.T_timestamp),
	uint32(oid.T_timestamptz),
	uint32(oid.T_uuid),
	uint32(oid.T_json),
	uint32(oid.T_jsonb),
}
