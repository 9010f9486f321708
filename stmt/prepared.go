// Package stmt holds PreparedStatementState: the per-statement bind-arg
// encoder and row decoder, kept alive independently of any single
// in-flight operation so a statement can be executed many times.
package stmt

import (
	"fmt"
	"sync"

	"github.com/corvidlabs/pgproto/codec"
	"github.com/corvidlabs/pgproto/settings"
)

// RowField is one column of a RowDescription, captured once per prepared
// statement (or once per simple-query result set, via NewAdHoc).
type RowField struct {
	Name     string
	TableOID uint32
	Column   int16
	TypeOID  uint32
	TypeSize int16
	TypeMod  int32
	Format   codec.FormatCode
}

// PreparedStatement tracks one server-side prepared statement: its
// parameter and result descriptors, a lazily-built column name index, and
// a reference count so close_statement only actually closes once every
// portal bound against it has been closed too.
type PreparedStatement struct {
	mu sync.Mutex

	Name  string
	Query string

	paramOIDs []uint32
	rowDesc   []RowField
	nameIdx   map[string]int

	refs   int
	closed bool
}

// New constructs a PreparedStatement named name for query, with an initial
// reference held by the caller that prepared it.
func New(name, query string) *PreparedStatement {
	return &PreparedStatement{Name: name, Query: query, refs: 1}
}

// NewAdHoc builds an unnamed, already-described PreparedStatement from a
// RowDescription observed inline, used by the simple-query path which has
// no Parse/Describe round trip of its own.
func NewAdHoc(rowDesc []RowField) *PreparedStatement {
	return &PreparedStatement{refs: 1, rowDesc: rowDesc}
}

// SetParamOIDs records the ParameterDescription result.
func (s *PreparedStatement) SetParamOIDs(oids []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paramOIDs = oids
}

// ParamOIDs returns the last recorded parameter type OIDs.
func (s *PreparedStatement) ParamOIDs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.paramOIDs
}

// SetRowDescriptor records the RowDescription result and invalidates the
// lazily-built name index so it is recomputed from the new fields.
func (s *PreparedStatement) SetRowDescriptor(fields []RowField) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rowDesc = fields
	s.nameIdx = nil
}

// RowDescriptor returns the last recorded result columns.
func (s *PreparedStatement) RowDescriptor() []RowField {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rowDesc
}

// ensureNameIndex lazily builds the column-name -> index map, once per
// RowDescription.
func (s *PreparedStatement) ensureNameIndex() map[string]int {
	if s.nameIdx != nil {
		return s.nameIdx
	}

	idx := make(map[string]int, len(s.rowDesc))
	for i, f := range s.rowDesc {
		idx[f.Name] = i
	}

	s.nameIdx = idx
	return idx
}

// AddRef registers another portal bound against this statement.
func (s *PreparedStatement) AddRef() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs++
}

// Release drops a reference and reports whether this was the last one, in
// which case the caller should actually send Close(Statement) to the
// server.
func (s *PreparedStatement) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.refs--
	if s.refs <= 0 {
		s.closed = true
		return true
	}

	return false
}

// Closed reports whether the statement has been fully released.
func (s *PreparedStatement) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// EncodeBind renders args as the wire bytes of a Bind message's parameter
// list, one slice per argument (nil meaning SQL NULL), using paramFormat
// for every argument. PostgreSQL's Bind message allows per-parameter
// formats, but this engine always sends one format code covering all of
// them.
func (s *PreparedStatement) EncodeBind(codecs *codec.Registry, set *settings.Registry, args []any, paramFormat codec.FormatCode) ([][]byte, error) {
	oids := s.ParamOIDs()
	out := make([][]byte, len(args))

	for i, arg := range args {
		if arg == nil {
			continue
		}

		var oid uint32
		if i < len(oids) {
			oid = oids[i]
		}

		enc, err := codecs.Lookup(oid).Encode(set, paramFormat, arg)
		if err != nil {
			return nil, fmt.Errorf("pgproto: encoding bind parameter %d: %w", i, err)
		}

		out[i] = enc
	}

	return out, nil
}

// Row is one decoded DataRow, addressable by position or column name.
type Row struct {
	stmt   *PreparedStatement
	Values []any
}

// Value returns the i'th column's decoded value.
func (r *Row) Value(i int) any { return r.Values[i] }

// Get returns the decoded value of the named column.
func (r *Row) Get(name string) (any, bool) {
	idx := r.stmt.ensureNameIndex()
	i, ok := idx[name]
	if !ok {
		return nil, false
	}

	return r.Values[i], true
}

// DecodeRow decodes one DataRow's raw column values using this statement's
// result descriptor.
func (s *PreparedStatement) DecodeRow(codecs *codec.Registry, set *settings.Registry, raw [][]byte) (*Row, error) {
	s.mu.Lock()
	desc := s.rowDesc
	s.mu.Unlock()

	if len(raw) != len(desc) {
		return nil, fmt.Errorf("pgproto: DataRow carries %d columns, RowDescription declared %d", len(raw), len(desc))
	}

	values := make([]any, len(raw))
	for i, col := range raw {
		field := desc[i]

		v, err := codecs.Lookup(field.TypeOID).Decode(set, field.Format, col)
		if err != nil {
			return nil, fmt.Errorf("pgproto: decoding column %q: %w", field.Name, err)
		}

		values[i] = v
	}

	return &Row{stmt: s, Values: values}, nil
}
