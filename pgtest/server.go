// Package pgtest provides an in-memory fake PostgreSQL backend for tests:
// a net.Pipe()-backed transport plus helpers that build raw backend
// messages with buffer.Writer, constructing wire fixtures directly rather
// than stubbing the engine.
package pgtest

import (
	"net"
	"testing"

	"github.com/corvidlabs/pgproto/buffer"
	"github.com/corvidlabs/pgproto/wire"
)

// Pipe returns a connected pair of net.Conn: client is handed to the code
// under test (usually as protocol.Transport), server is driven by the
// test via the Server helper below.
func Pipe() (client, server net.Conn) {
	return net.Pipe()
}

// Server wraps one end of a Pipe with message-building helpers so a test
// can script backend behavior by hand.
type Server struct {
	t    *testing.T
	conn net.Conn
}

// NewServer wraps conn (the server side of a Pipe) for message scripting.
func NewServer(t *testing.T, conn net.Conn) *Server {
	t.Helper()
	return &Server{t: t, conn: conn}
}

func (s *Server) send(w *buffer.Writer) {
	s.t.Helper()

	if _, err := s.conn.Write(w.Bytes()); err != nil {
		s.t.Fatalf("pgtest: writing to pipe: %v", err)
	}
}

// ReadStartup reads one untyped startup-phase message (StartupMessage or
// SSLRequest; PasswordMessage and SASL responses are typed and go through
// ReadMessage instead) and returns its payload after the length prefix.
func (s *Server) ReadStartup() []byte {
	s.t.Helper()

	lenBuf := make([]byte, 4)
	if _, err := readFull(s.conn, lenBuf); err != nil {
		s.t.Fatalf("pgtest: reading startup length: %v", err)
	}

	declared := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
	body := make([]byte, declared-4)
	if _, err := readFull(s.conn, body); err != nil {
		s.t.Fatalf("pgtest: reading startup body: %v", err)
	}

	return body
}

// ReadMessage reads one typed (tag + length-prefixed) frontend message and
// returns its tag and payload.
func (s *Server) ReadMessage() (byte, []byte) {
	s.t.Helper()

	header := make([]byte, 5)
	if _, err := readFull(s.conn, header); err != nil {
		s.t.Fatalf("pgtest: reading message header: %v", err)
	}

	declared := int(header[1])<<24 | int(header[2])<<16 | int(header[3])<<8 | int(header[4])
	body := make([]byte, declared-4)
	if _, err := readFull(s.conn, body); err != nil {
		s.t.Fatalf("pgtest: reading message body: %v", err)
	}

	return header[0], body
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// AuthOK sends Authentication(OK).
func (s *Server) AuthOK() {
	w := buffer.NewWriter()
	w.Start(byte(wire.BackendAuth))
	w.WriteInt32(int32(wire.AuthOK))
	w.EndTagged()
	s.send(w)
}

// AuthCleartext sends Authentication(CleartextPassword).
func (s *Server) AuthCleartext() {
	w := buffer.NewWriter()
	w.Start(byte(wire.BackendAuth))
	w.WriteInt32(int32(wire.AuthCleartextPassword))
	w.EndTagged()
	s.send(w)
}

// ParameterStatus sends one ParameterStatus message.
func (s *Server) ParameterStatus(name, value string) {
	w := buffer.NewWriter()
	w.Start(byte(wire.BackendParameterStatus))
	w.WriteCString(name)
	w.WriteCString(value)
	w.EndTagged()
	s.send(w)
}

// BackendKeyData sends BackendKeyData(pid, secret).
func (s *Server) BackendKeyData(pid, secret int32) {
	w := buffer.NewWriter()
	w.Start(byte(wire.BackendBackendKeyData))
	w.WriteInt32(pid)
	w.WriteInt32(secret)
	w.EndTagged()
	s.send(w)
}

// ReadyForQuery sends ReadyForQuery(status).
func (s *Server) ReadyForQuery(status wire.TransactionStatus) {
	w := buffer.NewWriter()
	w.Start(byte(wire.BackendReadyForQuery))
	w.WriteBytes([]byte{byte(status)})
	w.EndTagged()
	s.send(w)
}

// ParseComplete, BindComplete, CloseComplete send their respective
// no-payload acknowledgements.
func (s *Server) ParseComplete() { s.empty(wire.BackendParseComplete) }
func (s *Server) BindComplete()  { s.empty(wire.BackendBindComplete) }
func (s *Server) CloseComplete() { s.empty(wire.BackendCloseComplete) }
func (s *Server) NoData()        { s.empty(wire.BackendNoData) }
func (s *Server) CopyDone()      { s.empty(wire.BackendCopyDone) }

func (s *Server) empty(tag wire.BackendTag) {
	w := buffer.NewWriter()
	w.Start(byte(tag))
	w.EndTagged()
	s.send(w)
}

// ParameterDescription sends a ParameterDescription listing oids.
func (s *Server) ParameterDescription(oids ...uint32) {
	w := buffer.NewWriter()
	w.Start(byte(wire.BackendParameterDescription))
	w.WriteInt16(int16(len(oids)))
	for _, oid := range oids {
		w.WriteUint32(oid)
	}
	w.EndTagged()
	s.send(w)
}

// RowField describes one column for RowDescription.
type RowField struct {
	Name     string
	TableOID uint32
	Column   int16
	TypeOID  uint32
	TypeSize int16
	TypeMod  int32
	Format   int16
}

// RowDescription sends a RowDescription listing fields.
func (s *Server) RowDescription(fields ...RowField) {
	w := buffer.NewWriter()
	w.Start(byte(wire.BackendRowDescription))
	w.WriteInt16(int16(len(fields)))
	for _, f := range fields {
		w.WriteCString(f.Name)
		w.WriteUint32(f.TableOID)
		w.WriteInt16(f.Column)
		w.WriteUint32(f.TypeOID)
		w.WriteInt16(f.TypeSize)
		w.WriteInt32(f.TypeMod)
		w.WriteInt16(f.Format)
	}
	w.EndTagged()
	s.send(w)
}

// DataRow sends a DataRow; a nil entry in values encodes SQL NULL.
func (s *Server) DataRow(values ...[]byte) {
	w := buffer.NewWriter()
	w.Start(byte(wire.BackendDataRow))
	w.WriteInt16(int16(len(values)))
	for _, v := range values {
		w.WriteLengthPrefixed(v)
	}
	w.EndTagged()
	s.send(w)
}

// CommandComplete sends CommandComplete(tag).
func (s *Server) CommandComplete(tag string) {
	w := buffer.NewWriter()
	w.Start(byte(wire.BackendCommandComplete))
	w.WriteCString(tag)
	w.EndTagged()
	s.send(w)
}

// ErrorResponse sends an ErrorResponse built from fields (e.g. {'S':
// "ERROR", 'C': "23505", 'M': "duplicate key"}).
func (s *Server) ErrorResponse(fields map[byte]string) {
	s.fieldMessage(wire.BackendErrorResponse, fields)
}

// NoticeResponse sends a NoticeResponse built from fields.
func (s *Server) NoticeResponse(fields map[byte]string) {
	s.fieldMessage(wire.BackendNoticeResponse, fields)
}

func (s *Server) fieldMessage(tag wire.BackendTag, fields map[byte]string) {
	w := buffer.NewWriter()
	w.Start(byte(tag))
	for k, v := range fields {
		w.WriteBytes([]byte{k})
		w.WriteCString(v)
	}
	w.WriteBytes([]byte{0})
	w.EndTagged()
	s.send(w)
}

// NotificationResponse sends an async NOTIFY delivery.
func (s *Server) NotificationResponse(pid int32, channel, payload string) {
	w := buffer.NewWriter()
	w.Start(byte(wire.BackendNotificationResponse))
	w.WriteInt32(pid)
	w.WriteCString(channel)
	w.WriteCString(payload)
	w.EndTagged()
	s.send(w)
}

// CopyOutResponse sends a CopyOutResponse with the given overall format
// (0 text, 1 binary) and columnCount columns, each using that same format.
func (s *Server) CopyOutResponse(format int8, columnCount int16) {
	s.copyResponse(wire.BackendCopyOutResponse, format, columnCount)
}

// CopyInResponse sends a CopyInResponse.
func (s *Server) CopyInResponse(format int8, columnCount int16) {
	s.copyResponse(wire.BackendCopyInResponse, format, columnCount)
}

func (s *Server) copyResponse(tag wire.BackendTag, format int8, columnCount int16) {
	w := buffer.NewWriter()
	w.Start(byte(tag))
	w.WriteBytes([]byte{byte(format)})
	w.WriteInt16(columnCount)
	for i := int16(0); i < columnCount; i++ {
		w.WriteInt16(int16(format))
	}
	w.EndTagged()
	s.send(w)
}

// CopyData sends one chunk of COPY OUT data.
func (s *Server) CopyData(data []byte) {
	w := buffer.NewWriter()
	w.Start(byte(wire.BackendCopyData))
	w.WriteBytes(data)
	w.EndTagged()
	s.send(w)
}
