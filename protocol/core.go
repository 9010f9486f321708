package protocol

import (
	"log/slog"

	"github.com/corvidlabs/pgproto/auth"
	"github.com/corvidlabs/pgproto/buffer"
	"github.com/corvidlabs/pgproto/codec"
	"github.com/corvidlabs/pgproto/pgerr"
	"github.com/corvidlabs/pgproto/settings"
	"github.com/corvidlabs/pgproto/stmt"
	"github.com/corvidlabs/pgproto/wire"
)

// StartupParam is one (name, value) pair of the StartupMessage, kept as an
// ordered slice (rather than a map) so the wire bytes - and therefore test
// fixtures - are reproducible.
type StartupParam struct {
	Name  string
	Value string
}

// Core is the byte-level protocol engine: it owns the reader/writer pair,
// the settings registry, and the state machine, and never blocks or
// touches the network itself - it only consumes fed bytes and accumulates
// bytes to send. Dispatcher is the only intended caller.
type Core struct {
	logger   *slog.Logger
	reader   *buffer.Reader
	writer   *buffer.Writer
	codecs   *codec.Registry
	settings *settings.Registry

	state      State
	connStatus ConnStatus
	txStatus   wire.TransactionStatus

	backendPID    int32
	backendSecret int32

	authenticator auth.Authenticator

	activeStmt *stmt.PreparedStatement
	result     OpResult
	lastQuery  string
	pendingErr error

	copyWriter         *buffer.CopyWriter
	copyFlushThreshold int

	hooks Hooks
}

// NewCore constructs an idle, not-yet-connected Core.
func NewCore(logger *slog.Logger, maxMessageSize int, codecs *codec.Registry, copyFlushThreshold int) *Core {
	if logger == nil {
		logger = slog.Default()
	}

	return &Core{
		logger:             logger,
		reader:             buffer.NewReader(logger, maxMessageSize),
		writer:             buffer.NewWriter(),
		codecs:             codecs,
		settings:           settings.NewRegistry(),
		state:              idleState,
		connStatus:         ConnBad,
		txStatus:           defaultTxStatus,
		copyFlushThreshold: copyFlushThreshold,
	}
}

// SetHooks installs the callback sink. Must be called before any Feed/Drain.
func (c *Core) SetHooks(h Hooks) { c.hooks = h }

func (c *Core) State() State                       { return c.state }
func (c *Core) ConnStatus() ConnStatus              { return c.connStatus }
func (c *Core) TxStatus() wire.TransactionStatus    { return c.txStatus }
func (c *Core) Settings() *settings.Registry        { return c.settings }
func (c *Core) BackendPID() int32                   { return c.backendPID }
func (c *Core) BackendSecret() int32                { return c.backendSecret }
func (c *Core) Codecs() *codec.Registry             { return c.codecs }

// Feed appends bytes received from the transport. It never parses.
func (c *Core) Feed(chunk []byte) { c.reader.Feed(chunk) }

// TakeOutbound drains and returns any bytes queued by the last batch of
// outbound operations or inline auth responses, resetting the writer.
func (c *Core) TakeOutbound() []byte {
	if c.writer.Len() == 0 {
		return nil
	}

	out := make([]byte, c.writer.Len())
	copy(out, c.writer.Bytes())
	c.writer.Reset()
	return out
}

// Drain processes every fully-framed message currently buffered, invoking
// hooks as it goes, and returns once no complete message remains.
func (c *Core) Drain() error {
	for {
		has, err := c.reader.HasMessage()
		if err != nil {
			return err
		}

		if !has {
			return nil
		}

		if err := c.dispatch(); err != nil {
			return err
		}

		c.reader.ConsumeMessage()
	}
}

func (c *Core) dispatch() error {
	switch wire.BackendTag(c.reader.MessageType()) {
	case wire.BackendAuth:
		return c.handleAuth()
	case wire.BackendParameterStatus:
		return c.handleParameterStatus()
	case wire.BackendBackendKeyData:
		return c.handleBackendKeyData()
	case wire.BackendReadyForQuery:
		return c.handleReadyForQuery()
	case wire.BackendErrorResponse:
		return c.handleErrorResponse()
	case wire.BackendNoticeResponse:
		return c.handleNoticeResponse()
	case wire.BackendNotificationResponse:
		return c.handleNotificationResponse()
	case wire.BackendParseComplete, wire.BackendBindComplete, wire.BackendCloseComplete, wire.BackendNoData, wire.BackendCopyDone:
		return nil
	case wire.BackendParameterDescription:
		return c.handleParameterDescription()
	case wire.BackendRowDescription:
		return c.handleRowDescription()
	case wire.BackendDataRow:
		return c.handleDataRow()
	case wire.BackendCommandComplete:
		return c.handleCommandComplete()
	case wire.BackendEmptyQueryResponse:
		c.result.CommandTag = "EMPTY"
		return nil
	case wire.BackendPortalSuspended:
		c.result.Suspended = true
		return nil
	case wire.BackendCopyInResponse:
		return c.handleCopyInResponse()
	case wire.BackendCopyOutResponse, wire.BackendCopyBothResponse:
		return nil
	case wire.BackendCopyData:
		return c.handleCopyData()
	default:
		c.logger.Debug("ignoring unhandled backend message", "tag", c.reader.MessageType())
		return nil
	}
}

func (c *Core) handleAuth() error {
	code, err := c.reader.ReadInt32()
	if err != nil {
		return err
	}

	ac := wire.AuthCode(code)
	if ac == wire.AuthOK {
		c.connStatus = ConnAuthOK
		return nil
	}

	rest := c.reader.Remaining()
	if c.authenticator == nil {
		return pgerr.NewInterfaceError("auth", "server requested authentication but no Authenticator was configured")
	}

	return c.authenticator.Respond(ac, rest, c.writer)
}

func (c *Core) handleParameterStatus() error {
	name, err := c.reader.ReadCString()
	if err != nil {
		return err
	}

	value, err := c.reader.ReadCString()
	if err != nil {
		return err
	}

	c.settings.Set(name, value)
	return nil
}

func (c *Core) handleBackendKeyData() error {
	pid, err := c.reader.ReadInt32()
	if err != nil {
		return err
	}

	secret, err := c.reader.ReadInt32()
	if err != nil {
		return err
	}

	c.backendPID, c.backendSecret = pid, secret
	return nil
}

func (c *Core) handleReadyForQuery() error {
	b, err := c.reader.ReadBytes(1)
	if err != nil {
		return err
	}

	c.txStatus = wire.TransactionStatus(b[0])

	op := c.state.opKind()
	result := c.result
	result.TxStatus = c.txStatus

	c.state = idleState
	c.result = OpResult{}

	opErr := c.pendingErr
	c.pendingErr = nil

	if c.hooks == nil {
		return nil
	}

	if opErr != nil {
		c.hooks.Terminal(op, nil, opErr)
		return nil
	}

	c.hooks.Terminal(op, &result, nil)
	return nil
}

func (c *Core) handleErrorResponse() error {
	fields, err := c.readFields()
	if err != nil {
		return err
	}

	c.pendingErr = pgerr.NewPostgresError(fields, c.lastQuery)
	return nil
}

func (c *Core) handleNoticeResponse() error {
	fields, err := c.readFields()
	if err != nil {
		return err
	}

	if c.hooks != nil {
		c.hooks.Notice(pgerr.NewPostgresError(fields, c.lastQuery))
	}

	return nil
}

func (c *Core) handleNotificationResponse() error {
	pid, err := c.reader.ReadInt32()
	if err != nil {
		return err
	}

	channel, err := c.reader.ReadCString()
	if err != nil {
		return err
	}

	payload, err := c.reader.ReadCString()
	if err != nil {
		return err
	}

	if c.hooks != nil {
		c.hooks.Notify(pid, channel, payload)
	}

	return nil
}

func (c *Core) readFields() (map[pgerr.Field]string, error) {
	fields := make(map[pgerr.Field]string)

	for {
		b, err := c.reader.ReadBytes(1)
		if err != nil {
			return nil, err
		}

		if b[0] == 0 {
			return fields, nil
		}

		value, err := c.reader.ReadCString()
		if err != nil {
			return nil, err
		}

		fields[pgerr.Field(b[0])] = value
	}
}

func (c *Core) handleParameterDescription() error {
	n, err := c.reader.ReadInt16()
	if err != nil {
		return err
	}

	oids := make([]uint32, n)
	for i := range oids {
		oids[i], err = c.reader.ReadUint32()
		if err != nil {
			return err
		}
	}

	if c.activeStmt != nil {
		c.activeStmt.SetParamOIDs(oids)
	}

	return nil
}

func (c *Core) handleRowDescription() error {
	n, err := c.reader.ReadInt16()
	if err != nil {
		return err
	}

	fields := make([]stmt.RowField, n)
	for i := range fields {
		name, err := c.reader.ReadCString()
		if err != nil {
			return err
		}

		tableOID, err := c.reader.ReadUint32()
		if err != nil {
			return err
		}

		col, err := c.reader.ReadInt16()
		if err != nil {
			return err
		}

		typeOID, err := c.reader.ReadUint32()
		if err != nil {
			return err
		}

		typeSize, err := c.reader.ReadInt16()
		if err != nil {
			return err
		}

		typeMod, err := c.reader.ReadInt32()
		if err != nil {
			return err
		}

		format, err := c.reader.ReadInt16()
		if err != nil {
			return err
		}

		fields[i] = stmt.RowField{
			Name: name, TableOID: tableOID, Column: col,
			TypeOID: typeOID, TypeSize: typeSize, TypeMod: typeMod,
			Format: codec.FormatCode(format),
		}
	}

	if c.state == StateSimpleQuery {
		c.activeStmt = stmt.NewAdHoc(fields)
	} else if c.activeStmt != nil {
		c.activeStmt.SetRowDescriptor(fields)
	}

	return nil
}

func (c *Core) handleDataRow() error {
	n, err := c.reader.ReadInt16()
	if err != nil {
		return err
	}

	raw := make([][]byte, n)
	for i := range raw {
		l, err := c.reader.ReadInt32()
		if err != nil {
			return err
		}

		b, err := c.reader.ReadBytes(int(l))
		if err != nil {
			return err
		}

		raw[i] = b
	}

	if c.activeStmt == nil {
		return &pgerr.InternalClientError{Reason: "DataRow received with no active row descriptor"}
	}

	row, err := c.activeStmt.DecodeRow(c.codecs, c.settings, raw)
	if err != nil {
		return err
	}

	c.result.Rows = append(c.result.Rows, row)
	return nil
}

func (c *Core) handleCommandComplete() error {
	tag, err := c.reader.ReadCString()
	if err != nil {
		return err
	}

	c.result.CommandTag = tag
	return nil
}

func (c *Core) handleCopyInResponse() error {
	if _, err := c.reader.ReadBytes(1); err != nil {
		return err
	}

	n, err := c.reader.ReadInt16()
	if err != nil {
		return err
	}

	for i := int16(0); i < n; i++ {
		if _, err := c.reader.ReadInt16(); err != nil {
			return err
		}
	}

	c.copyWriter = buffer.NewCopyWriter(c.writer, c.copyFlushThreshold)
	if c.hooks != nil {
		c.hooks.CopyInReady()
	}

	return nil
}

func (c *Core) handleCopyData() error {
	data := c.reader.Remaining()
	cp := make([]byte, len(data))
	copy(cp, data)

	if c.hooks != nil {
		c.hooks.CopyOutChunk(cp)
	}

	return nil
}

// --- outbound operations ---

func (c *Core) Connect(params []StartupParam, authenticator auth.Authenticator) {
	c.authenticator = authenticator
	c.state = StateAuth
	c.connStatus = ConnStarted

	c.writer.StartUntyped()
	c.writer.WriteUint32(wire.ProtocolVersion3)
	for _, p := range params {
		c.writer.WriteCString(p.Name)
		c.writer.WriteCString(p.Value)
	}
	c.writer.WriteBytes([]byte{0})
	c.writer.EndUntyped()
}

func (c *Core) Prepare(name, query string, target *stmt.PreparedStatement) {
	c.state = StatePrepare
	c.activeStmt = target
	c.lastQuery = query

	c.writer.Start(byte(wire.FrontendParse))
	c.writer.WriteCString(name)
	c.writer.WriteCString(query)
	c.writer.WriteInt16(0)
	c.writer.EndTagged()

	c.writeDescribe(wire.DescribeStatement, name)
	c.writeSync()
}

func (c *Core) Bind(target *stmt.PreparedStatement, portal string, args [][]byte, paramFormat, resultFormat codec.FormatCode) {
	c.state = StateBind
	c.activeStmt = target

	c.writeBind(portal, target.Name, args, paramFormat, resultFormat)
	c.writeSync()
}

func (c *Core) BindExecute(target *stmt.PreparedStatement, portal string, args [][]byte, paramFormat, resultFormat codec.FormatCode, limit int32, query string) {
	c.state = StateBindExecute
	c.activeStmt = target
	c.lastQuery = query

	c.writeBind(portal, target.Name, args, paramFormat, resultFormat)
	c.writeDescribe(wire.DescribePortal, portal)
	c.writeExecute(portal, limit)
	c.writeSync()
}

func (c *Core) BindExecuteMany(target *stmt.PreparedStatement, portal string, argSets [][][]byte, paramFormat, resultFormat codec.FormatCode, query string) {
	c.state = StateBindExecuteMany
	c.activeStmt = target
	c.lastQuery = query

	for _, args := range argSets {
		c.writeBind(portal, target.Name, args, paramFormat, resultFormat)
		c.writeExecute(portal, 0)
	}

	c.writeSync()
}

func (c *Core) Execute(target *stmt.PreparedStatement, portal string, limit int32) {
	c.state = StateExecute
	c.activeStmt = target

	c.writeExecute(portal, limit)
	c.writeSync()
}

func (c *Core) SimpleQuery(sql string) {
	c.state = StateSimpleQuery
	c.activeStmt = nil
	c.lastQuery = sql

	c.writeQuery(sql)
}

func (c *Core) Close(target wire.CloseTarget, name string) {
	c.state = StateCloseStmtPortal

	c.writer.Start(byte(wire.FrontendClose))
	c.writer.WriteBytes([]byte{byte(target)})
	c.writer.WriteCString(name)
	c.writer.EndTagged()

	c.writeSync()
}

func (c *Core) CopyOut(sql string) {
	c.state = StateCopyOutData
	c.lastQuery = sql

	c.writeQuery(sql)
}

func (c *Core) CopyIn(sql string) {
	c.state = StateCopyInData
	c.lastQuery = sql
	c.copyWriter = nil

	c.writeQuery(sql)
}

// CopyInWrite frames one chunk of outbound COPY data, flushing when the
// configured threshold is reached.
func (c *Core) CopyInWrite(data []byte) error {
	if c.copyWriter == nil {
		return &pgerr.InternalClientError{Reason: "CopyInWrite called before the server's CopyInResponse arrived"}
	}

	c.copyWriter.Write(data)
	if c.copyWriter.ShouldFlush() {
		return c.copyWriter.Flush()
	}

	return nil
}

// CopyInDone flushes any pending chunk and closes out the COPY IN stream.
func (c *Core) CopyInDone() error {
	if c.copyWriter != nil {
		if err := c.copyWriter.Flush(); err != nil {
			return err
		}
	}

	c.writer.Start(byte(wire.FrontendCopyDone))
	c.writer.EndTagged()
	return nil
}

// CopyInFail aborts an in-progress COPY IN stream with reason via CopyFail.
func (c *Core) CopyInFail(reason string) {
	c.writer.Start(byte(wire.FrontendCopyFail))
	c.writer.WriteCString(reason)
	c.writer.EndTagged()
}

func (c *Core) Terminate() {
	c.state = StateTerminating

	c.writer.Start(byte(wire.FrontendTerminate))
	c.writer.EndTagged()
}

func (c *Core) writeBind(portal, stmtName string, args [][]byte, paramFormat, resultFormat codec.FormatCode) {
	c.writer.Start(byte(wire.FrontendBind))
	c.writer.WriteCString(portal)
	c.writer.WriteCString(stmtName)
	c.writer.WriteInt16(1)
	c.writer.WriteInt16(int16(paramFormat))
	c.writer.WriteInt16(int16(len(args)))
	for _, a := range args {
		c.writer.WriteLengthPrefixed(a)
	}
	c.writer.WriteInt16(1)
	c.writer.WriteInt16(int16(resultFormat))
	c.writer.EndTagged()
}

func (c *Core) writeDescribe(target wire.DescribeTarget, name string) {
	c.writer.Start(byte(wire.FrontendDescribe))
	c.writer.WriteBytes([]byte{byte(target)})
	c.writer.WriteCString(name)
	c.writer.EndTagged()
}

func (c *Core) writeExecute(portal string, limit int32) {
	c.writer.Start(byte(wire.FrontendExecute))
	c.writer.WriteCString(portal)
	c.writer.WriteInt32(limit)
	c.writer.EndTagged()
}

func (c *Core) writeSync() {
	c.writer.Start(byte(wire.FrontendSync))
	c.writer.EndTagged()
}

func (c *Core) writeQuery(sql string) {
	c.writer.Start(byte(wire.FrontendQuery))
	c.writer.WriteCString(sql)
	c.writer.EndTagged()
}
