// Package pgproto is the client-side driver core for the PostgreSQL
// frontend/backend wire protocol (version 3.0): a connection engine that
// speaks the extended query protocol, simple queries, COPY IN/OUT, and
// LISTEN/NOTIFY over a single TCP or TLS socket.
package pgproto

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/corvidlabs/pgproto/auth"
	"github.com/corvidlabs/pgproto/codec"
	"github.com/corvidlabs/pgproto/protocol"
	"github.com/corvidlabs/pgproto/stmt"
	"github.com/corvidlabs/pgproto/wire"
)

// Conn is one connection to a PostgreSQL server: a protocol.Dispatcher
// bound to a live transport, plus the host-facing query/copy/notify
// operations built on top of it.
type Conn struct {
	cfg     *Config
	address string

	disp   *protocol.Dispatcher
	codecs *codec.Registry

	notifyHandler NotifyHandler
}

// Notification is one LISTEN/NOTIFY delivery.
type Notification struct {
	PID     int32
	Channel string
	Payload string
}

// NotifyHandler receives asynchronous Notifications delivered by LISTEN.
type NotifyHandler func(Notification)

// Connect dials address ("host:port"), performs the startup and
// authentication handshake, and returns a ready-to-use Conn.
func Connect(ctx context.Context, address, database, user string, opts ...Option) (*Conn, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	dialCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("pgproto: dial %s: %w", address, err)
	}

	var transport protocol.Transport = netConn
	if cfg.TLSConfig != nil {
		tlsConn, err := upgradeTLS(dialCtx, netConn, cfg.TLSConfig)
		if err != nil {
			netConn.Close()
			return nil, fmt.Errorf("pgproto: TLS negotiation: %w", err)
		}

		transport = tlsConn
	}

	codecs := codec.NewDefault()
	core := protocol.NewCore(cfg.Logger, cfg.MaxMessageSize, codecs, cfg.CopyFlushThreshold)

	conn := &Conn{cfg: cfg, address: address, codecs: codecs}
	disp := protocol.NewDispatcher(core, transport, conn.sendCancelBestEffort)
	conn.disp = disp

	disp.OnNotify(func(pid int32, channel, payload string) {
		if conn.notifyHandler != nil {
			conn.notifyHandler(Notification{PID: pid, Channel: channel, Payload: payload})
		}
	})
	disp.OnNotice(func(err error) {
		cfg.Logger.Warn("server notice", "error", err)
	})

	disp.Start()

	params := []protocol.StartupParam{
		{Name: "user", Value: user},
		{Name: "database", Value: database},
	}
	if cfg.ApplicationName != "" {
		params = append(params, protocol.StartupParam{Name: "application_name", Value: cfg.ApplicationName})
	}
	params = append(params, cfg.extraParams...)

	authenticator := auth.Auto(user, cfg.Password)

	if _, err := disp.Connect(ctx, cfg.ConnectTimeout, params, authenticator); err != nil {
		disp.Terminate()
		return nil, err
	}

	return conn, nil
}

func (c *Conn) sendCancelBestEffort() {
	core := c.disp.Core()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	if err := SendCancelRequest(ctx, c.address, core.BackendPID(), core.BackendSecret(), c.cfg.TLSConfig); err != nil {
		c.cfg.Logger.Warn("best-effort cancel request failed", "error", err)
	}
}

// OnNotification installs the LISTEN/NOTIFY callback.
func (c *Conn) OnNotification(h NotifyHandler) { c.notifyHandler = h }

// TxStatus reports the transaction status from the last ReadyForQuery.
func (c *Conn) TxStatus() wire.TransactionStatus { return c.disp.Core().TxStatus() }

// Settings exposes the server-reported connection parameters.
func (c *Conn) Settings() map[string]string { return c.disp.Core().Settings().Snapshot() }

// Close gracefully terminates the connection (Terminate message, then
// closes the transport).
func (c *Conn) Close() {
	c.disp.Terminate()
}

// Abort closes the underlying transport immediately, without sending
// Terminate, for use when the connection is already known to be wedged.
func (c *Conn) Abort() error {
	return c.disp.Abort()
}

// Result is the outcome of a query-shaped operation: bind_execute,
// bind_execute_many, execute, or a simple query.
type Result struct {
	Rows       []*stmt.Row
	CommandTag string
	Suspended  bool
}

func newResult(r *protocol.OpResult) *Result {
	if r == nil {
		return &Result{}
	}

	return &Result{Rows: r.Rows, CommandTag: r.CommandTag, Suspended: r.Suspended}
}

// Query runs sql through the simple query protocol. Multiple
// semicolon-separated statements are supported by the server itself; the
// rows of every statement's result set are appended to Result.Rows in
// arrival order, and Result.CommandTag holds the last CommandComplete tag.
func (c *Conn) Query(ctx context.Context, sql string) (*Result, error) {
	res, err := c.disp.SimpleQuery(ctx, c.cfg.CommandTimeout, sql)
	return newResult(res), err
}

// PreparedStatement is a host-facing handle onto a server-side prepared
// statement plus its local parameter/row descriptors.
type PreparedStatement struct {
	conn  *Conn
	inner *stmt.PreparedStatement
}

// Prepare parses and describes query under name ("" for an unnamed
// statement), returning a handle usable for bind/execute.
func (c *Conn) Prepare(ctx context.Context, name, query string) (*PreparedStatement, error) {
	target := stmt.New(name, query)

	if _, err := c.disp.Prepare(ctx, c.cfg.CommandTimeout, name, query, target); err != nil {
		return nil, err
	}

	return &PreparedStatement{conn: c, inner: target}, nil
}

// BindExecute binds args to an unnamed portal and executes it to
// completion in one round trip.
func (ps *PreparedStatement) BindExecute(ctx context.Context, args ...any) (*Result, error) {
	encoded, err := ps.inner.EncodeBind(ps.conn.codecs, ps.conn.disp.Core().Settings(), args, codec.TextFormat)
	if err != nil {
		return nil, err
	}

	res, err := ps.conn.disp.BindExecute(ctx, ps.conn.cfg.CommandTimeout, ps.inner, "", encoded, codec.TextFormat, codec.TextFormat, 0, ps.inner.Query)
	return newResult(res), err
}

// BindExecuteMany binds and executes argSets one portal per row, ending
// in a single Sync. Rows accumulate across every set into one Result.
func (ps *PreparedStatement) BindExecuteMany(ctx context.Context, argSets [][]any) (*Result, error) {
	encodedSets := make([][][]byte, len(argSets))

	for i, args := range argSets {
		enc, err := ps.inner.EncodeBind(ps.conn.codecs, ps.conn.disp.Core().Settings(), args, codec.TextFormat)
		if err != nil {
			return nil, fmt.Errorf("pgproto: encoding row %d: %w", i, err)
		}

		encodedSets[i] = enc
	}

	res, err := ps.conn.disp.BindExecuteMany(ctx, ps.conn.cfg.CommandTimeout, ps.inner, "", encodedSets, codec.TextFormat, codec.TextFormat, ps.inner.Query)
	return newResult(res), err
}

// Bind creates a named portal without executing it, for callers that want
// to Execute it with an explicit row limit (cursor-style fetching). The
// statement gains a reference for as long as the portal is open, released
// by ClosePortal.
func (ps *PreparedStatement) Bind(ctx context.Context, portal string, args ...any) error {
	encoded, err := ps.inner.EncodeBind(ps.conn.codecs, ps.conn.disp.Core().Settings(), args, codec.TextFormat)
	if err != nil {
		return err
	}

	if _, err := ps.conn.disp.Bind(ctx, ps.conn.cfg.CommandTimeout, ps.inner, portal, encoded, codec.TextFormat, codec.TextFormat); err != nil {
		return err
	}

	ps.inner.AddRef()
	return nil
}

// Execute runs a previously-bound portal, returning at most limit rows (0
// for no limit). Result.Suspended reports whether more rows remain.
func (ps *PreparedStatement) Execute(ctx context.Context, portal string, limit int32) (*Result, error) {
	res, err := ps.conn.disp.Execute(ctx, ps.conn.cfg.CommandTimeout, ps.inner, portal, limit)
	return newResult(res), err
}

// Close releases this handle's reference to the underlying statement,
// sending Close(Statement) to the server only once every reference
// (including those taken by Bind for named portals) has been released.
func (ps *PreparedStatement) Close(ctx context.Context) error {
	if !ps.inner.Release() {
		return nil
	}

	_, err := ps.conn.disp.CloseStmt(ctx, ps.conn.cfg.CommandTimeout, wire.CloseStatement, ps.inner.Name)
	return err
}

// ClosePortal closes a named portal opened via Bind and releases this
// handle's reference taken for it, closing the underlying statement too if
// that was the last outstanding reference.
func (ps *PreparedStatement) ClosePortal(ctx context.Context, portal string) error {
	if _, err := ps.conn.disp.CloseStmt(ctx, ps.conn.cfg.CommandTimeout, wire.ClosePortal, portal); err != nil {
		return err
	}

	if !ps.inner.Release() {
		return nil
	}

	_, err := ps.conn.disp.CloseStmt(ctx, ps.conn.cfg.CommandTimeout, wire.CloseStatement, ps.inner.Name)
	return err
}

// ExecMany is a convenience wrapper that prepares query as an unnamed
// statement, runs BindExecuteMany over argSets, and closes the statement.
func (c *Conn) ExecMany(ctx context.Context, query string, argSets [][]any) (*Result, error) {
	ps, err := c.Prepare(ctx, "", query)
	if err != nil {
		return nil, err
	}
	defer ps.Close(ctx)

	return ps.BindExecuteMany(ctx, argSets)
}

// CopyOut issues sql (a COPY ... TO STDOUT statement) and delivers each
// chunk of copy data to sink as it arrives.
func (c *Conn) CopyOut(ctx context.Context, sql string, sink func([]byte) error) (*Result, error) {
	res, err := c.disp.CopyOut(ctx, sql, sink)
	return newResult(res), err
}

// CopyIn issues sql (a COPY ... FROM STDIN statement) and streams chunks
// pulled from source until it returns io.EOF.
func (c *Conn) CopyIn(ctx context.Context, sql string, source func() ([]byte, error)) (*Result, error) {
	res, err := c.disp.CopyIn(ctx, sql, source)
	return newResult(res), err
}
