package protocol

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/corvidlabs/pgproto/auth"
	"github.com/corvidlabs/pgproto/codec"
	"github.com/corvidlabs/pgproto/pgerr"
	"github.com/corvidlabs/pgproto/stmt"
	"github.com/corvidlabs/pgproto/wire"
)

// Dispatcher owns the transport read loop, enforces the single-in-flight
// contract around Core, and resolves exactly one Waiter per operation -
// whether by a terminal engine event, a per-operation timeout (which also
// fires a best-effort cancel), or the caller's own context cancellation.
type Dispatcher struct {
	mu      sync.Mutex
	writeMu sync.Mutex

	core      *Core
	transport Transport
	cancelFn  func()

	waiter   *Waiter
	draining bool
	closed   bool

	copySink    func([]byte) error
	copySinkErr error
	copyInReady chan struct{}
	writeGate   *gate

	onNotify func(pid int32, channel, payload string)
	onNotice func(err error)
}

// NewDispatcher wires a Dispatcher around an idle Core and a live
// Transport. Start must be called once to begin the read loop.
func NewDispatcher(core *Core, transport Transport, cancelFn func()) *Dispatcher {
	d := &Dispatcher{core: core, transport: transport, cancelFn: cancelFn, writeGate: newGate(true)}
	core.SetHooks(d)
	return d
}

// Start launches the background read loop. Must be called exactly once.
func (d *Dispatcher) Start() { go d.readLoop() }

// OnNotify installs the LISTEN/NOTIFY callback.
func (d *Dispatcher) OnNotify(f func(pid int32, channel, payload string)) { d.onNotify = f }

// OnNotice installs the NoticeResponse callback.
func (d *Dispatcher) OnNotice(f func(err error)) { d.onNotice = f }

// Core exposes the underlying engine for read-only accessors (State,
// ConnStatus, Settings, ...). conn.go calls it between operations, and
// also from its cancel callback, which reads BackendPID/BackendSecret while
// a timed-out operation is still draining.
func (d *Dispatcher) Core() *Core { return d.core }

// Closed reports whether the connection has been terminated or the
// transport has failed.
func (d *Dispatcher) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closed
}

// PauseWriting and ResumeWriting let an external transport signal
// backpressure during a COPY IN stream. The Dispatcher's own blocking
// Write already backpressures via the OS socket buffer for a standard
// net.Conn; these only matter for a transport that needs an explicit gate.
func (d *Dispatcher) PauseWriting()  { d.writeGate.Pause() }
func (d *Dispatcher) ResumeWriting() { d.writeGate.Resume() }

func (d *Dispatcher) precheck() error {
	switch {
	case d.closed:
		return pgerr.NewInterfaceError(pgerr.Closed, "connection is closed")
	case d.waiter != nil:
		return pgerr.NewInterfaceError(pgerr.InProgress, "an operation is already in flight")
	case d.draining:
		return pgerr.NewInterfaceError(pgerr.Cancelling, "a previous operation is still draining after cancellation")
	default:
		return nil
	}
}

// do issues one operation and blocks until it resolves. issue is called
// with the mutex held and must only queue bytes into core's writer (via a
// Core method), never block.
func (d *Dispatcher) do(ctx context.Context, timeout time.Duration, issue func(core *Core)) (*OpResult, error) {
	d.mu.Lock()
	if err := d.precheck(); err != nil {
		d.mu.Unlock()
		return nil, err
	}

	w := newWaiter(time.Now(), timeout)
	d.waiter = w
	issue(d.core)
	out := d.core.TakeOutbound()
	d.mu.Unlock()

	w.arm(func() { d.onTimeout(w) })

	if len(out) > 0 {
		if err := d.write(out); err != nil {
			d.abort(err)
		}
	}

	select {
	case <-w.done:
	case <-ctx.Done():
		d.cancelCaller(w, ctx.Err())
		<-w.done
	}

	res, _ := w.result.(*OpResult)
	return res, w.err
}

func (d *Dispatcher) onTimeout(w *Waiter) {
	d.mu.Lock()
	if d.waiter != w {
		d.mu.Unlock()
		return
	}

	d.waiter = nil
	d.draining = true
	d.mu.Unlock()

	if d.cancelFn != nil {
		go d.cancelFn()
	}

	w.resolve(nil, &pgerr.TimeoutError{Operation: "operation"})
}

func (d *Dispatcher) cancelCaller(w *Waiter, cause error) {
	d.mu.Lock()
	if d.waiter != w {
		d.mu.Unlock()
		return
	}

	d.waiter = nil
	d.draining = true
	d.mu.Unlock()

	if d.cancelFn != nil {
		go d.cancelFn()
	}

	w.resolve(nil, pgerr.NewInterfaceError(pgerr.Cancelling, cause.Error()))
}

// abort resolves any in-flight waiter with a ConnectionDoesNotExistError
// and marks the connection closed, used whenever the transport itself
// fails (read or write error).
func (d *Dispatcher) abort(err error) {
	d.mu.Lock()
	d.closed = true
	w := d.waiter
	d.waiter = nil
	d.draining = false
	d.mu.Unlock()

	if w != nil {
		w.resolve(nil, &pgerr.ConnectionDoesNotExistError{Cause: err})
	}
}

func (d *Dispatcher) write(b []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	_, err := d.transport.Write(b)
	return err
}

func (d *Dispatcher) readLoop() {
	buf := make([]byte, 32*1024)

	for {
		n, err := d.transport.Read(buf)
		if n > 0 {
			d.core.Feed(buf[:n])

			if derr := d.core.Drain(); derr != nil {
				d.abort(derr)
				return
			}

			if out := d.core.TakeOutbound(); len(out) > 0 {
				if werr := d.write(out); werr != nil {
					d.abort(werr)
					return
				}
			}
		}

		if err != nil {
			d.abort(err)
			return
		}
	}
}

// --- Hooks implementation ---

func (d *Dispatcher) Terminal(op OpKind, result *OpResult, err error) {
	d.mu.Lock()
	w := d.waiter
	d.waiter = nil
	d.draining = false
	d.mu.Unlock()

	_ = op
	if w == nil {
		return
	}

	w.resolve(result, err)
}

func (d *Dispatcher) CopyOutChunk(data []byte) {
	pauseReading(d.transport)
	defer resumeReading(d.transport)

	if d.copySink == nil {
		return
	}

	if err := d.copySink(data); err != nil && d.copySinkErr == nil {
		d.copySinkErr = err
	}
}

func (d *Dispatcher) CopyInReady() {
	d.mu.Lock()
	ready := d.copyInReady
	d.copyInReady = nil
	d.mu.Unlock()

	if ready == nil {
		return
	}

	select {
	case ready <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Notify(pid int32, channel, payload string) {
	if d.onNotify != nil {
		d.onNotify(pid, channel, payload)
	}
}

func (d *Dispatcher) Notice(err error) {
	if d.onNotice != nil {
		d.onNotice(err)
	}
}

// --- public operations ---

func (d *Dispatcher) Connect(ctx context.Context, timeout time.Duration, params []StartupParam, authenticator auth.Authenticator) (*OpResult, error) {
	return d.do(ctx, timeout, func(c *Core) { c.Connect(params, authenticator) })
}

func (d *Dispatcher) Prepare(ctx context.Context, timeout time.Duration, name, query string, target *stmt.PreparedStatement) (*OpResult, error) {
	return d.do(ctx, timeout, func(c *Core) { c.Prepare(name, query, target) })
}

func (d *Dispatcher) Bind(ctx context.Context, timeout time.Duration, target *stmt.PreparedStatement, portal string, args [][]byte, paramFormat, resultFormat codec.FormatCode) (*OpResult, error) {
	return d.do(ctx, timeout, func(c *Core) { c.Bind(target, portal, args, paramFormat, resultFormat) })
}

func (d *Dispatcher) Execute(ctx context.Context, timeout time.Duration, target *stmt.PreparedStatement, portal string, limit int32) (*OpResult, error) {
	return d.do(ctx, timeout, func(c *Core) { c.Execute(target, portal, limit) })
}

func (d *Dispatcher) BindExecute(ctx context.Context, timeout time.Duration, target *stmt.PreparedStatement, portal string, args [][]byte, paramFormat, resultFormat codec.FormatCode, limit int32, query string) (*OpResult, error) {
	return d.do(ctx, timeout, func(c *Core) {
		c.BindExecute(target, portal, args, paramFormat, resultFormat, limit, query)
	})
}

func (d *Dispatcher) BindExecuteMany(ctx context.Context, timeout time.Duration, target *stmt.PreparedStatement, portal string, argSets [][][]byte, paramFormat, resultFormat codec.FormatCode, query string) (*OpResult, error) {
	return d.do(ctx, timeout, func(c *Core) {
		c.BindExecuteMany(target, portal, argSets, paramFormat, resultFormat, query)
	})
}

func (d *Dispatcher) SimpleQuery(ctx context.Context, timeout time.Duration, sql string) (*OpResult, error) {
	return d.do(ctx, timeout, func(c *Core) { c.SimpleQuery(sql) })
}

func (d *Dispatcher) CloseStmt(ctx context.Context, timeout time.Duration, target wire.CloseTarget, name string) (*OpResult, error) {
	return d.do(ctx, timeout, func(c *Core) { c.Close(target, name) })
}

// CopyOut issues a COPY ... TO STDOUT query, delivering each CopyData
// chunk to sink synchronously as it arrives (the call blocks the read
// loop, which is itself the backpressure: the server stops receiving
// reads, hence stops being asked for more data, while sink runs).
func (d *Dispatcher) CopyOut(ctx context.Context, sql string, sink func([]byte) error) (*OpResult, error) {
	d.mu.Lock()
	d.copySink = sink
	d.copySinkErr = nil
	d.mu.Unlock()

	res, err := d.do(ctx, 0, func(c *Core) { c.CopyOut(sql) })

	d.mu.Lock()
	d.copySink = nil
	sinkErr := d.copySinkErr
	d.copySinkErr = nil
	d.mu.Unlock()

	if err == nil && sinkErr != nil {
		return res, sinkErr
	}

	return res, err
}

// CopyIn issues a COPY ... FROM STDIN query and streams chunks pulled from
// source until it returns io.EOF or a zero-length chunk, then signals
// CopyDone. A source error instead sends CopyFail, aborting the copy.
func (d *Dispatcher) CopyIn(ctx context.Context, sql string, source func() ([]byte, error)) (*OpResult, error) {
	d.mu.Lock()
	if err := d.precheck(); err != nil {
		d.mu.Unlock()
		return nil, err
	}

	w := newWaiter(time.Now(), 0)
	d.waiter = w
	ready := make(chan struct{}, 1)
	d.copyInReady = ready

	d.core.CopyIn(sql)
	out := d.core.TakeOutbound()
	d.mu.Unlock()

	if len(out) > 0 {
		if err := d.write(out); err != nil {
			d.abort(err)
			return nil, &pgerr.ConnectionDoesNotExistError{Cause: err}
		}
	}

	select {
	case <-ready:
	case <-w.done:
		res, _ := w.result.(*OpResult)
		return res, w.err
	}

	streamErr := d.streamCopyIn(source)

	d.mu.Lock()
	if streamErr != nil {
		d.core.CopyInFail(streamErr.Error())
	} else if err := d.core.CopyInDone(); err != nil {
		streamErr = err
	}

	out = d.core.TakeOutbound()
	d.mu.Unlock()

	if len(out) > 0 {
		if err := d.write(out); err != nil {
			d.abort(err)
			return nil, &pgerr.ConnectionDoesNotExistError{Cause: err}
		}
	}

	<-w.done

	res, _ := w.result.(*OpResult)
	if streamErr != nil && w.err == nil {
		return res, streamErr
	}

	return res, w.err
}

func (d *Dispatcher) streamCopyIn(source func() ([]byte, error)) error {
	ctx := context.Background()

	for {
		if err := d.writeGate.Wait(ctx); err != nil {
			return err
		}

		chunk, err := source()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		if len(chunk) == 0 {
			return nil
		}

		d.mu.Lock()
		werr := d.core.CopyInWrite(chunk)
		out := d.core.TakeOutbound()
		d.mu.Unlock()

		if werr != nil {
			return werr
		}

		if len(out) > 0 {
			if err := d.write(out); err != nil {
				return err
			}
		}
	}
}

// Abort closes the transport immediately without sending Terminate,
// resolving any in-flight waiter with a ConnectionDoesNotExistError.
func (d *Dispatcher) Abort() error {
	d.abort(errors.New("connection aborted by caller"))
	return d.transport.Close()
}

// Terminate sends a Terminate message and closes the transport. It never
// blocks on a reply, since the server closes the socket without one.
func (d *Dispatcher) Terminate() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	d.core.Terminate()
	out := d.core.TakeOutbound()
	d.closed = true
	d.mu.Unlock()

	if len(out) > 0 {
		_ = d.write(out)
	}

	_ = d.transport.Close()
}
