package protocol_test

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/pgproto/auth"
	"github.com/corvidlabs/pgproto/codec"
	"github.com/corvidlabs/pgproto/pgerr"
	"github.com/corvidlabs/pgproto/pgtest"
	"github.com/corvidlabs/pgproto/protocol"
	"github.com/corvidlabs/pgproto/wire"
)

func newHarness(t *testing.T) (*protocol.Core, *protocol.Dispatcher, *pgtest.Server) {
	t.Helper()

	client, server := pgtest.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	core := protocol.NewCore(slogt.New(t), 0, codec.NewDefault(), 0)
	disp := protocol.NewDispatcher(core, client, func() {})
	disp.Start()

	return core, disp, pgtest.NewServer(t, server)
}

func connectTrust(t *testing.T, disp *protocol.Dispatcher, srv *pgtest.Server) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ReadStartup()
		srv.AuthOK()
		srv.ReadyForQuery(wire.TxIdle)
	}()

	_, err := disp.Connect(context.Background(), time.Second, nil, auth.Trust{})
	require.NoError(t, err)
	<-done
}

func TestConnectCompletesAfterAuthOKAndReadyForQuery(t *testing.T) {
	core, disp, srv := newHarness(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ReadStartup()
		srv.AuthOK()
		srv.ParameterStatus("server_version", "16.0")
		srv.BackendKeyData(42, 99)
		srv.ReadyForQuery(wire.TxIdle)
	}()

	res, err := disp.Connect(context.Background(), time.Second, []protocol.StartupParam{{Name: "user", Value: "alice"}}, auth.Trust{})
	require.NoError(t, err)
	require.NotNil(t, res)

	<-done
	require.EqualValues(t, 42, core.BackendPID())
	require.EqualValues(t, 99, core.BackendSecret())
	require.Equal(t, "16.0", core.Settings().ServerVersion())
}

func TestTimeoutResolvesWithTimeoutErrorAndFiresCancel(t *testing.T) {
	client, server := pgtest.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	var cancelled int32
	core := protocol.NewCore(slogt.New(t), 0, codec.NewDefault(), 0)
	disp := protocol.NewDispatcher(core, client, func() { atomic.AddInt32(&cancelled, 1) })
	disp.Start()

	srv := pgtest.NewServer(t, server)
	go srv.ReadStartup() // never replies, so the operation times out

	_, err := disp.Connect(context.Background(), 20*time.Millisecond, nil, auth.Trust{})
	require.Error(t, err)

	var timeoutErr *pgerr.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&cancelled) == 1
	}, time.Second, time.Millisecond)
}

func TestSecondOperationRejectedWhileOneInFlight(t *testing.T) {
	_, disp, srv := newHarness(t)

	go srv.ReadStartup() // never replies, Connect stays in flight

	errCh := make(chan error, 1)
	go func() {
		_, err := disp.Connect(context.Background(), time.Second, nil, auth.Trust{})
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)

	_, err := disp.SimpleQuery(context.Background(), 50*time.Millisecond, "select 1")
	var ifaceErr *pgerr.InterfaceError
	require.ErrorAs(t, err, &ifaceErr)
	require.Equal(t, pgerr.InProgress, ifaceErr.Code)

	<-errCh
}

func TestSimpleQueryDecodesRowsAndCommandTag(t *testing.T) {
	_, disp, srv := newHarness(t)
	connectTrust(t, disp, srv)

	done := make(chan struct{})
	go func() {
		defer close(done)

		tag, _ := srv.ReadMessage()
		if tag != byte(wire.FrontendQuery) {
			t.Errorf("expected Query, got tag %q", tag)
		}

		srv.RowDescription(pgtest.RowField{Name: "n", TypeOID: 23, Format: 0})
		srv.DataRow([]byte("7"))
		srv.CommandComplete("SELECT 1")
		srv.ReadyForQuery(wire.TxIdle)
	}()

	res, err := disp.SimpleQuery(context.Background(), time.Second, "select 7 as n")
	require.NoError(t, err)
	<-done

	require.Equal(t, "SELECT 1", res.CommandTag)
	require.Len(t, res.Rows, 1)
	require.EqualValues(t, 7, res.Rows[0].Value(0))
}

func TestServerErrorClassifiedAsUniqueViolation(t *testing.T) {
	_, disp, srv := newHarness(t)
	connectTrust(t, disp, srv)

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ReadMessage()
		srv.ErrorResponse(map[byte]string{'S': "ERROR", 'C': "23505", 'M': "duplicate key"})
		srv.ReadyForQuery(wire.TxInFailedTransact)
	}()

	_, err := disp.SimpleQuery(context.Background(), time.Second, "insert into t values (1)")
	<-done

	var uv *pgerr.UniqueViolationError
	require.ErrorAs(t, err, &uv)
	require.Equal(t, wire.TxInFailedTransact, disp.Core().TxStatus())
}

func TestCopyOutDeliversEveryChunkToSink(t *testing.T) {
	_, disp, srv := newHarness(t)
	connectTrust(t, disp, srv)

	go func() {
		srv.ReadMessage()
		srv.CopyOutResponse(0, 1)
		srv.CopyData([]byte("row1\n"))
		srv.CopyData([]byte("row2\n"))
		srv.CopyDone()
		srv.CommandComplete("COPY 2")
		srv.ReadyForQuery(wire.TxIdle)
	}()

	var got [][]byte
	res, err := disp.CopyOut(context.Background(), "copy t to stdout", func(b []byte) error {
		got = append(got, append([]byte(nil), b...))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "COPY 2", res.CommandTag)
	require.Equal(t, [][]byte{[]byte("row1\n"), []byte("row2\n")}, got)
}

func TestCopyInStreamsSourceUntilEOF(t *testing.T) {
	_, disp, srv := newHarness(t)
	connectTrust(t, disp, srv)

	var received []byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ReadMessage()
		srv.CopyInResponse(0, 1)

		for {
			tag, body := srv.ReadMessage()
			if tag == byte(wire.FrontendCopyData) {
				received = append(received, body...)
				continue
			}
			break
		}

		srv.CommandComplete("COPY 1")
		srv.ReadyForQuery(wire.TxIdle)
	}()

	chunks := [][]byte{[]byte("a,b\n"), []byte("c,d\n")}
	i := 0
	res, err := disp.CopyIn(context.Background(), "copy t from stdin", func() ([]byte, error) {
		if i >= len(chunks) {
			return nil, io.EOF
		}
		c := chunks[i]
		i++
		return c, nil
	})
	require.NoError(t, err)
	<-done

	require.Equal(t, "COPY 1", res.CommandTag)
	require.Equal(t, "a,b\nc,d\n", string(received))
}
