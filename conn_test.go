package pgproto_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/pgproto/pgerr"
	"github.com/corvidlabs/pgproto/pgtest"
	"github.com/corvidlabs/pgproto/wire"

	pgproto "github.com/corvidlabs/pgproto"
)

// acceptOne starts a TCP listener and hands the first accepted connection to
// serve, returning the listener's address. serve runs on its own goroutine;
// the test must read from done before asserting on anything serve touched.
func acceptOne(t *testing.T, serve func(srv *pgtest.Server)) (addr string, done <-chan struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan struct{})
	go func() {
		defer close(ch)

		conn, err := ln.Accept()
		if err != nil {
			return
		}
		t.Cleanup(func() { conn.Close() })

		serve(pgtest.NewServer(t, conn))
	}()

	return ln.Addr().String(), ch
}

func TestConnectPerformsHandshakeAndRecordsSettings(t *testing.T) {
	addr, handshakeDone := acceptOne(t, func(srv *pgtest.Server) {
		srv.ReadStartup()
		srv.AuthOK()
		srv.ParameterStatus("server_version", "16.1")
		srv.BackendKeyData(7, 1234)
		srv.ReadyForQuery(wire.TxIdle)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := pgproto.Connect(ctx, addr, "widgets", "alice", pgproto.WithLogger(slogt.New(t)))
	require.NoError(t, err)
	defer conn.Close()

	<-handshakeDone
	require.Equal(t, "16.1", conn.Settings()["server_version"])
	require.Equal(t, wire.TxIdle, conn.TxStatus())
}

func TestPrepareBindExecuteWithNullArgument(t *testing.T) {
	serverDone := make(chan struct{})
	addr, _ := acceptOne(t, func(srv *pgtest.Server) {
		defer close(serverDone)

		srv.ReadStartup()
		srv.AuthOK()
		srv.ReadyForQuery(wire.TxIdle)

		tag, _ := srv.ReadMessage() // Parse
		require.Equal(t, byte(wire.FrontendParse), tag)
		srv.ReadMessage() // Describe
		srv.ReadMessage() // Sync
		srv.ParseComplete()
		srv.ParameterDescription(23, 25)
		srv.RowDescription(pgtest.RowField{Name: "id", TypeOID: 23}, pgtest.RowField{Name: "note", TypeOID: 25})
		srv.ReadyForQuery(wire.TxIdle)

		srv.ReadMessage() // Bind
		srv.ReadMessage() // Describe(Portal)
		srv.ReadMessage() // Execute
		srv.ReadMessage() // Sync
		srv.BindComplete()
		srv.RowDescription(pgtest.RowField{Name: "id", TypeOID: 23}, pgtest.RowField{Name: "note", TypeOID: 25})
		srv.DataRow([]byte("1"), nil)
		srv.CommandComplete("INSERT 0 1")
		srv.ReadyForQuery(wire.TxIdle)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := pgproto.Connect(ctx, addr, "widgets", "alice", pgproto.WithLogger(slogt.New(t)))
	require.NoError(t, err)
	defer conn.Close()

	stmt, err := conn.Prepare(ctx, "", "insert into widgets (id, note) values ($1, $2) returning id, note")
	require.NoError(t, err)

	res, err := stmt.BindExecute(ctx, 1, nil)
	require.NoError(t, err)
	<-serverDone

	require.Equal(t, "INSERT 0 1", res.CommandTag)
	require.Len(t, res.Rows, 1)
	require.EqualValues(t, 1, res.Rows[0].Value(0))
	require.Nil(t, res.Rows[0].Value(1))
}

func TestQuerySurfacesClassifiedServerError(t *testing.T) {
	serverDone := make(chan struct{})
	addr, _ := acceptOne(t, func(srv *pgtest.Server) {
		defer close(serverDone)

		srv.ReadStartup()
		srv.AuthOK()
		srv.ReadyForQuery(wire.TxIdle)

		srv.ReadMessage() // Query
		srv.ErrorResponse(map[byte]string{'S': "ERROR", 'C': "23505", 'M': "duplicate key value"})
		srv.ReadyForQuery(wire.TxInFailedTransact)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := pgproto.Connect(ctx, addr, "widgets", "alice", pgproto.WithLogger(slogt.New(t)))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Query(ctx, "insert into widgets (id) values (1)")
	<-serverDone

	var uv *pgerr.UniqueViolationError
	require.ErrorAs(t, err, &uv)
}

func TestExecManyRunsEachRowOverOneSync(t *testing.T) {
	serverDone := make(chan struct{})
	addr, _ := acceptOne(t, func(srv *pgtest.Server) {
		defer close(serverDone)

		srv.ReadStartup()
		srv.AuthOK()
		srv.ReadyForQuery(wire.TxIdle)

		srv.ReadMessage() // Parse
		srv.ReadMessage() // Describe
		srv.ReadMessage() // Sync
		srv.ParseComplete()
		srv.ParameterDescription(23)
		srv.NoData()
		srv.ReadyForQuery(wire.TxIdle)

		for i := 0; i < 3; i++ {
			srv.ReadMessage() // Bind
			srv.ReadMessage() // Execute
		}
		srv.ReadMessage() // Sync
		for i := 0; i < 3; i++ {
			srv.BindComplete()
			srv.CommandComplete("INSERT 0 1")
		}
		srv.ReadyForQuery(wire.TxIdle)

		srv.ReadMessage() // Close
		srv.ReadMessage() // Sync
		srv.CloseComplete()
		srv.ReadyForQuery(wire.TxIdle)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := pgproto.Connect(ctx, addr, "widgets", "alice", pgproto.WithLogger(slogt.New(t)))
	require.NoError(t, err)
	defer conn.Close()

	res, err := conn.ExecMany(ctx, "insert into widgets (id) values ($1)", [][]any{{1}, {2}, {3}})
	require.NoError(t, err)
	<-serverDone

	require.Equal(t, "INSERT 0 1", res.CommandTag)
}

func TestNotificationCallbackFiresOutsideAnyOperation(t *testing.T) {
	serverDone := make(chan struct{})
	handlerInstalled := make(chan struct{})
	addr, _ := acceptOne(t, func(srv *pgtest.Server) {
		defer close(serverDone)

		srv.ReadStartup()
		srv.AuthOK()
		srv.ReadyForQuery(wire.TxIdle)

		<-handlerInstalled
		srv.NotificationResponse(99, "widget_updates", "42")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := pgproto.Connect(ctx, addr, "widgets", "alice", pgproto.WithLogger(slogt.New(t)))
	require.NoError(t, err)
	defer conn.Close()

	notified := make(chan pgproto.Notification, 1)
	conn.OnNotification(func(n pgproto.Notification) { notified <- n })
	close(handlerInstalled)

	<-serverDone

	select {
	case n := <-notified:
		require.EqualValues(t, 99, n.PID)
		require.Equal(t, "widget_updates", n.Channel)
		require.Equal(t, "42", n.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification callback")
	}
}
