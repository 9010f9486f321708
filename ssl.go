package pgproto

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"

	"github.com/corvidlabs/pgproto/buffer"
	"github.com/corvidlabs/pgproto/wire"
)

// requestSSL sends the pre-startup SSLRequest and reports whether the
// server agreed to negotiate TLS ('S') as opposed to refusing it ('N').
func requestSSL(conn net.Conn) (bool, error) {
	w := buffer.NewWriter()
	w.StartUntyped()
	w.WriteUint32(wire.SSLRequestCode)
	if err := w.EndUntyped(); err != nil {
		return false, err
	}

	if _, err := conn.Write(w.Bytes()); err != nil {
		return false, err
	}

	resp := make([]byte, 1)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return false, err
	}

	switch resp[0] {
	case 'S':
		return true, nil
	case 'N':
		return false, nil
	default:
		return false, errors.New("pgproto: unexpected byte in SSLRequest response")
	}
}

// upgradeTLS requests SSL negotiation and, if the server agrees, wraps
// conn in a TLS client connection and completes the handshake.
func upgradeTLS(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	ok, err := requestSSL(conn)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, errors.New("pgproto: server refused TLS negotiation")
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}

	return tlsConn, nil
}
