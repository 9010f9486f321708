package pgproto

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"net"

	"github.com/corvidlabs/pgproto/wire"
)

// SendCancelRequest opens an independent connection to address and sends
// a raw 16-byte CancelRequest carrying pid and secret, the out-of-band
// side channel PostgreSQL uses for query cancellation. The server closes
// the connection without any reply, so a nil return only means the
// request was sent, never that it was honored - the same best-effort
// contract pgx's CancelRequest implementation documents.
func SendCancelRequest(ctx context.Context, address string, pid, secret int32, tlsConfig *tls.Config) error {
	dialer := &net.Dialer{}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	defer conn.Close()

	var rw net.Conn = conn
	if tlsConfig != nil {
		tlsConn, err := upgradeTLS(ctx, conn, tlsConfig)
		if err == nil {
			rw = tlsConn
		}
	}

	msg := make([]byte, 16)
	binary.BigEndian.PutUint32(msg[0:4], 16)
	binary.BigEndian.PutUint32(msg[4:8], wire.CancelRequestCode)
	binary.BigEndian.PutUint32(msg[8:12], uint32(pid))
	binary.BigEndian.PutUint32(msg[12:16], uint32(secret))

	_, err = rw.Write(msg)
	return err
}
