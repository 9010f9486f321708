// Package auth implements the client side of the three password-based
// authentication methods PostgreSQL offers: cleartext, salted MD5, and
// SASL/SCRAM-SHA-256. Each Authenticator answers a server challenge rather
// than validating one, which is the client's half of the handshake.
package auth

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/xdg-go/scram"

	"github.com/corvidlabs/pgproto/buffer"
	"github.com/corvidlabs/pgproto/wire"
)

// Authenticator answers a single Authentication sub-message from the
// server by writing the frontend reply (PasswordMessage or a SASL
// response) into w. Respond writes the whole message, Start through
// EndTagged; the Dispatcher's read loop sends whatever Core's writer holds
// afterwards. A nil return with no write means the code needs no
// client reply (AuthOK is handled by Core directly and never reaches an
// Authenticator).
type Authenticator interface {
	Respond(code wire.AuthCode, data []byte, w *buffer.Writer) error
}

// Trust is the Authenticator used when the server requires no password at
// all; it is never actually invoked since the server skips straight to
// AuthOK, but is provided so callers always have a non-nil Authenticator.
type Trust struct{}

func (Trust) Respond(code wire.AuthCode, _ []byte, _ *buffer.Writer) error {
	return fmt.Errorf("pgproto: unexpected authentication request %d under trust auth", code)
}

// ClearTextPassword replies to an AuthCleartextPassword challenge with the
// password in the clear.
type ClearTextPassword struct {
	Password string
}

func (a ClearTextPassword) Respond(code wire.AuthCode, _ []byte, w *buffer.Writer) error {
	if code != wire.AuthCleartextPassword {
		return fmt.Errorf("pgproto: cleartext authenticator cannot answer code %d", code)
	}

	w.Start(byte(wire.FrontendPasswordMessage))
	w.WriteCString(a.Password)
	return w.EndTagged()
}

// Md5Password replies to an AuthMD5Password challenge using PostgreSQL's
// salted-MD5 scheme: "md5" + md5(md5(password+username) + salt).
type Md5Password struct {
	Username string
	Password string
}

func (a Md5Password) Respond(code wire.AuthCode, data []byte, w *buffer.Writer) error {
	if code != wire.AuthMD5Password {
		return fmt.Errorf("pgproto: md5 authenticator cannot answer code %d", code)
	}

	if len(data) != 4 {
		return fmt.Errorf("pgproto: md5 auth salt must be 4 bytes, got %d", len(data))
	}

	inner := md5Hex(a.Password + a.Username)
	outer := md5Hex(inner + string(data))

	w.Start(byte(wire.FrontendPasswordMessage))
	w.WriteCString("md5" + outer)
	return w.EndTagged()
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ScramSHA256 performs the SASL/SCRAM-SHA-256 exchange (AuthSASL ->
// AuthSASLContinue -> AuthSASLFinal), wrapping github.com/xdg-go/scram for
// the conversation state machine.
type ScramSHA256 struct {
	Username string
	Password string

	conv *scram.ClientConversation
}

const scramMechanism = "SCRAM-SHA-256"

func (a *ScramSHA256) Respond(code wire.AuthCode, data []byte, w *buffer.Writer) error {
	switch code {
	case wire.AuthSASL:
		return a.respondInitial(data, w)
	case wire.AuthSASLContinue:
		return a.respondContinue(data, w)
	case wire.AuthSASLFinal:
		return a.respondFinal(data)
	default:
		return fmt.Errorf("pgproto: scram authenticator cannot answer code %d", code)
	}
}

func (a *ScramSHA256) respondInitial(data []byte, w *buffer.Writer) error {
	if !mechanismOffered(data, scramMechanism) {
		return errors.New("pgproto: server did not offer SCRAM-SHA-256")
	}

	client, err := scram.SHA256.NewClient(a.Username, a.Password, "")
	if err != nil {
		return fmt.Errorf("pgproto: building scram client: %w", err)
	}

	a.conv = client.NewConversation()
	first, err := a.conv.Step("")
	if err != nil {
		return fmt.Errorf("pgproto: scram client-first: %w", err)
	}

	w.Start(byte(wire.FrontendSASLInitial))
	w.WriteCString(scramMechanism)
	w.WriteLengthPrefixed([]byte(first))
	return w.EndTagged()
}

func (a *ScramSHA256) respondContinue(data []byte, w *buffer.Writer) error {
	if a.conv == nil {
		return errors.New("pgproto: scram continue received before initial response")
	}

	final, err := a.conv.Step(string(data))
	if err != nil {
		return fmt.Errorf("pgproto: scram client-final: %w", err)
	}

	w.Start(byte(wire.FrontendSASLResponse))
	w.WriteBytes([]byte(final))
	return w.EndTagged()
}

func (a *ScramSHA256) respondFinal(data []byte) error {
	if a.conv == nil {
		return errors.New("pgproto: scram final received before initial response")
	}

	if _, err := a.conv.Step(string(data)); err != nil {
		return fmt.Errorf("pgproto: scram server verification failed: %w", err)
	}

	if !a.conv.Valid() {
		return errors.New("pgproto: scram server signature invalid")
	}

	return nil
}

// Auto dispatches to whichever of ClearTextPassword, Md5Password, or
// ScramSHA256 the server actually challenges with, so callers that don't
// know the server's configured auth method ahead of time can use one
// Authenticator regardless.
func Auto(username, password string) Authenticator {
	return &autoAuthenticator{username: username, password: password}
}

type autoAuthenticator struct {
	username, password string
	scram               *ScramSHA256
}

func (a *autoAuthenticator) Respond(code wire.AuthCode, data []byte, w *buffer.Writer) error {
	switch code {
	case wire.AuthCleartextPassword:
		return ClearTextPassword{Password: a.password}.Respond(code, data, w)
	case wire.AuthMD5Password:
		return Md5Password{Username: a.username, Password: a.password}.Respond(code, data, w)
	case wire.AuthSASL, wire.AuthSASLContinue, wire.AuthSASLFinal:
		if a.scram == nil {
			a.scram = &ScramSHA256{Username: a.username, Password: a.password}
		}

		return a.scram.Respond(code, data, w)
	default:
		return fmt.Errorf("pgproto: unsupported authentication method %d", code)
	}
}

// mechanismOffered scans the NUL-separated, empty-string-terminated
// mechanism list carried by an AuthSASL message for name.
func mechanismOffered(data []byte, name string) bool {
	start := 0
	for i, b := range data {
		if b != 0 {
			continue
		}

		if string(data[start:i]) == name {
			return true
		}

		start = i + 1
	}

	return false
}
