package pgproto

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/corvidlabs/pgproto/buffer"
	"github.com/corvidlabs/pgproto/protocol"
)

// Config holds every tunable of a Conn, built up by Option functions
// passed to Connect and consumed once at dial time.
type Config struct {
	Password         string
	ApplicationName  string
	ConnectTimeout   time.Duration
	CommandTimeout   time.Duration
	TLSConfig        *tls.Config
	Logger           *slog.Logger
	MaxMessageSize   int
	CopyFlushThreshold int

	extraParams []protocol.StartupParam
}

// Option mutates a Config before Connect dials.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		ConnectTimeout:     10 * time.Second,
		CommandTimeout:     30 * time.Second,
		MaxMessageSize:     buffer.DefaultMaxMessageSize,
		CopyFlushThreshold: buffer.DefaultCopyFlushThreshold,
	}
}

// WithPassword sets the password offered to whichever auth method the
// server challenges with.
func WithPassword(password string) Option {
	return func(c *Config) { c.Password = password }
}

// WithApplicationName sets the application_name startup parameter.
func WithApplicationName(name string) Option {
	return func(c *Config) { c.ApplicationName = name }
}

// WithConnectTimeout bounds the dial and the connect()/auth handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

// WithCommandTimeout bounds every operation issued after Connect returns
// except CopyOut and CopyIn, which run with no timeout of their own. A
// caller's context deadline applies as well; whichever expires first ends
// the operation.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Config) { c.CommandTimeout = d }
}

// WithTLSConfig enables TLS, negotiated via the SSLRequest handshake
// before the startup message is sent.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Config) { c.TLSConfig = cfg }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithMaxMessageSize overrides the inbound message size cap.
func WithMaxMessageSize(n int) Option {
	return func(c *Config) { c.MaxMessageSize = n }
}

// WithCopyFlushThreshold overrides the COPY IN chunking threshold.
func WithCopyFlushThreshold(n int) Option {
	return func(c *Config) { c.CopyFlushThreshold = n }
}

// WithStartupParam adds an extra StartupMessage parameter beyond user,
// database, and application_name (e.g. "search_path" or "timezone").
func WithStartupParam(name, value string) Option {
	return func(c *Config) {
		c.extraParams = append(c.extraParams, protocol.StartupParam{Name: name, Value: value})
	}
}
