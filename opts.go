package jsonrpc2

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
)

const logFlags = log.LstdFlags | log.Lshortfile

// VersionCheck controls how the "jsonrpc" version marker on inbound messages
// is validated.
type VersionCheck int

const (
	// VersionStrict requires every message to carry jsonrpc:"2.0".
	// This is the default.
	VersionStrict VersionCheck = iota

	// VersionLoose permits the marker to be omitted, but rejects any value
	// other than "2.0".
	VersionLoose

	// VersionIgnore skips the check entirely.
	VersionIgnore
)

// Defaults used when the corresponding option is zero.
const (
	defaultAddr         = ":3000"
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 5 * time.Second

	defaultReconnectionDelay    = 1 * time.Second
	defaultReconnectionDelayMax = 5 * time.Second
	defaultReconnectionJitter   = 0.5
	defaultMethodCallTimeout    = 20 * time.Second

	// Deadline for writing a single control message.
	writeWait = 10 * time.Second

	// How long a polite close waits for the peer's close reply before the
	// reader gives up.
	closeGrace = 5 * time.Second
)

// ServerOptions control the behaviour of a server created by NewServer.
// A nil *ServerOptions provides sensible defaults.
type ServerOptions struct {
	// The TCP address the server listens on when opened ("host:port").
	// If empty, ":3000" is used.
	Addr string

	// The interval between heartbeat pings. If zero, 25 seconds are used.
	PingInterval time.Duration

	// How long after a ping a session's pong may arrive before the session
	// is considered dead. If zero, 5 seconds are used.
	PingTimeout time.Duration

	// How the "jsonrpc" marker on inbound messages is validated.
	// The default is VersionStrict.
	VersionCheck VersionCheck

	// If not nil, this upgrader performs the WebSocket handshake for inbound
	// connections. By default any origin is accepted.
	Upgrader *websocket.Upgrader

	// Allows up to the specified number of handlers to execute concurrently
	// across all sessions. A value less than 1 uses runtime.NumCPU().
	Concurrency int

	// If not nil, send debug logs to this writer.
	LogWriter io.Writer
}

func (s *ServerOptions) addr() string {
	if s == nil || s.Addr == "" {
		return defaultAddr
	}
	return s.Addr
}

func (s *ServerOptions) pingInterval() time.Duration {
	if s == nil || s.PingInterval <= 0 {
		return defaultPingInterval
	}
	return s.PingInterval
}

func (s *ServerOptions) pingTimeout() time.Duration {
	if s == nil || s.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return s.PingTimeout
}

func (s *ServerOptions) versionCheck() VersionCheck {
	if s == nil {
		return VersionStrict
	}
	return s.VersionCheck
}

func (s *ServerOptions) upgrader() *websocket.Upgrader {
	if s == nil || s.Upgrader == nil {
		return &websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		}
	}
	return s.Upgrader
}

func (s *ServerOptions) concurrency() int64 {
	if s == nil || s.Concurrency < 1 {
		return int64(runtime.NumCPU())
	}
	return int64(s.Concurrency)
}

func (s *ServerOptions) logger() func(string, ...any) {
	if s == nil || s.LogWriter == nil {
		return func(string, ...any) {}
	}
	logger := log.New(s.LogWriter, "[jsonrpc2.Server] ", logFlags)
	return func(msg string, args ...any) { logger.Output(2, fmt.Sprintf(msg, args...)) }
}

// ClientOptions control the behaviour of a client created by NewClient.
// A nil *ClientOptions provides sensible defaults.
type ClientOptions struct {
	// Disables automatic reconnection after a lost connection.
	DisableReconnection bool

	// The number of reconnection attempts permitted before the client gives
	// up. A value less than 1 means no limit.
	ReconnectionAttempts int

	// The initial delay before a reconnection attempt. If zero, 1 second is
	// used. Successive delays double up to ReconnectionDelayMax.
	ReconnectionDelay time.Duration

	// The upper bound on reconnection delays. If zero, 5 seconds are used.
	ReconnectionDelayMax time.Duration

	// The jitter fraction applied symmetrically to each delay. If zero, 0.5
	// is used; a negative value disables jitter.
	ReconnectionJitter float64

	// How long a call waits for its response once the request has been
	// written. If zero, 20 seconds are used; a negative value disables the
	// timeout.
	MethodCallTimeout time.Duration

	// If not empty, these values are appended to the query string of the
	// dial URL.
	Query url.Values

	// The subprotocols offered during the WebSocket handshake.
	Protocols []string

	// If not nil, this dialer establishes the underlying connections.
	Dialer *websocket.Dialer

	// The number of outbound frames buffered while the connection is not
	// open, to be flushed in order on the next open. Zero disables
	// buffering: sends while not open fail with ErrNotConnected.
	SendBuffer int

	// How the "jsonrpc" marker on inbound messages is validated.
	// The default is VersionStrict.
	VersionCheck VersionCheck

	// If not nil, send debug logs to this writer.
	LogWriter io.Writer
}

func (c *ClientOptions) reconnection() bool { return c == nil || !c.DisableReconnection }

func (c *ClientOptions) reconnectionAttempts() int {
	if c == nil || c.ReconnectionAttempts < 1 {
		return 0 // no limit
	}
	return c.ReconnectionAttempts
}

func (c *ClientOptions) reconnectionDelay() time.Duration {
	if c == nil || c.ReconnectionDelay <= 0 {
		return defaultReconnectionDelay
	}
	return c.ReconnectionDelay
}

func (c *ClientOptions) reconnectionDelayMax() time.Duration {
	if c == nil || c.ReconnectionDelayMax <= 0 {
		return defaultReconnectionDelayMax
	}
	return c.ReconnectionDelayMax
}

func (c *ClientOptions) reconnectionJitter() float64 {
	if c == nil || c.ReconnectionJitter == 0 {
		return defaultReconnectionJitter
	}
	if c.ReconnectionJitter < 0 {
		return 0
	}
	return c.ReconnectionJitter
}

func (c *ClientOptions) methodCallTimeout() time.Duration {
	if c == nil || c.MethodCallTimeout == 0 {
		return defaultMethodCallTimeout
	}
	if c.MethodCallTimeout < 0 {
		return 0 // no timeout
	}
	return c.MethodCallTimeout
}

func (c *ClientOptions) query() url.Values {
	if c == nil {
		return nil
	}
	return c.Query
}

func (c *ClientOptions) dialer() *websocket.Dialer {
	d := websocket.DefaultDialer
	if c != nil && c.Dialer != nil {
		d = c.Dialer
	}
	if c != nil && len(c.Protocols) != 0 {
		cp := *d
		cp.Subprotocols = c.Protocols
		return &cp
	}
	return d
}

func (c *ClientOptions) sendBuffer() int {
	if c == nil || c.SendBuffer < 0 {
		return 0
	}
	return c.SendBuffer
}

func (c *ClientOptions) versionCheck() VersionCheck {
	if c == nil {
		return VersionStrict
	}
	return c.VersionCheck
}

func (c *ClientOptions) logger() func(string, ...any) {
	if c == nil || c.LogWriter == nil {
		return func(string, ...any) {}
	}
	logger := log.New(c.LogWriter, "[jsonrpc2.Client] ", logFlags)
	return func(msg string, args ...any) { logger.Output(2, fmt.Sprintf(msg, args...)) }
}
