// Package session holds what clients and servers share: their configuration
// and the thin façade that owns the session id and forwards events to the
// application's sink.
package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cyberinferno/go-sockets/transport"
)

// Defaults applied by DefaultConfig.
const (
	DefaultIP             = "127.0.0.1"
	DefaultPort           = 9696
	DefaultMaxConnections = 24
	DefaultTransport      = "tcp"
	DefaultDialTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultRejectGrace    = 5 * time.Second
)

// Config configures a client or a server. Fields that only apply to one side
// are ignored by the other.
type Config struct {
	// ID names the session in events and logs. Empty means a random UUID.
	ID string
	// IP is the address to bind (server) or connect to (client).
	IP string
	// Port is the port to bind (server) or connect to (client). A server may
	// use 0 to let the kernel pick one; see Server.Addr.
	Port int
	// MaxConnections caps how many clients a server admits at once.
	MaxConnections int
	// Transport is "tcp" or "websocket".
	Transport string
	// DialTimeout bounds the client connect attempt.
	DialTimeout time.Duration
	// WriteTimeout bounds every write on a connection; 0 means none.
	WriteTimeout time.Duration
	// RejectGrace is how long a server keeps a rejected peer's socket open
	// waiting for the peer to close it.
	RejectGrace time.Duration
	// ClientData is sent by a client in its handshake.
	ClientData map[string]string
}

// DefaultConfig returns a Config with the documented defaults:
// 127.0.0.1:9696 over TCP, 24 connections, 10s dial and write timeouts and a
// 5s reject grace period.
func DefaultConfig() Config {
	return Config{
		IP:             DefaultIP,
		Port:           DefaultPort,
		MaxConnections: DefaultMaxConnections,
		Transport:      DefaultTransport,
		DialTimeout:    DefaultDialTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		RejectGrace:    DefaultRejectGrace,
	}
}

// Addr returns IP:Port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.IP == "" {
		return errors.New("config: ip is empty")
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}

	if c.MaxConnections < 0 {
		return fmt.Errorf("config: max connections %d is negative", c.MaxConnections)
	}

	if c.DialTimeout < 0 || c.WriteTimeout < 0 || c.RejectGrace < 0 {
		return errors.New("config: timeouts must not be negative")
	}

	if _, err := transport.ByName(c.Transport); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return nil
}
