// Package transport moves opaque frames between two endpoints. The session
// layer above it never touches sockets directly; it only needs a Listener on
// the server side, a Dial on the client side, and a Conn that reads and
// writes whole frames.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	// Backlog is the number of pending incoming connections a listener holds
	// before the accept loop picks them up.
	Backlog = 200

	// MaxFrameSize caps a single frame.
	MaxFrameSize = 16 * 1024 * 1024
)

var (
	// ErrFrameTooLarge is returned when a peer announces or a caller writes a
	// frame above MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrUnknownTransport is returned by ByName.
	ErrUnknownTransport = errors.New("unknown transport")
)

// Conn is one established, bidirectional frame stream. ReadFrame must only be
// called from one goroutine at a time and so must WriteFrame; the two may run
// concurrently. Close may be called from any goroutine and unblocks a pending
// ReadFrame.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
	LocalAddr() string
}

// Listener accepts incoming Conns. Close unblocks a pending Accept, which
// then returns an error wrapping net.ErrClosed.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// Transport creates listeners and outgoing connections.
type Transport interface {
	Name() string
	Listen(addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Conn, error)
}

// ByName returns the transport registered under name: "tcp" or "websocket"
// ("ws" is accepted as an alias).
func ByName(name string) (Transport, error) {
	switch name {
	case "", "tcp":
		return TCP{}, nil
	case "websocket", "ws":
		return NewWebSocket(DefaultWebSocketPath), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, name)
	}
}
