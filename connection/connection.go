// Package connection implements the handle shared by clients and servers:
// one transport connection plus the active flag that records, exactly once,
// that the handle has been disconnected.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cyberinferno/go-sockets/message"
	"github.com/cyberinferno/go-sockets/transport"
)

var errClosed = errors.New("connection closed")

// Option configures a Connection.
type Option func(*Connection)

// WithID sets the handle id. Servers assign ids from an idgenerator; clients
// usually leave it 0.
func WithID(id uint32) Option {
	return func(c *Connection) { c.id = id }
}

// WithOwner records the identity of the session that owns the handle.
func WithOwner(owner string) Option {
	return func(c *Connection) { c.owner = owner }
}

// WithWriteTimeout bounds every write. 0 disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Connection) { c.writeTimeout = d }
}

// Connection is a live handle around one transport connection.
//
// Two independent bits of state are tracked. closed says the transport has
// been released; it is set by Close and by a failed write. active says the
// handle still belongs to its owner; it is cleared exactly once, by whoever
// wins Deactivate, and that winner is responsible for the disconnect
// notification.
type Connection struct {
	id           uint32
	owner        string
	conn         transport.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu     sync.Mutex
	active bool
	closed bool
	broken bool
}

// Wrap builds a handle around an accepted connection (server mode).
func Wrap(conn transport.Conn, opts ...Option) *Connection {
	c := &Connection{conn: conn, active: true}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Dial connects to ip:port over tr (client mode).
//
// Returns:
//   - The open handle, or an error wrapping ErrConnectFailure
func Dial(ctx context.Context, tr transport.Transport, ip string, port int, opts ...Option) (*Connection, error) {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	conn, err := tr.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrConnectFailure, tr.Name(), addr, err)
	}

	return Wrap(conn, opts...), nil
}

// ID returns the handle id.
func (c *Connection) ID() uint32 { return c.id }

// Owner returns the owning session's identity.
func (c *Connection) Owner() string { return c.owner }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string { return c.conn.RemoteAddr() }

// LocalAddr returns the local address.
func (c *Connection) LocalAddr() string { return c.conn.LocalAddr() }

func (c *Connection) String() string {
	return fmt.Sprintf("connection#%d(%s)", c.id, c.conn.RemoteAddr())
}

// Send writes one message and reports whether it went out. It never returns
// an error; use Write when the cause matters.
//
// Parameters:
//   - msg: The message to encode and write
//
// Returns:
//   - true if the whole frame was written
func (c *Connection) Send(msg message.Message) bool {
	return c.Write(msg) == nil
}

// Write encodes and writes one message.
//
// Returns:
//   - nil on success, or an error wrapping ErrSendFailure
func (c *Connection) Write(msg message.Message) error {
	frame, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailure, err)
	}

	return c.WriteFrame(frame)
}

// SendFrame writes an already encoded message. Broadcasts encode once and
// fan the frame out with it.
//
// Parameters:
//   - frame: An encoded message, as returned by message.Encode
//
// Returns:
//   - true if the frame was written
func (c *Connection) SendFrame(frame []byte) bool {
	return c.WriteFrame(frame) == nil
}

// WriteFrame writes an already encoded message. Writes on one handle are
// serialized. A transport write error closes the handle so that its reader
// fails promptly, but leaves the active flag alone.
func (c *Connection) WriteFrame(frame []byte) error {
	if c.Closed() {
		return fmt.Errorf("%w: %w", ErrSendFailure, errClosed)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			c.fail()
			return fmt.Errorf("%w: %w", ErrSendFailure, err)
		}

		defer func() {
			_ = c.conn.SetWriteDeadline(time.Time{})
		}()
	}

	if err := c.conn.WriteFrame(frame); err != nil {
		c.fail()
		return fmt.Errorf("%w: %w", ErrSendFailure, err)
	}

	return nil
}

// Read blocks until one whole message arrives.
//
// Returns:
//   - The message, or an error wrapping ErrReadFailure on peer close,
//     transport error or an undecodable frame
func (c *Connection) Read() (message.Message, error) {
	frame, err := c.conn.ReadFrame()
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: %w", ErrReadFailure, err)
	}

	msg, err := message.Decode(frame)
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: %w", ErrReadFailure, err)
	}

	return msg, nil
}

// Close releases the transport. It is idempotent and may be called while
// another goroutine is blocked in Read, which then fails.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close()
}

func (c *Connection) fail() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()

	_ = c.Close()
}

// Active reports whether the handle has not been deactivated yet.
func (c *Connection) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Deactivate clears the active flag. Only the first call returns true; the
// caller that gets true owns the disconnect notification for this handle.
//
// Returns:
//   - true if this call made the active to inactive transition
func (c *Connection) Deactivate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return false
	}

	c.active = false
	return true
}

// Closed reports whether the transport has been released.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Broken reports whether a write has failed on this handle.
func (c *Connection) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}
