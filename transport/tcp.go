package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// TCP frames every message with a 4-byte little-endian length prefix.
// Zero-length frames are treated as keepalives and skipped by ReadFrame.
//
// The listen backlog is the kernel's (net.core.somaxconn on Linux); the
// standard library offers no portable way to pass Backlog to listen(2).
type TCP struct {
	// KeepAlive is passed to the dialer and listener; 0 uses the Go default.
	KeepAlive time.Duration
}

// Name implements Transport.
func (TCP) Name() string { return "tcp" }

// Listen implements Transport.
func (t TCP) Listen(addr string) (Listener, error) {
	lc := net.ListenConfig{KeepAlive: t.KeepAlive}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	return &tcpListener{ln: ln}, nil
}

// Dial implements Transport.
func (t TCP) Dial(ctx context.Context, addr string) (Conn, error) {
	d := net.Dialer{KeepAlive: t.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	return NewTCPConn(conn), nil
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}

	return NewTCPConn(conn), nil
}

func (l *tcpListener) Close() error   { return l.ln.Close() }
func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

type tcpConn struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewTCPConn frames an already established net.Conn.
func NewTCPConn(conn net.Conn) Conn {
	return &tcpConn{conn: conn, r: bufio.NewReader(conn)}
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	var header [4]byte
	for {
		if _, err := io.ReadFull(c.r, header[:]); err != nil {
			return nil, err
		}

		n := binary.LittleEndian.Uint32(header[:])
		if n == 0 {
			continue
		}

		if n > MaxFrameSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
		}

		frame := make([]byte, n)
		if _, err := io.ReadFull(c.r, frame); err != nil {
			return nil, err
		}

		return frame, nil
	}
}

func (c *tcpConn) WriteFrame(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}

	buf := make([]byte, 4+len(frame))
	binary.LittleEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[4:], frame)

	_, err := c.conn.Write(buf)
	return err
}

func (c *tcpConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Close shuts down the write side before releasing the socket so the peer
// sees an orderly FIN. Closing the net.Conn wakes a goroutine blocked in
// ReadFrame.
func (c *tcpConn) Close() error {
	if tc, ok := c.conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
func (c *tcpConn) LocalAddr() string  { return c.conn.LocalAddr().String() }
