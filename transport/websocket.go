package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWebSocketPath is the HTTP path the WebSocket transport upgrades on.
const DefaultWebSocketPath = "/ws"

// WebSocket carries each frame as one binary WebSocket message.
type WebSocket struct {
	Path     string
	Upgrader websocket.Upgrader
	Dialer   *websocket.Dialer
}

// NewWebSocket returns a WebSocket transport serving and dialing path.
// Origins are not checked: peers are programs, not browsers.
func NewWebSocket(path string) *WebSocket {
	if path == "" {
		path = DefaultWebSocketPath
	}

	return &WebSocket{
		Path: path,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Name implements Transport.
func (w *WebSocket) Name() string { return "websocket" }

// Listen binds addr synchronously, so bind failures are reported here, then
// serves upgrades in the background. Upgraded connections queue up to
// Backlog deep until Accept takes them.
func (w *WebSocket) Listen(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &wsListener{
		ln:       ln,
		path:     w.Path,
		upgrader: w.Upgrader,
		conns:    make(chan Conn, Backlog),
		done:     make(chan struct{}),
	}
	l.srv = &http.Server{
		Handler:           l,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = l.srv.Serve(ln)
	}()

	return l, nil
}

// Dial implements Transport.
func (w *WebSocket) Dial(ctx context.Context, addr string) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: w.Path}

	dialer := w.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", u.String(), err)
	}

	return newWSConn(ws), nil
}

type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	path     string
	upgrader websocket.Upgrader
	conns    chan Conn
	done     chan struct{}
	once     sync.Once
}

func (l *wsListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != l.path {
		http.NotFound(w, r)
		return
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := newWSConn(ws)
	select {
	case l.conns <- conn:
	case <-l.done:
		_ = conn.Close()
	}
}

func (l *wsListener) Accept() (Conn, error) {
	select {
	case <-l.done:
		return nil, fmt.Errorf("websocket accept: %w", net.ErrClosed)
	default:
	}

	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, fmt.Errorf("websocket accept: %w", net.ErrClosed)
	}
}

// Close stops the HTTP server and closes connections that were upgraded but
// never accepted. Connections already returned by Accept are untouched.
func (l *wsListener) Close() error {
	err := net.ErrClosed
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()

		for {
			select {
			case conn := <-l.conns:
				_ = conn.Close()
			default:
				return
			}
		}
	})

	return err
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }

type wsConn struct {
	ws *websocket.Conn
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(MaxFrameSize)
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}

		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}

		if len(data) == 0 {
			continue
		}

		return data, nil
	}
}

func (c *wsConn) WriteFrame(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}

	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }
func (c *wsConn) LocalAddr() string  { return c.ws.LocalAddr().String() }
