// Package client implements the connecting half of the session layer: one
// goroutine per Client connects to a server, performs the sync handshake and
// then reads until the connection ends, reporting every transition as an
// event.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cyberinferno/go-sockets/connection"
	"github.com/cyberinferno/go-sockets/event"
	"github.com/cyberinferno/go-sockets/logger"
	"github.com/cyberinferno/go-sockets/message"
	"github.com/cyberinferno/go-sockets/session"
	"github.com/cyberinferno/go-sockets/transport"
)

// State is the lifecycle state of a Client.
type State int

const (
	Created      State = iota // Constructed, Start not called yet
	Connecting                // Dial in progress
	Connected                 // Handshake sent, read loop running
	Disconnected              // Connection ended by the peer or a transport error
	Failed                    // Connect or handshake failed
	Closed                    // Stopped by the application
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case Failed:
		return "Failed"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var (
	// ErrAlreadyStarted is returned by Start on a second call.
	ErrAlreadyStarted = errors.New("client already started")

	// ErrNotConnected is carried by MESSAGE_SENT_FAILED when Send is called
	// before a connection exists.
	ErrNotConnected = errors.New("client not connected")
)

// Option configures a Client.
type Option func(*options)

type options struct {
	sink      event.Sink
	log       logger.Logger
	transport transport.Transport
}

// WithSink sets the event sink. Defaults to event.Discard.
func WithSink(s event.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithTransport overrides the transport named in the config.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// Client owns at most one connection to a server.
type Client struct {
	sess *session.Session
	log  logger.Logger
	tr   transport.Transport
	ip   string
	port int

	// mu guards the fields below. It is never held across blocking I/O, so
	// Stop can always take it while the read loop is parked in Read.
	mu           sync.Mutex
	conn         *connection.Connection
	state        State
	started      bool
	threadActive bool
	terminated   bool
	cancelDial   context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Client for cfg. Nothing touches the network until Start.
//
// Returns:
//   - The client, or an error if cfg is invalid
func New(cfg session.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	tr := o.transport
	if tr == nil {
		var err error
		if tr, err = transport.ByName(cfg.Transport); err != nil {
			return nil, err
		}
	}

	sess := session.New(event.SideClient, cfg, o.sink, o.log)
	return &Client{
		sess:  sess,
		log:   sess.Logger().With(logger.Field{Key: "addr", Value: cfg.Addr()}),
		tr:    tr,
		ip:    cfg.IP,
		port:  cfg.Port,
		state: Created,
	}, nil
}

// Start launches the connection goroutine and returns immediately. The
// outcome is reported through events: INIT_SUCCESS and CONNECTED, or
// INIT_FAILURE.
//
// Returns:
//   - ErrAlreadyStarted if the client was started or stopped before
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.terminated {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.started = true
	c.threadActive = true
	c.state = Connecting
	c.cancelDial = cancel

	c.wg.Add(1)
	go c.run(ctx)

	return nil
}

// Stop ends the client: the read loop stops, the connection is closed and
// CLOSED is emitted. It is safe to call repeatedly and concurrently with the
// read loop. If the connection already ended on its own (DISCONNECTED or
// INIT_FAILURE was emitted), Stop emits nothing. Stop does not wait for the
// goroutine to exit; use Wait for that.
func (c *Client) Stop() {
	if !c.disconnect(Closed) {
		return
	}

	c.log.Info("client stopped")
	c.sess.Emit(event.Event{Kind: event.Closed, Text: "client stopped"})
}

// Wait blocks until the connection goroutine has exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Send writes msg to the server. On failure it emits MESSAGE_SENT_FAILED and
// returns false; it never panics or blocks on the read loop.
//
// Parameters:
//   - msg: The message to send
//
// Returns:
//   - true if the message was written
func (c *Client) Send(msg message.Message) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	err := ErrNotConnected
	if conn != nil {
		err = conn.Write(msg)
	}

	if err != nil {
		c.log.Debug("client send failed", logger.Field{Key: "kind", Value: msg.Kind}, logger.Err(err))
		c.sess.Emit(event.Event{Kind: event.MessageSentFailed, Peer: peerOf(conn), Payload: msg, Err: err})
		return false
	}

	return true
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsActive reports whether the connection goroutine is still meant to run.
func (c *Client) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadActive
}

// ServerIP returns the configured server address.
func (c *Client) ServerIP() string { return c.ip }

// ServerPort returns the configured server port.
func (c *Client) ServerPort() int { return c.port }

// Session returns the client's session.
func (c *Client) Session() *session.Session { return c.sess }

// ID returns the session id, which is also the id sent in the handshake.
func (c *Client) ID() string { return c.sess.ID() }

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	cfg := c.sess.Config()
	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	c.log.Debug("client connecting", logger.Field{Key: "transport", Value: c.tr.Name()})
	conn, err := connection.Dial(dialCtx, c.tr, c.ip, c.port,
		connection.WithOwner(c.sess.ID()),
		connection.WithWriteTimeout(cfg.WriteTimeout),
	)
	if err != nil {
		c.fail(err)
		return
	}

	c.mu.Lock()
	if !c.threadActive {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.log.Info("client connected", logger.Field{Key: "local", Value: conn.LocalAddr()})
	c.sess.Emit(event.Event{Kind: event.InitSuccess, Peer: conn, Text: fmt.Sprintf("connected to %s", cfg.Addr())})
	c.sess.Emit(event.Event{Kind: event.Connected, Peer: conn})

	hello := message.NewSyncClientData(message.ClientData{ID: c.sess.ID(), Meta: cfg.ClientData})
	if err := conn.Write(hello); err != nil {
		c.fail(fmt.Errorf("handshake: %w", err))
		return
	}

	reason := c.readLoop(conn)
	if c.disconnect(Disconnected) {
		c.log.Info("client disconnected", logger.Err(reason))
		c.sess.Emit(event.Event{Kind: event.Disconnected, Peer: conn, Err: reason})
	}
}

func (c *Client) readLoop(conn *connection.Connection) error {
	for {
		c.mu.Lock()
		active := c.threadActive
		c.mu.Unlock()

		if !active {
			return nil
		}

		msg, err := conn.Read()
		if err != nil {
			return err
		}

		if err := c.dispatch(conn, msg); err != nil {
			return err
		}
	}
}

func (c *Client) dispatch(conn *connection.Connection, msg message.Message) error {
	switch msg.Kind {
	case message.KindServerFull:
		var full message.ServerFull
		if err := msg.Decode(&full); err != nil {
			c.log.Warn("malformed server_full message", logger.Err(err))
		}

		c.log.Warn("server rejected connection", logger.Field{Key: "max_connections", Value: full.MaxConnections})
		c.sess.Emit(event.Event{Kind: event.ServerFull, Peer: conn, Payload: msg, Err: connection.ErrCapacityExceeded})
		return fmt.Errorf("%w: server admits %d connections", connection.ErrCapacityExceeded, full.MaxConnections)
	default:
		if msg.IsCore() {
			c.log.Debug("ignoring core message", logger.Field{Key: "kind", Value: msg.Kind})
			return nil
		}

		c.sess.Emit(event.Event{Kind: event.MessageReceived, Peer: conn, Payload: msg})
		return nil
	}
}

// fail ends a connection attempt that never became established.
func (c *Client) fail(err error) {
	if !c.disconnect(Failed) {
		return
	}

	c.log.Error("client failed to connect", logger.Err(err))
	c.sess.Emit(event.Event{Kind: event.InitFailure, Text: err.Error(), Err: err})
}

// disconnect marks the goroutine inactive and closes the connection. Every
// path that ends the client goes through it; only the first caller gets true
// and with it the duty to emit the terminal event.
func (c *Client) disconnect(final State) bool {
	c.mu.Lock()
	c.threadActive = false
	conn := c.conn
	cancel := c.cancelDial
	first := !c.terminated
	if first {
		c.terminated = true
		c.state = final
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		conn.Deactivate()
		_ = conn.Close()
	}

	return first
}

func peerOf(conn *connection.Connection) event.Peer {
	if conn == nil {
		return nil
	}

	return conn
}
