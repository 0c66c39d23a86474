// Package server implements the listening half of the session layer. A
// Server runs one accept goroutine for its lifetime and one supervision
// goroutine per admitted client; admission, disconnection and broadcast
// failures are all reported through events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/cyberinferno/go-sockets/clientdata"
	"github.com/cyberinferno/go-sockets/connection"
	"github.com/cyberinferno/go-sockets/event"
	"github.com/cyberinferno/go-sockets/idgenerator"
	"github.com/cyberinferno/go-sockets/logger"
	"github.com/cyberinferno/go-sockets/message"
	"github.com/cyberinferno/go-sockets/registry"
	"github.com/cyberinferno/go-sockets/session"
	"github.com/cyberinferno/go-sockets/transport"
)

// State is the lifecycle state of a Server.
type State int

const (
	Created   State = iota // Constructed, Start not called yet
	Bound                  // Listener open, accept loop not running yet
	Accepting              // Accept loop running
	Stopped                // Stopped, or failed to bind
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Bound:
		return "Bound"
	case Accepting:
		return "Accepting"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

var (
	// ErrAlreadyStarted is returned by Start on a second call.
	ErrAlreadyStarted = errors.New("server already started")

	// ErrNotRunning is carried by MESSAGE_BROADCAST_FAILED when the server is
	// not accepting.
	ErrNotRunning = errors.New("server not running")

	// ErrUnknownClient is carried by MESSAGE_SENT_FAILED when Send names a
	// handle the server does not hold.
	ErrUnknownClient = errors.New("unknown client")
)

const (
	storeTimeout    = 5 * time.Second
	maxAcceptDelay  = time.Second
	firstAcceptWait = 5 * time.Millisecond

	// maxLingeringRejects bounds how many rejected peers may hold a socket
	// and a drain goroutine during their grace period.
	maxLingeringRejects = transport.Backlog
)

// Option configures a Server.
type Option func(*options)

type options struct {
	sink      event.Sink
	log       logger.Logger
	transport transport.Transport
	store     clientdata.Store
	ids       *idgenerator.IdGenerator
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

// WithClientDataStore sets where handshake data is kept. Defaults to an
// in-memory store.
func WithClientDataStore(s clientdata.Store) Option {
	return func(o *options) { o.store = s }
}

// WithIdGenerator sets the generator for handle ids, for servers that must
// not reuse ids across restarts or share a store with other servers.
func WithIdGenerator(g *idgenerator.IdGenerator) Option {
	return func(o *options) { o.ids = g }
}

// Server accepts clients, supervises their connections and broadcasts to
// them.
type Server struct {
	sess           *session.Session
	log            logger.Logger
	tr             transport.Transport
	store          clientdata.Store
	ids            *idgenerator.IdGenerator
	maxConnections int
	rejectGrace    time.Duration
	maxLingering   int

	clients  *registry.Registry[uint32, *connection.Connection]
	rejected *registry.Registry[uint32, *connection.Connection]

	// mu is the lifecycle mutex. It guards the fields below and serializes
	// admission against Stop; it is never held across Accept or Read.
	mu           sync.Mutex
	state        State
	threadActive bool
	listener     transport.Listener

	wg sync.WaitGroup
}

// New creates a Server for cfg. Nothing is bound until Start.
//
// Returns:
//   - The server, or an error if cfg is invalid
func New(cfg session.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.transport == nil {
		var err error
		if o.transport, err = transport.ByName(cfg.Transport); err != nil {
			return nil, err
		}
	}

	if o.store == nil {
		o.store = clientdata.NewMemoryStore(cache.NoExpiration, 10*time.Minute)
	}

	if o.ids == nil {
		o.ids = idgenerator.NewIdGenerator(0)
	}

	sess := session.New(event.SideServer, cfg, o.sink, o.log)
	return &Server{
		sess:           sess,
		log:            sess.Logger(),
		tr:             o.transport,
		store:          o.store,
		ids:            o.ids,
		maxConnections: cfg.MaxConnections,
		rejectGrace:    cfg.RejectGrace,
		maxLingering:   maxLingeringRejects,
		clients:        registry.New[uint32, *connection.Connection](),
		rejected:       registry.New[uint32, *connection.Connection](),
		state:          Created,
	}, nil
}

// Start binds the configured address and launches the accept goroutine. A
// bind failure emits INIT_FAILURE and is also returned; the server then stays
// Stopped. Success emits INIT_SUCCESS.
//
// Returns:
//   - nil once accepting, ErrAlreadyStarted on a second call, or an error
//     wrapping connection.ErrConnectFailure if the bind failed
func (s *Server) Start() error {
	cfg := s.sess.Config()

	s.mu.Lock()
	if s.state != Created {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	ln, err := s.tr.Listen(cfg.Addr())
	if err != nil {
		s.state = Stopped
		s.mu.Unlock()

		err = fmt.Errorf("%w: %s listen %s: %w", connection.ErrConnectFailure, s.tr.Name(), cfg.Addr(), err)
		s.log.Error("server failed to start", logger.Err(err))
		s.sess.Emit(event.Event{Kind: event.InitFailure, Text: err.Error(), Err: err})
		return err
	}

	s.listener = ln
	s.state = Bound
	s.clients.Clear()
	s.threadActive = true
	s.state = Accepting
	s.wg.Add(1)
	s.mu.Unlock()

	addr := ln.Addr().String()
	s.log.Info("server started", logger.Field{Key: "addr", Value: addr}, logger.Field{Key: "transport", Value: s.tr.Name()})
	s.sess.Emit(event.Event{Kind: event.InitSuccess, Text: fmt.Sprintf("listening on %s", addr)})

	go s.acceptLoop(ln)
	return nil
}

// Stop stops accepting, disconnects every client without per-client
// DISCONNECTED events, closes the listener, empties the client collection
// and emits a single CLOSED. Calling it on a server that is not running
// does nothing. Stop does not wait for goroutines to exit; use Wait.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.threadActive {
		s.mu.Unlock()
		s.log.Info("server not running")
		return
	}

	s.threadActive = false
	s.state = Stopped

	for _, h := range s.clients.Snapshot() {
		s.DisconnectClient(h, false)
	}

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.clients.Clear()
	for _, h := range s.rejected.Clear() {
		_ = h.Close()
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if _, err := s.store.DeletePrefix(ctx, clientdata.SessionPrefix(s.sess.ID())); err != nil {
		s.log.Warn("failed to clear client data", logger.Err(err))
	}

	s.log.Info("server stopped", logger.Field{Key: "handles_issued", Value: s.ids.Last()})
	s.sess.Emit(event.Event{Kind: event.Closed, Text: "server stopped"})
}

// Wait blocks until the accept goroutine and every supervision goroutine
// have exited. Call it after Stop for a deterministic shutdown.
func (s *Server) Wait() {
	s.wg.Wait()
}

// DisconnectClient disconnects h. It returns false, doing nothing, if h was
// already disconnected or belongs to another server, so concurrent callers
// produce exactly one DISCONNECTED (when dispatch is true) and one removal.
//
// Parameters:
//   - h: The client handle to disconnect
//   - dispatch: Whether to emit DISCONNECTED for it
//
// Returns:
//   - true if this call performed the disconnect
func (s *Server) DisconnectClient(h *connection.Connection, dispatch bool) bool {
	return s.disconnectClient(h, dispatch, nil)
}

func (s *Server) disconnectClient(h *connection.Connection, dispatch bool, reason error) bool {
	if h == nil || h.Owner() != s.sess.ID() || !h.Deactivate() {
		return false
	}

	if dispatch {
		s.log.Info("client disconnected", clientFields(h, logger.Err(reason))...)
		s.sess.Emit(event.Event{Kind: event.Disconnected, Peer: h, Err: reason})
	}

	_ = h.Close()
	s.clients.Remove(h.ID())
	return true
}

// Broadcast sends msg to every connected client. The message is encoded
// once and written to a snapshot of the client collection. Clients whose
// write fails are dropped silently: their own supervision goroutine reports
// the DISCONNECTED. One MESSAGE_BROADCAST is emitted for the whole batch, or
// MESSAGE_BROADCAST_FAILED when the message cannot be encoded or the server
// is not running.
//
// Returns:
//   - The number of clients the message was written to
func (s *Server) Broadcast(msg message.Message) int {
	frame, err := message.Encode(msg)
	if err == nil && !s.IsActive() {
		err = ErrNotRunning
	}

	if err != nil {
		s.log.Error("broadcast failed", logger.Field{Key: "kind", Value: msg.Kind}, logger.Err(err))
		s.sess.Emit(event.Event{Kind: event.MessageBroadcastFailed, Payload: msg, Err: err})
		return 0
	}

	delivered := 0
	for _, h := range s.clients.Snapshot() {
		if h.SendFrame(frame) {
			delivered++
			continue
		}

		s.drop(h)
	}

	s.log.Debug("broadcast sent", logger.Field{Key: "kind", Value: msg.Kind}, logger.Field{Key: "recipients", Value: delivered})
	s.sess.Emit(event.Event{Kind: event.MessageBroadcast, Payload: msg, Recipients: delivered})
	return delivered
}

// Send writes msg to the client with handle id. On failure it emits
// MESSAGE_SENT_FAILED and returns false; a client whose write failed is
// dropped the same way Broadcast drops it.
//
// Parameters:
//   - id: Handle id of an admitted client
//   - msg: The message to send
//
// Returns:
//   - true if the message was written
func (s *Server) Send(id uint32, msg message.Message) bool {
	h, ok := s.clients.Get(id)
	if !ok {
		s.sess.Emit(event.Event{Kind: event.MessageSentFailed, Payload: msg, Err: fmt.Errorf("%w: %d", ErrUnknownClient, id)})
		return false
	}

	if err := h.Write(msg); err != nil {
		if h.Closed() {
			s.drop(h)
		}

		s.sess.Emit(event.Event{Kind: event.MessageSentFailed, Peer: h, Payload: msg, Err: err})
		return false
	}

	return true
}

// drop removes a client whose socket is dead without claiming its
// disconnect; the supervision goroutine, woken by the close, emits it.
func (s *Server) drop(h *connection.Connection) {
	s.log.Warn("dropping unreachable client", clientFields(h)...)
	s.clients.Remove(h.ID())
	_ = h.Close()
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether the accept loop is meant to run.
func (s *Server) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadActive
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.sess.Config().Addr()
}

// Port returns the bound port once started, the configured one before.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		if a, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return a.Port
		}
	}

	return s.sess.Config().Port
}

// MaxConnections returns the admission limit.
func (s *Server) MaxConnections() int { return s.maxConnections }

// Session returns the server's session.
func (s *Server) Session() *session.Session { return s.sess }

// ID returns the session id.
func (s *Server) ID() string { return s.sess.ID() }

// ClientCount returns the number of admitted clients.
func (s *Server) ClientCount() int { return s.clients.Len() }

// Clients returns the admitted clients in acceptance order.
func (s *Server) Clients() []*connection.Connection { return s.clients.Snapshot() }

// Client returns the admitted client with handle id.
func (s *Server) Client(id uint32) (*connection.Connection, bool) { return s.clients.Get(id) }

// ClientData returns what the client with handle id announced in its sync
// handshake.
//
// Parameters:
//   - ctx: Bounds the store lookup
//   - id: Handle id of the client
//
// Returns:
//   - The data, whether it was found, and any store error
func (s *Server) ClientData(ctx context.Context, id uint32) (message.ClientData, bool, error) {
	return s.store.Get(ctx, clientdata.Key(s.sess.ID(), id))
}

// ClientDataCount returns how many clients of this server have handshake
// data in the store.
//
// Parameters:
//   - ctx: Bounds the store lookup
//
// Returns:
//   - The number of entries under this session's prefix, or a store error
func (s *Server) ClientDataCount(ctx context.Context) (int, error) {
	return s.store.Count(ctx, clientdata.SessionPrefix(s.sess.ID()))
}

func clientFields(h *connection.Connection, extra ...logger.Field) []logger.Field {
	return append([]logger.Field{
		{Key: "client", Value: h.ID()},
		{Key: "remote", Value: h.RemoteAddr()},
	}, extra...)
}
