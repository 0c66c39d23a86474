package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/cyberinferno/go-sockets/event"
	"github.com/cyberinferno/go-sockets/logger"
)

// Session is the id and event sink shared by one client or one server.
type Session struct {
	id   string
	side event.Side
	cfg  Config
	sink event.Sink
	log  logger.Logger
}

// New creates a Session. A nil sink discards events and a nil logger
// discards log output.
func New(side event.Side, cfg Config, sink event.Sink, log logger.Logger) *Session {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
		cfg.ID = id
	}

	if sink == nil {
		sink = event.Discard
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Session{
		id:   id,
		side: side,
		cfg:  cfg,
		sink: sink,
		log:  log.With(logger.Field{Key: "session", Value: id}, logger.Field{Key: "side", Value: string(side)}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Side returns whether this is a client or a server session.
func (s *Session) Side() event.Side { return s.side }

// Config returns the configuration the session was created with.
func (s *Session) Config() Config { return s.cfg }

// Logger returns the session-scoped logger.
func (s *Session) Logger() logger.Logger { return s.log }

// Emit stamps e with the session id, side and time and hands it to the sink.
func (s *Session) Emit(e event.Event) {
	e.Session = s.id
	e.Side = s.side
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.sink.Emit(e)
}
