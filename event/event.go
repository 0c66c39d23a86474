// Package event defines the notifications clients and servers push to
// application code, and a small synchronous bus to deliver them.
package event

import (
	"time"

	"github.com/cyberinferno/go-sockets/message"
)

// Kind identifies an event.
type Kind string

const (
	InitSuccess            Kind = "INIT_SUCCESS"
	InitFailure            Kind = "INIT_FAILURE"
	Connected              Kind = "CONNECTED"
	Disconnected           Kind = "DISCONNECTED"
	Closed                 Kind = "CLOSED"
	MessageReceived        Kind = "MESSAGE"
	MessageSentFailed      Kind = "MESSAGE_SENT_FAILED"
	MessageBroadcast       Kind = "MESSAGE_BROADCAST"
	MessageBroadcastFailed Kind = "MESSAGE_BROADCAST_FAILED"
	ServerFull             Kind = "SERVER_FULL"
	ClientUpdated          Kind = "CLIENT_UPDATED"
)

// Kinds lists every kind, in declaration order.
var Kinds = []Kind{
	InitSuccess, InitFailure, Connected, Disconnected, Closed, MessageReceived,
	MessageSentFailed, MessageBroadcast, MessageBroadcastFailed, ServerFull, ClientUpdated,
}

// Terminal reports whether k ends a connection lifecycle.
func (k Kind) Terminal() bool {
	return k == Disconnected || k == Closed
}

// Side says which half of the layer emitted an event.
type Side string

const (
	SideClient Side = "client"
	SideServer Side = "server"
)

// Peer is the remote end an event is about. *connection.Connection
// implements it.
type Peer interface {
	ID() uint32
	RemoteAddr() string
}

// Event is one notification. Which fields are set depends on Kind:
//
//	INIT_SUCCESS, INIT_FAILURE, CLOSED          Text, Err
//	CONNECTED, DISCONNECTED                     Peer, Err
//	MESSAGE                                     Peer, Payload
//	MESSAGE_SENT_FAILED                         Peer, Payload, Err
//	MESSAGE_BROADCAST, MESSAGE_BROADCAST_FAILED Payload, Recipients, Err
//	SERVER_FULL                                 Peer, Payload
//	CLIENT_UPDATED                              Peer, ClientData
type Event struct {
	Kind       Kind
	Side       Side
	Session    string
	Peer       Peer
	Text       string
	Payload    message.Message
	ClientData *message.ClientData
	Recipients int
	Err        error
	Timestamp  time.Time
}

// Sink receives events. Emit is called from the goroutine that observed the
// transition (accept loop, read loop, or the caller of Send/Stop), so
// implementations must be safe for concurrent use and should not block for
// long: a slow Emit stalls that loop.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Tee emits every event to each sink in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}
