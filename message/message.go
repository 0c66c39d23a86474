// Package message defines the payload exchanged between clients and servers:
// a kind-tagged envelope whose data is JSON. Kinds prefixed with "_core."
// are reserved for the session layer itself.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CorePrefix marks kinds owned by the session layer.
const CorePrefix = "_core."

const (
	// KindSyncClientData is the mandatory handshake a client sends right
	// after connecting, and may resend whenever its data changes.
	KindSyncClientData = "_core.sync.update_client_data"
	// KindServerFull is the rejection a server sends to a peer it cannot
	// admit.
	KindServerFull = "_core.errors.server_full"
)

// ErrEmptyKind is returned when a message without a kind is encoded or
// decoded.
var ErrEmptyKind = errors.New("message kind is empty")

// Message is one unit on the wire.
type Message struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientData is the payload of KindSyncClientData.
type ClientData struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta,omitempty"`
}

// ServerFull is the payload of KindServerFull.
type ServerFull struct {
	Reason         string `json:"reason"`
	MaxConnections int    `json:"max_connections"`
}

// New builds a Message of the given kind with data marshaled as JSON. A nil
// data produces a message without a data field.
func New(kind string, data any) (Message, error) {
	if kind == "" {
		return Message{}, ErrEmptyKind
	}

	if data == nil {
		return Message{Kind: kind}, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s data: %w", kind, err)
	}

	return Message{Kind: kind, Data: raw}, nil
}

// MustNew is like New but panics on error. Intended for package-level
// messages built from static data.
func MustNew(kind string, data any) Message {
	m, err := New(kind, data)
	if err != nil {
		panic(err)
	}

	return m
}

// NewSyncClientData builds the handshake message.
func NewSyncClientData(data ClientData) Message {
	return MustNew(KindSyncClientData, data)
}

// NewServerFull builds the capacity rejection message.
func NewServerFull(maxConnections int) Message {
	return MustNew(KindServerFull, ServerFull{
		Reason:         "server_full",
		MaxConnections: maxConnections,
	})
}

// IsCore reports whether m belongs to the session layer.
func (m Message) IsCore() bool {
	return strings.HasPrefix(m.Kind, CorePrefix)
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("decode %s: no data", m.Kind)
	}

	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Kind, err)
	}

	return nil
}

// Encode serializes m into one frame.
func Encode(m Message) ([]byte, error) {
	if m.Kind == "" {
		return nil, ErrEmptyKind
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind, err)
	}

	return b, nil
}

// Decode parses one frame.
func Decode(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}

	if m.Kind == "" {
		return Message{}, ErrEmptyKind
	}

	return m, nil
}
