package event

import (
	"fmt"
	"sync"

	"github.com/cyberinferno/go-sockets/logger"
)

// Handler handles one event.
type Handler func(e Event)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets where recovered handler panics are logged. Defaults to a
// no-op logger.
func WithBusLogger(l logger.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// Bus is a Sink that fans events out to handlers registered per kind.
// Handlers run synchronously in the emitting goroutine, so events from one
// connection reach a handler in the order they happened.
type Bus struct {
	log logger.Logger

	mu       sync.RWMutex
	handlers map[Kind][]Handler
	any      []Handler
}

// NewBus returns an empty Bus.
//
// Parameters:
//   - opts: Optional settings such as WithBusLogger
//
// Returns:
//   - A Bus with no handlers
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		log:      logger.NewNopLogger(),
		handlers: make(map[Kind][]Handler),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// On registers h for kind. Handlers for the same kind run in registration
// order.
func (b *Bus) On(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// OnAny registers h for every kind. Catch-all handlers run after the
// kind-specific ones.
func (b *Bus) OnAny(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.any = append(b.any, h)
}

// Off removes every handler registered for kind.
func (b *Bus) Off(kind Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, kind)
}

// Emit implements Sink. A panicking handler is logged at error level and does
// not stop the others, and never unwinds into the emitting loop.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[e.Kind])+len(b.any))
	hs = append(hs, b.handlers[e.Kind]...)
	hs = append(hs, b.any...)
	b.mu.RUnlock()

	for _, h := range hs {
		b.call(h, e)
	}
}

func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				logger.Field{Key: "kind", Value: string(e.Kind)},
				logger.Field{Key: "side", Value: string(e.Side)},
				logger.Field{Key: "panic", Value: fmt.Sprint(r)},
			)
		}
	}()

	h(e)
}
