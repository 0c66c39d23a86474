package event

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-sockets/logger"
)

func TestKind_Terminal(t *testing.T) {
	for _, k := range Kinds {
		assert.Equal(t, k == Disconnected || k == Closed, k.Terminal(), string(k))
	}
}

func TestBus(t *testing.T) {
	t.Run("dispatches by kind then to catch-all", func(t *testing.T) {
		b := NewBus()
		var order []string

		b.On(Connected, func(e Event) { order = append(order, "connected-1") })
		b.On(Connected, func(e Event) { order = append(order, "connected-2") })
		b.On(Closed, func(e Event) { order = append(order, "closed") })
		b.OnAny(func(e Event) { order = append(order, "any:"+string(e.Kind)) })

		b.Emit(Event{Kind: Connected})
		b.Emit(Event{Kind: Disconnected})

		assert.Equal(t, []string{"connected-1", "connected-2", "any:CONNECTED", "any:DISCONNECTED"}, order)
	})

	t.Run("off removes kind handlers", func(t *testing.T) {
		b := NewBus()
		calls := 0
		b.On(Closed, func(Event) { calls++ })
		b.Off(Closed)
		b.Emit(Event{Kind: Closed})
		assert.Equal(t, 0, calls)
	})

	t.Run("a panicking handler does not stop the others", func(t *testing.T) {
		var buf bytes.Buffer
		b := NewBus(WithBusLogger(logger.NewWriterLogger(&buf, "test", zerolog.DebugLevel)))
		reached := false
		b.On(Closed, func(Event) { panic("boom") })
		b.On(Closed, func(Event) { reached = true })

		assert.NotPanics(t, func() { b.Emit(Event{Kind: Closed, Side: SideServer}) })
		assert.True(t, reached)

		entry := map[string]any{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
		assert.Equal(t, "error", entry["level"])
		assert.Equal(t, "event handler panicked", entry["message"])
		assert.Equal(t, "CLOSED", entry["kind"])
		assert.Equal(t, "server", entry["side"])
		assert.Equal(t, "boom", entry["panic"])
	})

	t.Run("nil logger keeps the default", func(t *testing.T) {
		b := NewBus(WithBusLogger(nil))
		b.On(Closed, func(Event) { panic("boom") })
		assert.NotPanics(t, func() { b.Emit(Event{Kind: Closed}) })
	})

	t.Run("concurrent emit and register", func(t *testing.T) {
		b := NewBus()
		rec := NewRecorder()
		b.OnAny(rec.Emit)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				b.Emit(Event{Kind: MessageReceived})
			}()
			go func() {
				defer wg.Done()
				b.On(MessageReceived, func(Event) {})
			}()
		}
		wg.Wait()

		assert.Equal(t, 20, rec.Count(MessageReceived))
	})
}

func TestTee(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	s := Tee(a, nil, b)

	s.Emit(Event{Kind: InitSuccess})
	assert.Equal(t, []Kind{InitSuccess}, a.Kinds())
	assert.Equal(t, []Kind{InitSuccess}, b.Kinds())

	assert.NotPanics(t, func() { Discard.Emit(Event{Kind: Closed}) })
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Emit(Event{Kind: Connected})
		r.Emit(Event{Kind: Connected})
	}()

	require.True(t, r.WaitFor(Connected, 2, 2*time.Second))
	assert.False(t, r.WaitFor(Closed, 1, 50*time.Millisecond))
	assert.Len(t, r.Filter(Connected), 2)

	r.Reset()
	assert.Empty(t, r.Events())
}
