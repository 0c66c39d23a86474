package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("marshals data", func(t *testing.T) {
		m, err := New("ping", map[string]string{"verb": "ping"})
		require.NoError(t, err)
		assert.Equal(t, "ping", m.Kind)
		assert.JSONEq(t, `{"verb":"ping"}`, string(m.Data))
		assert.False(t, m.IsCore())
	})

	t.Run("nil data leaves data empty", func(t *testing.T) {
		m, err := New("noop", nil)
		require.NoError(t, err)
		assert.Empty(t, m.Data)
	})

	t.Run("empty kind is rejected", func(t *testing.T) {
		_, err := New("", nil)
		assert.ErrorIs(t, err, ErrEmptyKind)
	})

	t.Run("unmarshalable data is an error", func(t *testing.T) {
		_, err := New("bad", make(chan int))
		assert.Error(t, err)
		assert.Panics(t, func() { MustNew("bad", make(chan int)) })
	})
}

func TestCoreMessages(t *testing.T) {
	t.Run("sync client data", func(t *testing.T) {
		m := NewSyncClientData(ClientData{ID: "c1", Meta: map[string]string{"role": "viewer"}})
		assert.Equal(t, KindSyncClientData, m.Kind)
		assert.True(t, m.IsCore())

		var cd ClientData
		require.NoError(t, m.Decode(&cd))
		assert.Equal(t, "c1", cd.ID)
		assert.Equal(t, "viewer", cd.Meta["role"])
	})

	t.Run("server full", func(t *testing.T) {
		m := NewServerFull(24)
		assert.Equal(t, KindServerFull, m.Kind)

		var sf ServerFull
		require.NoError(t, m.Decode(&sf))
		assert.Equal(t, "server_full", sf.Reason)
		assert.Equal(t, 24, sf.MaxConnections)
	})
}

func TestEncodeDecode(t *testing.T) {
	t.Run("frame round trip", func(t *testing.T) {
		in := MustNew("chat", map[string]any{"text": "hi"})
		frame, err := Encode(in)
		require.NoError(t, err)

		out, err := Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, in.Kind, out.Kind)
		assert.JSONEq(t, string(in.Data), string(out.Data))
	})

	t.Run("encode without kind fails", func(t *testing.T) {
		_, err := Encode(Message{})
		assert.ErrorIs(t, err, ErrEmptyKind)
	})

	t.Run("decode garbage fails", func(t *testing.T) {
		_, err := Decode([]byte("not json"))
		assert.Error(t, err)
	})

	t.Run("decode without kind fails", func(t *testing.T) {
		_, err := Decode([]byte(`{"data":{}}`))
		assert.ErrorIs(t, err, ErrEmptyKind)
	})

	t.Run("decode payload without data fails", func(t *testing.T) {
		var v map[string]any
		assert.Error(t, Message{Kind: "x"}.Decode(&v))
	})
}
