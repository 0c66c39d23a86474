package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeRecorder struct {
	bytes.Buffer
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}

		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}

	return out
}

func TestNewZerologLogger(t *testing.T) {
	t.Run("adds service, level and fields", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewZerologLogger(zerolog.New(&buf), "svc", zerolog.DebugLevel)

		l.Info("accepted", Field{Key: "client", Value: 7})

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "svc", lines[0]["service"])
		assert.Equal(t, "info", lines[0]["level"])
		assert.Equal(t, "accepted", lines[0]["message"])
		assert.EqualValues(t, 7, lines[0]["client"])
		assert.Contains(t, lines[0], "time")
	})

	t.Run("filters below level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewZerologLogger(zerolog.New(&buf), "svc", zerolog.WarnLevel)

		l.Debug("d")
		l.Info("i")
		l.Warn("w")
		l.Error("e", Err(errors.New("boom")))

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 2)
		assert.Equal(t, "w", lines[0]["message"])
		assert.Equal(t, "boom", lines[1]["error"])
	})
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	base := NewZerologLogger(zerolog.New(&buf), "svc", zerolog.InfoLevel)
	derived := base.With(Field{Key: "session", Value: "abc"})

	derived.Info("one")
	base.Info("two")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "abc", lines[0]["session"])
	assert.NotContains(t, lines[1], "session")
}

func TestNewWriterLogger_Close(t *testing.T) {
	w := &closeRecorder{}
	l := NewWriterLogger(w, "svc", zerolog.InfoLevel)

	l.Info("hello")
	assert.Contains(t, w.String(), "hello")

	require.NoError(t, l.With(Field{Key: "k", Value: 1}).Close())
	assert.Equal(t, 0, w.closed, "derived logger must not close the writer")

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, 1, w.closed)
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	require.NotNil(t, l)

	assert.NotPanics(t, func() {
		l.Debug("x")
		l.With(Field{Key: "a", Value: 1}).Error("y")
	})
	assert.NoError(t, l.Close())
}
