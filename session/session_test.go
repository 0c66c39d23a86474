package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-sockets/event"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.IP)
	assert.Equal(t, 9696, cfg.Port)
	assert.Equal(t, 24, cfg.MaxConnections)
	assert.Equal(t, "tcp", cfg.Transport)
	assert.Equal(t, "127.0.0.1:9696", cfg.Addr())
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty ip":          func(c *Config) { c.IP = "" },
		"port too large":    func(c *Config) { c.Port = 70000 },
		"negative port":     func(c *Config) { c.Port = -1 },
		"negative capacity": func(c *Config) { c.MaxConnections = -1 },
		"negative timeout":  func(c *Config) { c.DialTimeout = -time.Second },
		"unknown transport": func(c *Config) { c.Transport = "udp" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("ipv6 address", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.IP = "::1"
		assert.Equal(t, "[::1]:9696", cfg.Addr())
	})
}

func TestSession(t *testing.T) {
	t.Run("generates an id when none is configured", func(t *testing.T) {
		a := New(event.SideServer, DefaultConfig(), nil, nil)
		b := New(event.SideServer, DefaultConfig(), nil, nil)

		assert.NotEmpty(t, a.ID())
		assert.NotEqual(t, a.ID(), b.ID())
		assert.Equal(t, a.ID(), a.Config().ID)
	})

	t.Run("keeps a configured id", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ID = "lobby"
		s := New(event.SideClient, cfg, nil, nil)
		assert.Equal(t, "lobby", s.ID())
		assert.Equal(t, event.SideClient, s.Side())
		require.NotNil(t, s.Logger())
	})

	t.Run("emit stamps session, side and time", func(t *testing.T) {
		rec := event.NewRecorder()
		cfg := DefaultConfig()
		cfg.ID = "s1"
		s := New(event.SideServer, cfg, rec, nil)

		s.Emit(event.Event{Kind: event.InitSuccess, Text: "ok"})

		events := rec.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "s1", events[0].Session)
		assert.Equal(t, event.SideServer, events[0].Side)
		assert.Equal(t, "ok", events[0].Text)
		assert.False(t, events[0].Timestamp.IsZero())
	})
}
