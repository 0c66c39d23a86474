package connection

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-sockets/message"
	"github.com/cyberinferno/go-sockets/transport"
)

func pair(t *testing.T) (server *Connection, client *Connection) {
	t.Helper()

	ln, err := transport.TCP{}.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan transport.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	client, err = Dial(context.Background(), transport.TCP{}, "127.0.0.1", addr.Port, WithOwner("client"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case raw := <-accepted:
		server = Wrap(raw, WithID(42), WithOwner("server"), WithWriteTimeout(time.Second))
	case <-time.After(5 * time.Second):
		t.Fatal("accept timed out")
	}
	t.Cleanup(func() { _ = server.Close() })

	return server, client
}

func TestDial(t *testing.T) {
	t.Run("refused port is a connect failure", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		_, err = Dial(context.Background(), transport.TCP{}, "127.0.0.1", port)
		assert.ErrorIs(t, err, ErrConnectFailure)
	})

	t.Run("handle metadata", func(t *testing.T) {
		server, client := pair(t)

		assert.Equal(t, uint32(42), server.ID())
		assert.Equal(t, "server", server.Owner())
		assert.Equal(t, "client", client.Owner())
		assert.Equal(t, client.LocalAddr(), server.RemoteAddr())
		assert.Contains(t, server.String(), "connection#42")
		assert.True(t, server.Active())
		assert.False(t, server.Closed())
	})
}

func TestConnection_SendRead(t *testing.T) {
	server, client := pair(t)

	t.Run("messages arrive in order", func(t *testing.T) {
		for _, kind := range []string{"a", "b", "c"} {
			require.True(t, client.Send(message.MustNew(kind, nil)))
		}

		for _, kind := range []string{"a", "b", "c"} {
			msg, err := server.Read()
			require.NoError(t, err)
			assert.Equal(t, kind, msg.Kind)
		}
	})

	t.Run("invalid message is not sent", func(t *testing.T) {
		assert.False(t, client.Send(message.Message{}))
		assert.ErrorIs(t, client.Write(message.Message{}), ErrSendFailure)
		assert.False(t, client.Closed(), "encode errors do not touch the socket")
	})

	t.Run("concurrent sends never interleave", func(t *testing.T) {
		const n = 50
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				client.Send(message.MustNew("burst", map[string]int{"size": 1024}))
			}()
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			msg, err := server.Read()
			require.NoError(t, err)
			assert.Equal(t, "burst", msg.Kind)
		}
	})
}

func TestConnection_Close(t *testing.T) {
	server, client := pair(t)

	t.Run("close unblocks a pending read", func(t *testing.T) {
		done := make(chan error, 1)
		go func() {
			_, err := server.Read()
			done <- err
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, server.Close())

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrReadFailure)
		case <-time.After(5 * time.Second):
			t.Fatal("read did not return after close")
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		assert.NoError(t, server.Close())
		assert.True(t, server.Closed())
	})

	t.Run("send after close returns false", func(t *testing.T) {
		assert.False(t, server.Send(message.MustNew("late", nil)))
		assert.ErrorIs(t, server.Write(message.MustNew("late", nil)), ErrSendFailure)
	})

	t.Run("peer read fails after close", func(t *testing.T) {
		_, err := client.Read()
		assert.ErrorIs(t, err, ErrReadFailure)
	})

	t.Run("close does not deactivate", func(t *testing.T) {
		assert.True(t, server.Active())
	})
}

func TestConnection_Deactivate(t *testing.T) {
	server, _ := pair(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if server.Deactivate() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.False(t, server.Active())
	assert.False(t, server.Deactivate())
}

func TestConnection_WriteFailureMarksBroken(t *testing.T) {
	server, client := pair(t)
	require.NoError(t, client.Close())

	payload := message.MustNew("flood", map[string]string{"pad": string(make([]byte, 64*1024))})
	require.Eventually(t, func() bool {
		return !server.Send(payload)
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, server.Broken())
	assert.True(t, server.Closed())
	assert.True(t, server.Active(), "send failure leaves the disconnect to the owner")
}
