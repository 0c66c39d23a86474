package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cyberinferno/go-sockets/clientdata"
	"github.com/cyberinferno/go-sockets/connection"
	"github.com/cyberinferno/go-sockets/event"
	"github.com/cyberinferno/go-sockets/logger"
	"github.com/cyberinferno/go-sockets/message"
	"github.com/cyberinferno/go-sockets/transport"
)

// acceptLoop runs for the server's lifetime. Accept errors other than the
// listener being closed are logged and retried with a capped backoff.
func (s *Server) acceptLoop(ln transport.Listener) {
	defer s.wg.Done()

	var delay time.Duration
	for {
		if !s.IsActive() {
			return
		}

		raw, err := ln.Accept()
		if err != nil {
			if !s.IsActive() || errors.Is(err, net.ErrClosed) {
				return
			}

			if delay == 0 {
				delay = firstAcceptWait
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}

			s.log.Error("server accept error", logger.Err(err), logger.Field{Key: "retry_in", Value: delay.String()})
			time.Sleep(delay)
			continue
		}

		delay = 0
		s.admit(raw)
	}
}

// admit wraps a new connection and applies admission control. The capacity
// check and the insert happen under the lifecycle mutex so Stop can never
// miss a client that is being admitted.
func (s *Server) admit(raw transport.Conn) {
	h := connection.Wrap(raw,
		connection.WithID(s.ids.Id()),
		connection.WithOwner(s.sess.ID()),
		connection.WithWriteTimeout(s.sess.Config().WriteTimeout),
	)

	s.mu.Lock()
	if !s.threadActive {
		s.mu.Unlock()
		_ = h.Close()
		return
	}

	admitted := s.clients.InsertIf(h.ID(), h, func(n int) bool {
		return n < s.maxConnections
	})
	linger := false
	if !admitted {
		linger = s.rejected.InsertIf(h.ID(), h, func(n int) bool {
			return n < s.maxLingering
		})
	}
	s.wg.Add(1)
	s.mu.Unlock()

	if !admitted {
		s.reject(h, linger)
		return
	}

	go s.supervise(h)
}

// reject tells a peer the server is full. A lingering peer is left to close
// its end; drainRejected only reclaims the socket once the peer hangs up or
// the grace period runs out. When too many rejected peers are already
// lingering, the socket is closed right after the rejection is written.
func (s *Server) reject(h *connection.Connection, linger bool) {
	full := message.NewServerFull(s.maxConnections)
	if err := h.Write(full); err != nil {
		s.log.Debug("failed to send server_full", clientFields(h, logger.Err(err))...)
	}

	s.log.Warn("server full, rejecting client", clientFields(h, logger.Field{Key: "max_connections", Value: s.maxConnections})...)
	s.sess.Emit(event.Event{Kind: event.ServerFull, Peer: h, Payload: full, Err: connection.ErrCapacityExceeded})

	if !linger {
		_ = h.Close()
		s.wg.Done()
		return
	}

	go s.drainRejected(h)
}

func (s *Server) drainRejected(h *connection.Connection) {
	defer s.wg.Done()
	defer s.rejected.Remove(h.ID())

	if s.rejectGrace > 0 {
		timer := time.AfterFunc(s.rejectGrace, func() {
			_ = h.Close()
		})
		defer timer.Stop()
	} else {
		_ = h.Close()
	}

	for {
		if _, err := h.Read(); err != nil {
			break
		}
	}

	_ = h.Close()
}

// supervise owns one admitted client's read loop and its cleanup.
func (s *Server) supervise(h *connection.Connection) {
	defer s.wg.Done()

	// Stop may have run between admission and this goroutine starting.
	if !h.Active() {
		return
	}

	s.log.Info("client connected", clientFields(h)...)
	s.sess.Emit(event.Event{Kind: event.Connected, Peer: h})

	reason := s.readLoop(h)
	s.disconnectClient(h, true, reason)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, clientdata.Key(s.sess.ID(), h.ID())); err != nil {
		s.log.Warn("failed to forget client data", clientFields(h, logger.Err(err))...)
	}
}

func (s *Server) readLoop(h *connection.Connection) error {
	for h.Active() {
		msg, err := h.Read()
		if err != nil {
			return err
		}

		s.dispatch(h, msg)
	}

	return nil
}

func (s *Server) dispatch(h *connection.Connection, msg message.Message) {
	switch msg.Kind {
	case message.KindSyncClientData:
		var data message.ClientData
		if err := msg.Decode(&data); err != nil {
			s.log.Warn("malformed client data", clientFields(h, logger.Err(err))...)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := s.store.Put(ctx, clientdata.Key(s.sess.ID(), h.ID()), data); err != nil {
			s.log.Error("failed to store client data", clientFields(h, logger.Err(err))...)
		}

		s.log.Debug("client data updated", clientFields(h, logger.Field{Key: "client_id", Value: data.ID})...)
		s.sess.Emit(event.Event{Kind: event.ClientUpdated, Peer: h, ClientData: &data})
	default:
		if msg.IsCore() {
			s.log.Debug("ignoring core message", clientFields(h, logger.Field{Key: "kind", Value: msg.Kind})...)
			return
		}

		s.sess.Emit(event.Event{Kind: event.MessageReceived, Peer: h, Payload: msg})
	}
}
