package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/go-sockets/client"
	"github.com/cyberinferno/go-sockets/event"
	"github.com/cyberinferno/go-sockets/logger"
	"github.com/cyberinferno/go-sockets/message"
	"github.com/cyberinferno/go-sockets/session"
)

type connectOptions struct {
	id        string
	name      string
	ip        string
	port      int
	transport string
}

func connectCmd() *cobra.Command {
	o := connectOptions{}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a server and chat from stdin",
		Long: `Connect to a server, send every line read from stdin as a chat message
and print the chat messages the server relays.

Examples:
  socketsession connect --name=alice
  socketsession connect --ip=10.0.0.5 --port=7000
  socketsession connect --transport=websocket`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd, "socketsession-client")
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runConnect(ctx, o, os.Stdin, cmd.OutOrStdout(), log)
		},
	}

	cmd.Flags().StringVar(&o.id, "id", "", "Session id sent in the handshake (default: random UUID)")
	cmd.Flags().StringVarP(&o.name, "name", "n", "", "Display name announced to the server")
	cmd.Flags().StringVarP(&o.ip, "ip", "H", session.DefaultIP, "Server address")
	cmd.Flags().IntVarP(&o.port, "port", "p", session.DefaultPort, "Server port")
	cmd.Flags().StringVarP(&o.transport, "transport", "t", session.DefaultTransport, "Transport (tcp or websocket)")

	return cmd
}

// runConnect chats until ctx is done, stdin ends or the connection ends.
func runConnect(ctx context.Context, o connectOptions, in io.Reader, out io.Writer, log logger.Logger) error {
	cfg := session.DefaultConfig()
	cfg.ID = o.id
	cfg.IP = o.ip
	cfg.Port = o.port
	cfg.Transport = o.transport
	if o.name != "" {
		cfg.ClientData = map[string]string{"name": o.name}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cause error
	bus := event.NewBus(event.WithBusLogger(log))
	bus.On(event.MessageReceived, func(e event.Event) {
		if e.Payload.Kind != chatKind {
			return
		}

		var chat chatMessage
		if err := e.Payload.Decode(&chat); err != nil {
			log.Warn("malformed chat message", logger.Err(err))
			return
		}

		fmt.Fprintf(out, "<%s> %s\n", chat.From, chat.Text)
	})
	bus.On(event.ServerFull, func(e event.Event) {
		fmt.Fprintln(out, "server is full")
	})
	bus.OnAny(func(e event.Event) {
		if e.Kind == event.InitFailure || e.Kind.Terminal() {
			cause = e.Err
			cancel()
		}
	})

	c, err := client.New(cfg, client.WithSink(bus), client.WithLogger(log))
	if err != nil {
		return err
	}

	if err := c.Start(); err != nil {
		return err
	}
	defer c.Wait()
	defer c.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			c.Wait()
			return cause
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			if line == "" {
				continue
			}

			msg, err := message.New(chatKind, chatMessage{Text: line})
			if err != nil {
				return err
			}
			c.Send(msg)
		}
	}
}
