package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/go-sockets/clientdata"
	"github.com/cyberinferno/go-sockets/event"
	"github.com/cyberinferno/go-sockets/logger"
	"github.com/cyberinferno/go-sockets/message"
	"github.com/cyberinferno/go-sockets/metrics"
	"github.com/cyberinferno/go-sockets/server"
	"github.com/cyberinferno/go-sockets/session"
)

type serveOptions struct {
	id             string
	ip             string
	port           int
	maxConnections int
	transport      string
	rejectGrace    time.Duration
	metricsAddr    string
	redisAddr      string
	redisTTL       time.Duration
}

func serveCmd() *cobra.Command {
	o := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept clients and relay chat messages",
		Long: `Start a server that broadcasts every chat message it receives to all
connected clients.

Examples:
  socketsession serve
  socketsession serve --port=7000 --max-connections=100
  socketsession serve --transport=websocket --metrics-addr=:9100
  socketsession serve --redis-addr=localhost:6379`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd, "socketsession-server")
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, o, log)
		},
	}

	cmd.Flags().StringVar(&o.id, "id", "", "Session id (default: random UUID)")
	cmd.Flags().StringVarP(&o.ip, "ip", "H", session.DefaultIP, "Address to bind")
	cmd.Flags().IntVarP(&o.port, "port", "p", session.DefaultPort, "Port to bind")
	cmd.Flags().IntVarP(&o.maxConnections, "max-connections", "m", session.DefaultMaxConnections, "Maximum number of connected clients")
	cmd.Flags().StringVarP(&o.transport, "transport", "t", session.DefaultTransport, "Transport (tcp or websocket)")
	cmd.Flags().DurationVar(&o.rejectGrace, "reject-grace", session.DefaultRejectGrace, "How long a rejected client may keep its socket open")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	cmd.Flags().StringVar(&o.redisAddr, "redis-addr", "", "Keep client data in Redis at this address")
	cmd.Flags().DurationVar(&o.redisTTL, "redis-ttl", time.Hour, "Expiry of client data kept in Redis")

	return cmd
}

func runServe(ctx context.Context, o serveOptions, log logger.Logger) error {
	cfg := session.DefaultConfig()
	cfg.ID = o.id
	cfg.IP = o.ip
	cfg.Port = o.port
	cfg.MaxConnections = o.maxConnections
	cfg.Transport = o.transport
	cfg.RejectGrace = o.rejectGrace

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var srv *server.Server
	bus := event.NewBus(event.WithBusLogger(log))
	bus.On(event.MessageReceived, func(e event.Event) {
		relay(ctx, srv, e, log)
	})

	opts := []server.Option{
		server.WithSink(metrics.New(bus, metrics.WithRegistry(reg))),
		server.WithLogger(log),
	}

	if o.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: o.redisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", o.redisAddr, err)
		}

		opts = append(opts, server.WithClientDataStore(clientdata.NewRedisStore(rdb, clientdata.DefaultRedisPrefix, o.redisTTL)))
	}

	srv, err := server.New(cfg, opts...)
	if err != nil {
		return err
	}

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "gosockets",
		Name:        "connected_clients",
		Help:        "Number of clients currently admitted",
		ConstLabels: prometheus.Labels{"session": srv.ID()},
	}, func() float64 {
		return float64(srv.ClientCount())
	}))

	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Wait()
	defer srv.Stop()

	if o.metricsAddr != "" {
		httpSrv := &http.Server{
			Addr:              o.metricsAddr,
			Handler:           newRouter(reg, srv),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", logger.Err(err))
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		log.Info("metrics server started", logger.Field{Key: "addr", Value: o.metricsAddr})
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// relay rebroadcasts a chat message to every client, stamped with the name
// its sender announced in the handshake.
func relay(ctx context.Context, srv *server.Server, e event.Event, log logger.Logger) {
	if srv == nil || e.Payload.Kind != chatKind || e.Peer == nil {
		return
	}

	var chat chatMessage
	if err := e.Payload.Decode(&chat); err != nil {
		log.Warn("malformed chat message", logger.Err(err))
		return
	}

	chat.From = strconv.FormatUint(uint64(e.Peer.ID()), 10)
	if data, found, err := srv.ClientData(ctx, e.Peer.ID()); err == nil && found {
		chat.From = displayName(data)
	}

	out, err := message.New(chatKind, chat)
	if err != nil {
		log.Warn("failed to build chat message", logger.Err(err))
		return
	}

	srv.Broadcast(out)
}

func displayName(data message.ClientData) string {
	if name := data.Meta["name"]; name != "" {
		return name
	}

	return data.ID
}
