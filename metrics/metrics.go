// Package metrics exports session events as Prometheus metrics. Sink sits in
// front of the application's event sink: it counts every event and then
// forwards it unchanged.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cyberinferno/go-sockets/event"
)

// Config configures the metrics collected by Sink.
type Config struct {
	// Namespace is the metrics namespace (default: "gosockets").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for broadcast recipient counts.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures Sink.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the recipient histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "gosockets",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Sink counts events and forwards them to the next sink.
type Sink struct {
	next event.Sink

	eventsTotal         *prometheus.CounterVec
	errorsTotal         *prometheus.CounterVec
	broadcastRecipients prometheus.Histogram
}

// New creates a Sink that forwards to next (event.Discard when nil) and
// registers its collectors with the configured registry. Registering twice
// with the same registry panics, as promauto does.
//
// Metrics collected:
//   - gosockets_events_total: events by side and kind
//   - gosockets_event_errors_total: events carrying an error, by side and kind
//   - gosockets_broadcast_recipients: clients reached per broadcast
func New(next event.Sink, opts ...Option) *Sink {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if next == nil {
		next = event.Discard
	}

	factory := promauto.With(cfg.Registry)
	return &Sink{
		next: next,

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "events_total",
			Help:        "Total number of session events emitted",
			ConstLabels: cfg.ConstLabels,
		}, []string{"side", "kind"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "event_errors_total",
			Help:        "Total number of session events that carried an error",
			ConstLabels: cfg.ConstLabels,
		}, []string{"side", "kind"}),

		broadcastRecipients: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "broadcast_recipients",
			Help:        "Number of clients each broadcast was written to",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}),
	}
}

// Emit implements event.Sink.
func (s *Sink) Emit(e event.Event) {
	side := string(e.Side)
	kind := string(e.Kind)

	s.eventsTotal.WithLabelValues(side, kind).Inc()
	if e.Err != nil {
		s.errorsTotal.WithLabelValues(side, kind).Inc()
	}

	if e.Kind == event.MessageBroadcast {
		s.broadcastRecipients.Observe(float64(e.Recipients))
	}

	s.next.Emit(e)
}
