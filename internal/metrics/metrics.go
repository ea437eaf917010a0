// =============================================================================
// OBSERVABILITY WITH PROMETHEUS - CORE METRICS INFRASTRUCTURE
// =============================================================================
//
// WHAT IS THIS?
// The metrics registry for topicbus. It wraps a dedicated
// prometheus.Registry (never the global default) and groups the broker's
// metrics into two surfaces:
//
//   - Broker:   long-lived, topic-labeled counters (publish volume). These
//     are ordinary pre-registered CounterVecs.
//   - Consumer: per-consumer series owned by the ConsumerStatsRegistry and
//     exported by a custom collector at scrape time. These series exist only
//     while the consumer is attached.
//
// PULL MODEL:
// topicbus does not push measurements anywhere. Prometheus (or any scraper
// speaking the exposition format) drives collection by hitting /metrics; each
// scrape takes a fresh snapshot of the consumer registry. The backend owns
// rate computation; everything cumulative here is a running total.
//
// LABEL CARDINALITY:
// Topic-labeled series are bounded by topic count. Consumer-labeled series
// are bounded by the number of currently attached consumers because detach
// removes the series outright (see consumer_stats.go). Never add labels with
// unbounded value spaces (message IDs, offsets, timestamps).
//
// NAMING:
//   {namespace}_{subsystem}_{name}_{unit}
//   topicbus_broker_messages_in_total
//   topicbus_consumer_messages_out_total
//
// =============================================================================

package metrics

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all topicbus metrics and the underlying Prometheus
// registry.
//
// WHY WRAP prometheus.Registry?
//   - Single initialization point, isolated per test
//   - Groups metrics by subsystem (Broker, Consumer)
//   - Lets metrics be disabled wholesale via config
type Registry struct {
	promRegistry *prometheus.Registry
	config       Config
	logger       *slog.Logger
	enabled      bool

	// Broker holds the long-lived topic-level counters.
	Broker *BrokerMetrics

	// Consumer is the per-consumer stats registry; the export collector
	// reads it on every scrape.
	Consumer *ConsumerStatsRegistry
}

// Config holds metrics configuration.
type Config struct {
	// Enabled turns metrics collection on/off. When disabled, all metric
	// operations are no-ops and /metrics serves an empty page.
	Enabled bool `yaml:"enabled"`

	// Namespace is the prefix for all metric names (default: "topicbus").
	Namespace string `yaml:"namespace"`

	// IncludeGoCollector adds Go runtime metrics (goroutines, GC, memory).
	IncludeGoCollector bool `yaml:"include_go_collector"`

	// IncludeProcessCollector adds process metrics (CPU, RSS, fds).
	IncludeProcessCollector bool `yaml:"include_process_collector"`
}

// DefaultConfig returns sensible defaults for metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		Namespace:               "topicbus",
		IncludeGoCollector:      true,
		IncludeProcessCollector: true,
	}
}

// =============================================================================
// GLOBAL REGISTRY (SINGLETON)
// =============================================================================
//
// The registry is injected explicitly into the broker and the API server;
// the singleton exists so auxiliary code paths (debug handlers, one-off
// tooling) can reach the same instance without threading it everywhere.
// Tests always use NewRegistry directly.

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Init initializes the global metrics registry. Call once at startup.
func Init(config Config) *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry(config)
	})
	return globalRegistry
}

// Get returns the global metrics registry, or nil before Init.
func Get() *Registry {
	return globalRegistry
}

// =============================================================================
// REGISTRY CREATION
// =============================================================================

// NewRegistry creates a metrics registry. Use Init for the global singleton,
// NewRegistry for isolated instances in tests.
func NewRegistry(config Config) *Registry {
	logger := slog.Default().With("component", "metrics")

	if config.Namespace == "" {
		config.Namespace = "topicbus"
	}

	r := &Registry{
		promRegistry: prometheus.NewRegistry(),
		config:       config,
		logger:       logger,
		enabled:      config.Enabled,
	}

	// The consumer stats registry exists even when metrics are disabled so
	// the attach path never has to branch; it just never gets exported.
	r.Consumer = NewConsumerStatsRegistry(logger)

	if !config.Enabled {
		logger.Info("metrics collection disabled")
		return r
	}

	if config.IncludeGoCollector {
		r.promRegistry.MustRegister(collectors.NewGoCollector())
	}
	if config.IncludeProcessCollector {
		r.promRegistry.MustRegister(collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		))
	}

	r.Broker = newBrokerMetrics(r)
	r.promRegistry.MustRegister(newConsumerStatsCollector(config.Namespace, r.Consumer, logger))

	logger.Info("metrics registry initialized", "namespace", config.Namespace)
	return r
}

// =============================================================================
// HTTP HANDLER
// =============================================================================

// Handler returns the HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	if !r.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("# Metrics disabled\n"))
		})
	}

	return promhttp.HandlerFor(r.promRegistry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          &promLogger{logger: r.logger},
		Registry:          r.promRegistry,
	})
}

// promLogger adapts slog to the Prometheus handler's error logging interface.
type promLogger struct {
	logger *slog.Logger
}

func (l *promLogger) Println(v ...interface{}) {
	l.logger.Error("prometheus handler error", "error", v)
}

// =============================================================================
// UTILITY METHODS
// =============================================================================

// Enabled returns true if metrics collection is enabled.
func (r *Registry) Enabled() bool {
	return r.enabled
}

// Namespace returns the configured namespace.
func (r *Registry) Namespace() string {
	return r.config.Namespace
}

// PrometheusRegistry returns the underlying Prometheus registry. Use
// sparingly; prefer the subsystem surfaces.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.promRegistry
}

// =============================================================================
// METRIC REGISTRATION HELPERS
// =============================================================================

// newCounterVec creates and registers a counter vector under the configured
// namespace.
func (r *Registry) newCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace = r.config.Namespace
	counterVec := prometheus.NewCounterVec(opts, labelNames)
	r.promRegistry.MustRegister(counterVec)
	return counterVec
}

// newGaugeVec creates and registers a gauge vector under the configured
// namespace.
func (r *Registry) newGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	opts.Namespace = r.config.Namespace
	gaugeVec := prometheus.NewGaugeVec(opts, labelNames)
	r.promRegistry.MustRegister(gaugeVec)
	return gaugeVec
}
