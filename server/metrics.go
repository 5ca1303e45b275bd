package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kitlogrus "github.com/go-kit/kit/log/logrus"
	"github.com/go-kit/kit/metrics"
	discardMetrics "github.com/go-kit/kit/metrics/discard"
	expvarMetrics "github.com/go-kit/kit/metrics/expvar"
	kitinflux "github.com/go-kit/kit/metrics/influx"
	prometheusMetrics "github.com/go-kit/kit/metrics/prometheus"
	influx "github.com/influxdata/influxdb1-client/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

type MetricsBuilder interface {
	BuildConnectorMetrics() *ConnectorMetrics
	Start(ctx context.Context) error
}

const (
	MetricsBackendExpvar     = "expvar"
	MetricsBackendPrometheus = "prometheus"
	MetricsBackendInfluxDB   = "influxdb"
	MetricsBackendDiscard    = "discard"
)

type MetricsBackendConfig struct {
	Influxdb struct {
		Interval        time.Duration     `default:"1m"`
		Tags            map[string]string `usage:"any extra tags to be included with all reported metrics"`
		Addr            string
		Username        string
		Password        string
		Database        string
		RetentionPolicy string
	}
}

// NewMetricsBuilder creates a new MetricsBuilder based on the specified backend.
// If the backend is not recognized, a discard builder is returned.
// config can be nil if the backend is not influxdb.
func NewMetricsBuilder(backend string, config *MetricsBackendConfig) MetricsBuilder {
	switch strings.ToLower(backend) {
	case MetricsBackendExpvar:
		return &expvarMetricsBuilder{}
	case MetricsBackendPrometheus:
		return &prometheusMetricsBuilder{}
	case MetricsBackendInfluxDB:
		return &influxMetricsBuilder{config: config}
	default:
		return &discardMetricsBuilder{}
	}
}

// ConnectorMetrics is shared by every session, so only concurrency safe go-kit metrics are used
type ConnectorMetrics struct {
	// Errors is labelled by "type"
	Errors metrics.Counter
	// BytesTransmitted is labelled by "direction"
	BytesTransmitted    metrics.Counter
	ConnectionsFrontend metrics.Counter
	ConnectionsBackend  metrics.Counter
	ActiveConnections   metrics.Gauge
	// Verifications is labelled by "result"
	Verifications      metrics.Counter
	RateLimitAvailable metrics.Gauge
}

type expvarMetricsBuilder struct {
}

func (b expvarMetricsBuilder) Start(ctx context.Context) error {
	// nothing needed
	return nil
}

func (b expvarMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	return &ConnectorMetrics{
		Errors:              expvarMetrics.NewCounter("errors").With("subsystem", "connector"),
		BytesTransmitted:    expvarMetrics.NewCounter("bytes"),
		ConnectionsFrontend: expvarMetrics.NewCounter("connections_frontend"),
		ConnectionsBackend:  expvarMetrics.NewCounter("connections_backend"),
		ActiveConnections:   expvarMetrics.NewGauge("active_connections"),
		Verifications:       expvarMetrics.NewCounter("forwarding_verifications"),
		RateLimitAvailable:  expvarMetrics.NewGauge("rate_limit_available"),
	}
}

type discardMetricsBuilder struct {
}

func (b discardMetricsBuilder) Start(ctx context.Context) error {
	// nothing needed
	return nil
}

func (b discardMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	return &ConnectorMetrics{
		Errors:              discardMetrics.NewCounter(),
		BytesTransmitted:    discardMetrics.NewCounter(),
		ConnectionsFrontend: discardMetrics.NewCounter(),
		ConnectionsBackend:  discardMetrics.NewCounter(),
		ActiveConnections:   discardMetrics.NewGauge(),
		Verifications:       discardMetrics.NewCounter(),
		RateLimitAvailable:  discardMetrics.NewGauge(),
	}
}

type influxMetricsBuilder struct {
	config  *MetricsBackendConfig
	metrics *kitinflux.Influx
}

func (b *influxMetricsBuilder) Start(ctx context.Context) error {
	influxConfig := &b.config.Influxdb
	if influxConfig.Addr == "" {
		return errors.New("influx addr is required")
	}
	if b.metrics == nil {
		return errors.New("connector metrics need to be built before starting")
	}

	ticker := time.NewTicker(influxConfig.Interval)
	client, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     influxConfig.Addr,
		Username: influxConfig.Username,
		Password: influxConfig.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to create influx http client: %w", err)
	}

	go func() {
		defer ticker.Stop()
		b.metrics.WriteLoop(ctx, ticker.C, client)
	}()

	logrus.WithField("addr", influxConfig.Addr).
		Debug("reporting metrics to influxdb")

	return nil
}

func (b *influxMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	influxConfig := &b.config.Influxdb

	metrics := kitinflux.New(influxConfig.Tags, influx.BatchPointsConfig{
		Database:        influxConfig.Database,
		RetentionPolicy: influxConfig.RetentionPolicy,
	}, kitlogrus.NewLogger(logrus.StandardLogger()))

	b.metrics = metrics

	c := metrics.NewCounter("mc_legacy_forwarder_connections")
	return &ConnectorMetrics{
		Errors:              metrics.NewCounter("mc_legacy_forwarder_errors"),
		BytesTransmitted:    metrics.NewCounter("mc_legacy_forwarder_transmitted_bytes"),
		ConnectionsFrontend: c.With("side", "frontend"),
		ConnectionsBackend:  c.With("side", "backend"),
		ActiveConnections:   metrics.NewGauge("mc_legacy_forwarder_connections_active"),
		Verifications:       metrics.NewCounter("mc_legacy_forwarder_verifications"),
		RateLimitAvailable:  metrics.NewGauge("mc_legacy_forwarder_rate_limit_available"),
	}
}

type prometheusMetricsBuilder struct {
}

const prometheusNamespace = "mc_legacy_forwarder"

func (b prometheusMetricsBuilder) Start(ctx context.Context) error {
	// nothing needed, scraped through the API server
	return nil
}

func (b prometheusMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	return &ConnectorMetrics{
		Errors: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      "errors",
			Help:      "The total number of session errors",
		}, []string{"type"})),
		BytesTransmitted: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      "bytes",
			Help:      "The total number of bytes relayed",
		}, []string{"direction"})),
		ConnectionsFrontend: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   prometheusNamespace,
			Subsystem:   "frontend",
			Name:        "connections",
			Help:        "The total number of accepted proxy connections",
			ConstLabels: prometheus.Labels{"side": "frontend"},
		}, nil)),
		ConnectionsBackend: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   prometheusNamespace,
			Subsystem:   "backend",
			Name:        "connections",
			Help:        "The total number of backend connections",
			ConstLabels: prometheus.Labels{"side": "backend"},
		}, []string{"next_state"})),
		ActiveConnections: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "active_connections",
			Help:      "The number of sessions currently relaying",
		}, nil)),
		Verifications: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      "forwarding_verifications",
			Help:      "The total number of modern forwarding verifications",
		}, []string{"result"})),
		RateLimitAvailable: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "rate_limit_available",
			Help:      "The number of available tokens in the rate limit bucket",
		}, nil)),
	}
}
