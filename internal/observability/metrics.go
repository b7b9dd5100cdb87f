// Package observability exposes Prometheus metrics for the gateway: HTTP
// traffic, database queries, GraphQL operations, and the change data capture
// stream.
package observability

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Database metrics
	dbQueriesTotal    *prometheus.CounterVec
	dbQueryDuration   *prometheus.HistogramVec
	dbConnections     prometheus.Gauge
	dbConnectionsIdle prometheus.Gauge
	dbConnectionsMax  prometheus.Gauge

	// GraphQL metrics
	graphqlOperationsTotal   *prometheus.CounterVec
	graphqlOperationDuration *prometheus.HistogramVec
	graphqlRejectionsTotal   *prometheus.CounterVec
	schemaRebuildsTotal      prometheus.Counter

	// Change data capture metrics
	cdcEventsTotal        *prometheus.CounterVec
	cdcDroppedEventsTotal *prometheus.CounterVec
	cdcSubscriptions      prometheus.Gauge

	// System metrics
	systemUptime prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgqlgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgqlgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pgqlgate_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served",
			},
		),
		dbQueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgqlgate_db_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),
		dbQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgqlgate_db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation", "table"},
		),
		dbConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pgqlgate_db_connections",
				Help: "Number of open database connections",
			},
		),
		dbConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pgqlgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		dbConnectionsMax: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pgqlgate_db_connections_max",
				Help: "Maximum number of database connections",
			},
		),
		graphqlOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgqlgate_graphql_operations_total",
				Help: "Total number of GraphQL operations executed",
			},
			[]string{"operation_type", "status"},
		),
		graphqlOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgqlgate_graphql_operation_duration_seconds",
				Help:    "GraphQL operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation_type"},
		),
		graphqlRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgqlgate_graphql_rejections_total",
				Help: "Requests rejected before execution, by rule",
			},
			[]string{"rule"},
		),
		schemaRebuildsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pgqlgate_schema_rebuilds_total",
				Help: "Total number of GraphQL schema rebuilds",
			},
		),
		cdcEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgqlgate_cdc_events_total",
				Help: "Change events published to subscribers",
			},
			[]string{"table", "operation"},
		),
		cdcDroppedEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgqlgate_cdc_dropped_events_total",
				Help: "Change events dropped for slow subscribers",
			},
			[]string{"table"},
		),
		cdcSubscriptions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pgqlgate_cdc_subscriptions",
				Help: "Active change subscriptions",
			},
		),
		systemUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pgqlgate_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		path := c.Route().Path
		m.httpRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())

		return err
	}
}

// RecordDBQuery records a database query execution
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueriesTotal.WithLabelValues(operation, table, status).Inc()
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// UpdateDBStats updates connection pool gauges
func (m *Metrics) UpdateDBStats(total, idle, max int32) {
	m.dbConnections.Set(float64(total))
	m.dbConnectionsIdle.Set(float64(idle))
	m.dbConnectionsMax.Set(float64(max))
}

// RecordGraphQLOperation records one executed operation
func (m *Metrics) RecordGraphQLOperation(operationType string, duration time.Duration, failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	m.graphqlOperationsTotal.WithLabelValues(operationType, status).Inc()
	m.graphqlOperationDuration.WithLabelValues(operationType).Observe(duration.Seconds())
}

// RecordRejection records a request refused by a pre-execution rule
func (m *Metrics) RecordRejection(rule string) {
	m.graphqlRejectionsTotal.WithLabelValues(rule).Inc()
}

// RecordSchemaRebuild counts a GraphQL schema rebuild
func (m *Metrics) RecordSchemaRebuild() {
	m.schemaRebuildsTotal.Inc()
}

// RecordChangeEvent counts one published change event
func (m *Metrics) RecordChangeEvent(table, operation string) {
	m.cdcEventsTotal.WithLabelValues(table, operation).Inc()
}

// RecordDroppedEvent counts a change event dropped for a slow subscriber
func (m *Metrics) RecordDroppedEvent(table string) {
	m.cdcDroppedEventsTotal.WithLabelValues(table).Inc()
}

// UpdateSubscriptions sets the active change subscription gauge
func (m *Metrics) UpdateSubscriptions(count int) {
	m.cdcSubscriptions.Set(float64(count))
}

// UpdateUptime sets the uptime gauge from the process start time
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.systemUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns the Prometheus scrape endpoint as a Fiber handler
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
