package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API, tasks and push gateway.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	tasksCreatedTotal     *prometheus.CounterVec
	tasksFinishedTotal    *prometheus.CounterVec
	codesGeneratedTotal   *prometheus.CounterVec
	taskDuration          *prometheus.HistogramVec
	tasksRunning          *prometheus.GaugeVec
	submissionsRejected   *prometheus.CounterVec
	previewDecisionsTotal *prometheus.CounterVec
	registryTasks         *prometheus.GaugeVec
	streamConnections     prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codegen_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "codegen_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		tasksCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codegen_engine",
				Name:      "tasks_created_total",
				Help:      "Total number of generation tasks created by kind.",
			},
			[]string{"kind"},
		),
		tasksFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codegen_engine",
				Name:      "tasks_finished_total",
				Help:      "Total number of generation tasks that reached a terminal state.",
			},
			[]string{"kind", "status"},
		),
		codesGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codegen_engine",
				Name:      "codes_generated_total",
				Help:      "Total number of codes delivered by completed tasks.",
			},
			[]string{"kind"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "codegen_engine",
				Name:      "task_duration_seconds",
				Help:      "Run time of completed tasks in seconds grouped by kind.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"kind"},
		),
		tasksRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "codegen_engine",
				Name:      "tasks_running",
				Help:      "Current number of running tasks grouped by kind.",
			},
			[]string{"kind"},
		),
		submissionsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codegen_engine",
				Name:      "submissions_rejected_total",
				Help:      "Total number of rejected generation submissions by reason.",
			},
			[]string{"reason"},
		),
		previewDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codegen_engine",
				Name:      "preview_decisions_total",
				Help:      "Total number of preview outcomes by decision.",
			},
			[]string{"decision"},
		),
		registryTasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "codegen_engine",
				Name:      "registry_tasks",
				Help:      "Tasks held by the in-memory registry grouped by state.",
			},
			[]string{"state"},
		),
		streamConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "codegen_engine",
				Name:      "stream_connections",
				Help:      "Current number of open progress stream connections.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.tasksCreatedTotal,
		m.tasksFinishedTotal,
		m.codesGeneratedTotal,
		m.taskDuration,
		m.tasksRunning,
		m.submissionsRejected,
		m.previewDecisionsTotal,
		m.registryTasks,
		m.streamConnections,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// readiness checks would dominate the request counters
		if path == "/readyz" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncTaskCreated(kind string) {
	if m == nil {
		return
	}
	m.tasksCreatedTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncTaskRunning(kind string) {
	if m == nil {
		return
	}
	m.tasksRunning.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) DecTaskRunning(kind string) {
	if m == nil {
		return
	}
	m.tasksRunning.WithLabelValues(normalizeLabel(kind)).Dec()
}

// ObserveTaskFinished records a terminal transition. codes and duration are
// only recorded for completed runs.
func (m *Metrics) ObserveTaskFinished(kind string, status string, codes int, duration time.Duration) {
	if m == nil {
		return
	}

	kindLabel := normalizeLabel(kind)
	statusLabel := normalizeLabel(status)
	m.tasksFinishedTotal.WithLabelValues(kindLabel, statusLabel).Inc()
	if statusLabel != "completed" {
		return
	}

	if codes > 0 {
		m.codesGeneratedTotal.WithLabelValues(kindLabel).Add(float64(codes))
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.taskDuration.WithLabelValues(kindLabel).Observe(seconds)
}

func (m *Metrics) IncSubmissionRejected(reason string) {
	if m == nil {
		return
	}
	m.submissionsRejected.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncPreviewDecision(decision string) {
	if m == nil {
		return
	}
	m.previewDecisionsTotal.WithLabelValues(normalizeLabel(decision)).Inc()
}

func (m *Metrics) SetRegistryTasks(active int, retained int) {
	if m == nil {
		return
	}
	m.registryTasks.WithLabelValues("active").Set(float64(active))
	m.registryTasks.WithLabelValues("retained").Set(float64(retained))
}

func (m *Metrics) IncStreamConnections() {
	if m == nil {
		return
	}
	m.streamConnections.Inc()
}

func (m *Metrics) DecStreamConnections() {
	if m == nil {
		return
	}
	m.streamConnections.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
