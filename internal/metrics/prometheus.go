package metrics

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cyberguard/cyberguard/internal/dashboard"
	"github.com/cyberguard/cyberguard/internal/scan"
)

const (
	// Namespace for all cyberguard metrics
	namespace = "cyberguard"

	// Subsystems
	subsystemScan      = "scan"
	subsystemAuth      = "auth"
	subsystemInventory = "inventory"
	subsystemStore     = "store"
	subsystemSystem    = "system"
	subsystemAPI       = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal      *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	progressUpdates prometheus.Counter
	activeScans     prometheus.Gauge

	// Auth metrics
	loginAttempts  *prometheus.CounterVec
	activeSessions prometheus.Gauge

	// Inventory metrics, refreshed by the reporter
	inventory *prometheus.GaugeVec

	// Store metrics
	storeOps        *prometheus.CounterVec
	storeOpDuration *prometheus.HistogramVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance on its own
// registry with all collectors registered.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initScanMetrics()
	pm.initAuthMetrics()
	pm.initInventoryMetrics()
	pm.initStoreMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initScanMetrics initializes scan-related metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scan lifecycle transitions by event",
		},
		[]string{"event"},
	)

	pm.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Time from scan creation to completion in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
	)

	pm.progressUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "progress_updates_total",
			Help:      "Total number of scan progress advances",
		},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of scans created but not yet completed",
		},
	)
}

// initAuthMetrics initializes login and session metrics
func (pm *PrometheusMetrics) initAuthMetrics() {
	pm.loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAuth,
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	pm.activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemAuth,
			Name:      "sessions_active",
			Help:      "Number of unexpired login sessions",
		},
	)
}

// initInventoryMetrics initializes the dashboard summary gauges
func (pm *PrometheusMetrics) initInventoryMetrics() {
	pm.inventory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemInventory,
			Name:      "items",
			Help:      "Dashboard summary counts by item kind",
		},
		[]string{"kind"},
	)
}

// initStoreMetrics initializes entity store metrics
func (pm *PrometheusMetrics) initStoreMetrics() {
	pm.storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemStore,
			Name:      "operations_total",
			Help:      "Total number of store operations by operation, kind and status",
		},
		[]string{"operation", "kind", "status"},
	)

	pm.storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemStore,
			Name:      "operation_duration_seconds",
			Help:      "Duration of store operations in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)
}

// initAPIMetrics initializes API-related metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "route"},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.scansTotal,
		pm.scanDuration,
		pm.progressUpdates,
		pm.activeScans,
		pm.loginAttempts,
		pm.activeSessions,
		pm.inventory,
		pm.storeOps,
		pm.storeOpDuration,
		pm.httpRequests,
		pm.httpDuration,
		pm.memoryUsage,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for the HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Scan Metrics Methods

// ScanEvent implements scan.Observer.
func (pm *PrometheusMetrics) ScanEvent(e scan.Event) {
	pm.scansTotal.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case scan.EventCreated:
		pm.activeScans.Inc()
	case scan.EventProgress:
		pm.progressUpdates.Inc()
	case scan.EventCompleted:
		pm.activeScans.Dec()
		if e.Scan.CompletedAt != nil {
			pm.scanDuration.Observe(e.Scan.CompletedAt.Sub(e.Scan.CreatedAt).Seconds())
		}
	}
}

// Auth Metrics Methods

// RecordLogin increments the login attempt counter for outcome
func (pm *PrometheusMetrics) RecordLogin(outcome string) {
	pm.loginAttempts.WithLabelValues(outcome).Inc()
}

// SetActiveSessions sets the number of live sessions
func (pm *PrometheusMetrics) SetActiveSessions(count int) {
	pm.activeSessions.Set(float64(count))
}

// Inventory Metrics Methods

// SetSummary publishes the dashboard summary counts
func (pm *PrometheusMetrics) SetSummary(s dashboard.Summary) {
	pm.inventory.WithLabelValues("devices").Set(float64(s.DeviceCount))
	pm.inventory.WithLabelValues("open_ports").Set(float64(s.OpenPortsCount))
	pm.inventory.WithLabelValues("critical_cves").Set(float64(s.CriticalCVECount))
	pm.inventory.WithLabelValues("security_items").Set(float64(s.SecurityItemsCount))
}

// Store Metrics Methods

// RecordStoreOperation records one store call
func (pm *PrometheusMetrics) RecordStoreOperation(operation, kind string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pm.storeOps.WithLabelValues(operation, kind, status).Inc()
	pm.storeOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// API Metrics Methods

// RecordHTTPRequest records request count and duration
func (pm *PrometheusMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	pm.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	pm.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())

	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last system metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is
// done. It always returns nil so it can run in an errgroup.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}
