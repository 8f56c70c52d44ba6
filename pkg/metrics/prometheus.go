package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics backs Collector with real Prometheus instrumentation,
// labeled by serial port so a multi-bus adapter exposes per-bus series.
type PrometheusMetrics struct {
	reads       *prometheus.CounterVec
	readErrors  *prometheus.CounterVec
	readSeconds *prometheus.HistogramVec
	connected   *prometheus.GaugeVec
	devices     *prometheus.GaugeVec
	busAborts   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics builds and registers every series on a private
// registry, so repeated construction in tests never collides with the
// default global registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_adapter_reads_total",
			Help: "Total number of successful burst reads.",
		}, []string{"port"}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_adapter_read_errors_total",
			Help: "Total number of failed burst reads.",
		}, []string{"port", "retryable"}),
		readSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modbus_adapter_read_duration_seconds",
			Help:    "Burst read duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"port"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modbus_adapter_bus_connected",
			Help: "1 if the bus on this port is connected, 0 otherwise.",
		}, []string{"port"}),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modbus_adapter_devices_registered",
			Help: "Number of devices currently registered on this port.",
		}, []string{"port"}),
		busAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_adapter_bus_aborts_total",
			Help: "Total number of bus aborts.",
		}, []string{"port"}),
		registry: prometheus.NewRegistry(),
	}
	pm.registry.MustRegister(pm.reads, pm.readErrors, pm.readSeconds, pm.connected, pm.devices, pm.busAborts)
	return pm
}

func (pm *PrometheusMetrics) IncrementReads(port string) {
	pm.reads.WithLabelValues(port).Inc()
}

func (pm *PrometheusMetrics) IncrementReadErrors(port string, retryable bool) {
	pm.readErrors.WithLabelValues(port, fmt.Sprintf("%t", retryable)).Inc()
}

func (pm *PrometheusMetrics) ObserveReadDuration(port string, d time.Duration) {
	pm.readSeconds.WithLabelValues(port).Observe(d.Seconds())
}

func (pm *PrometheusMetrics) SetBusConnected(port string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	pm.connected.WithLabelValues(port).Set(v)
}

func (pm *PrometheusMetrics) SetDevicesRegistered(port string, count int) {
	pm.devices.WithLabelValues(port).Set(float64(count))
}

func (pm *PrometheusMetrics) IncrementBusAborts(port string) {
	pm.busAborts.WithLabelValues(port).Inc()
}

// StartServer exposes the registry on /metrics. port == 0 disables it.
func (pm *PrometheusMetrics) StartServer(port int) error {
	if port == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		Handler:           mux,
	}
	return server.ListenAndServe()
}

var _ Collector = (*PrometheusMetrics)(nil)
