package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/berfenger/wienernetze2mqtt/internal/core/service"
	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wienernetze"

// Metrics holds the bridge collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	pollCycles       *prometheus.CounterVec
	apiRequests      *prometheus.CounterVec
	apiLatency       *prometheus.HistogramVec
	consumptionToday *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Number of poll cycles by result.",
		}, []string{"result"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Number of smart meter API calls by endpoint and HTTP status.",
		}, []string{"endpoint", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Latency of smart meter API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		consumptionToday: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumption_today_kwh",
			Help:      "Consumption of the current day per meter point.",
		}, []string{"meter"}),
	}
	m.registry.MustRegister(m.pollCycles, m.apiRequests, m.apiLatency, m.consumptionToday)
	return m
}

// ObserveRequest matches wienernetze.RequestObserver.
func (m *Metrics) ObserveRequest(endpoint string, status int, duration time.Duration) {
	m.apiRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveCycle matches service.CycleObserver.
func (m *Metrics) ObserveCycle(result string, _ time.Duration, snapshot service.Snapshot) {
	m.pollCycles.WithLabelValues(result).Inc()
	for id, md := range snapshot {
		m.consumptionToday.WithLabelValues(id).Set(wienernetze.TotalConsumption(wienernetze.FlattenReadings(md.Consumption)))
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
