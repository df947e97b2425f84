package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "binsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Local API requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	online = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online",
		Help:      "1 when the remote is reachable, 0 otherwise.",
	})

	connectivityTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connectivity_transitions_total",
			Help:      "Connectivity state changes by new state.",
		},
		[]string{"state"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by resource and result (hit, miss, stale).",
		},
		[]string{"resource", "result"},
	)

	pendingOperations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_operations",
			Help:      "Operations waiting for delivery by kind.",
		},
		[]string{"kind"},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Pending operation delivery attempts by kind and result.",
		},
		[]string{"kind", "result"},
	)

	drains = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "drains_total",
		Help:      "Completed drain cycles.",
	})
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			online,
			connectivityTransitions,
			cacheLookups,
			pendingOperations,
			deliveries,
			drains,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// SetOnline records the current connectivity and counts changes.
func SetOnline(isOnline, changed bool) {
	state := "offline"
	v := 0.0
	if isOnline {
		state = "online"
		v = 1
	}
	online.Set(v)
	if changed {
		connectivityTransitions.WithLabelValues(state).Inc()
	}
}

func CacheHit(resource string)   { cacheLookups.WithLabelValues(resource, "hit").Inc() }
func CacheMiss(resource string)  { cacheLookups.WithLabelValues(resource, "miss").Inc() }
func CacheStale(resource string) { cacheLookups.WithLabelValues(resource, "stale").Inc() }

// SetPending sets the queue depth gauge for kind.
func SetPending(kind string, n int) {
	pendingOperations.WithLabelValues(kind).Set(float64(n))
}

// ObserveDelivery counts a delivery attempt.
func ObserveDelivery(kind string, ok bool) {
	result := "failed"
	if ok {
		result = "succeeded"
	}
	deliveries.WithLabelValues(kind, result).Inc()
}

func IncDrain() {
	drains.Inc()
}
