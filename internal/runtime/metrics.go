package runtime

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/kitchenflow/internal/kitchen"
	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
)

const metricsNamespace = "kitchen"

// Metrics holds the Prometheus collectors of the bridge and the order
// handler. A nil *Metrics records nothing.
type Metrics struct {
	mu         sync.Mutex
	registered bool

	ordersReceived    prometheus.Counter
	messagesDiscarded prometheus.Counter
	messagesDropped   prometheus.Counter
	eventsPublished   *prometheus.CounterVec
	orderErrors       *prometheus.CounterVec
	ordersInFlight    prometheus.Gauge
	prepSeconds       prometheus.Histogram
	connectAttempts   *prometheus.CounterVec
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		ordersReceived:    newCounter("orders", "received_total", "Messages accepted on an order topic"),
		messagesDiscarded: newCounter("bridge", "discarded_total", "Messages discarded because their topic is not an order topic"),
		messagesDropped:   newCounter("bridge", "dropped_total", "Messages dropped because the bridge was shutting down"),
		eventsPublished:   newCounterVec("events", "published_total", "Food events published, by status", []string{"status"}),
		orderErrors:       newCounterVec("orders", "errors_total", "Order handling failures, by category", []string{"category"}),
		ordersInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "in_flight",
			Help:      "Orders currently being prepared",
		}),
		prepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "prep_seconds",
			Help:      "Drawn preparation time of ready orders",
			Buckets:   []float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4, 5, 10},
		}),
		connectAttempts: newCounterVec("broker", "connect_attempts_total", "Broker connection attempts, by result", []string{"result"}),
	}
}

// Register registers the collectors with registerer, or the default
// registerer when nil. Safe to call multiple times; collectors that are
// already registered are left in place.
func (m *Metrics) Register(registerer prometheus.Registerer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	collectors := []prometheus.Collector{
		m.ordersReceived,
		m.messagesDiscarded,
		m.messagesDropped,
		m.eventsPublished,
		m.orderErrors,
		m.ordersInFlight,
		m.prepSeconds,
		m.connectAttempts,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) orderReceived() {
	if m == nil {
		return
	}
	m.ordersReceived.Inc()
}

func (m *Metrics) messageDiscarded() {
	if m == nil {
		return
	}
	m.messagesDiscarded.Inc()
}

func (m *Metrics) messageDropped() {
	if m == nil {
		return
	}
	m.messagesDropped.Inc()
}

func (m *Metrics) eventPublished(status kitchen.Status) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) orderFailed(category errspkg.Category) {
	if m == nil {
		return
	}
	m.orderErrors.WithLabelValues(string(category)).Inc()
}

func (m *Metrics) inFlightAdd(delta float64) {
	if m == nil {
		return
	}
	m.ordersInFlight.Add(delta)
}

func (m *Metrics) observePrep(ms int64) {
	if m == nil {
		return
	}
	m.prepSeconds.Observe(float64(ms) / 1000)
}

func (m *Metrics) connectAttempt(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}
