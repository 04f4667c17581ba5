// Package metrics exposes relay measurements in Prometheus format.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/rescuemesh/internal/model"
)

// Collector bundles the relay metrics. A nil *Collector is a valid no-op.
type Collector struct {
	gatherer prometheus.Gatherer

	Outcomes       *prometheus.CounterVec
	RelayDurations *prometheus.HistogramVec
	Frames         *prometheus.CounterVec
	Transitions    *prometheus.CounterVec

	QueueDepth prometheus.Gauge
	Neighbors  prometheus.Gauge
	Internet   prometheus.Gauge
}

// NewCollector registers relay metrics against reg, defaulting to the
// global registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	outcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rescuemesh_relay_outcomes_total",
		Help: "Relay attempts, labeled by status and outcome code.",
	}, []string{"status", "code"}), "rescuemesh_relay_outcomes_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rescuemesh_relay_duration_seconds",
		Help:    "Wall time of a relay attempt, from routing to outcome.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20, 40},
	}, []string{"status"}), "rescuemesh_relay_duration_seconds")
	if err != nil {
		return nil, err
	}

	frames, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rescuemesh_frames_received_total",
		Help: "Inbound frames, labeled by the acknowledgement sent.",
	}, []string{"result"}), "rescuemesh_frames_received_total")
	if err != nil {
		return nil, err
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rescuemesh_connection_transitions_total",
		Help: "Connection manager state transitions, labeled by target state.",
	}, []string{"state"}), "rescuemesh_connection_transitions_total")
	if err != nil {
		return nil, err
	}

	queue, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rescuemesh_queue_depth",
		Help: "Packets waiting for a next hop.",
	}), "rescuemesh_queue_depth")
	if err != nil {
		return nil, err
	}
	neighbors, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rescuemesh_neighbors",
		Help: "Neighbors considered by the last routing decision.",
	}), "rescuemesh_neighbors")
	if err != nil {
		return nil, err
	}
	internet, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rescuemesh_internet_available",
		Help: "1 when this node currently has internet access.",
	}), "rescuemesh_internet_available")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		Outcomes:       outcomes,
		RelayDurations: durations,
		Frames:         frames,
		Transitions:    transitions,
		QueueDepth:     queue,
		Neighbors:      neighbors,
		Internet:       internet,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveOutcome records one relay outcome.
func (c *Collector) ObserveOutcome(status model.RelayStatus, code string, d time.Duration) {
	if c == nil {
		return
	}
	c.Outcomes.WithLabelValues(string(status), code).Inc()
	c.RelayDurations.WithLabelValues(string(status)).Observe(d.Seconds())
}

// SetQueueDepth sets the pending queue gauge.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

// SetNeighbors sets the neighbor gauge.
func (c *Collector) SetNeighbors(n int) {
	if c == nil {
		return
	}
	c.Neighbors.Set(float64(n))
}

// SetInternet records the connectivity probe result.
func (c *Collector) SetInternet(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.Internet.Set(1)
	} else {
		c.Internet.Set(0)
	}
}

// ObserveFrame counts an inbound frame by the byte answered ("ack" or "nak").
func (c *Collector) ObserveFrame(result string) {
	if c == nil {
		return
	}
	c.Frames.WithLabelValues(result).Inc()
}

// ObserveTransition counts a connection state change.
func (c *Collector) ObserveTransition(to string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(to).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
