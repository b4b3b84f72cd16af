package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/wodeewa/fleetd/core/metrics"
	"github.com/wodeewa/fleetd/core/model"
)

// PromSink records service counters as Prometheus metrics.
type PromSink struct {
	reports     *prometheus.CounterVec
	events      *prometheus.CounterVec
	drops       prometheus.Counter
	rentals     *prometheus.CounterVec
	subscribers prometheus.Gauge
}

// NewPromSink registers the metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_reports_total",
		Help: "Accepted unit reports by kind",
	}, []string{"kind"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_events_published_total",
		Help: "Events published on the bus by kind",
	}, []string{"kind"})
	drops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetd_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full",
	})
	rentals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_rental_ops_total",
		Help: "Take and return attempts by outcome",
	}, []string{"op", "ok"})
	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetd_stream_subscribers",
		Help: "Open event stream connections",
	})

	if err := reg.Register(reports); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			reports = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(events); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			events = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(drops); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			drops = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(rentals); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			rentals = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(subscribers); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			subscribers = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		reports:     reports,
		events:      events,
		drops:       drops,
		rentals:     rentals,
		subscribers: subscribers,
	}, nil
}

var _ coremetrics.Sink = (*PromSink)(nil)

func (s *PromSink) RecordReport(kind string) {
	s.reports.WithLabelValues(kind).Inc()
}

func (s *PromSink) RecordEvent(kind model.EventKind) {
	s.events.WithLabelValues(string(kind)).Inc()
}

func (s *PromSink) RecordEventDropped() {
	s.drops.Inc()
}

func (s *PromSink) RecordRental(op string, ok bool) {
	s.rentals.WithLabelValues(op, strconv.FormatBool(ok)).Inc()
}

func (s *PromSink) SetSubscribers(n int) {
	s.subscribers.Set(float64(n))
}
