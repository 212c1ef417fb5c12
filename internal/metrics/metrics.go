package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rtlamr2mqtt"

// Metrics holds the bridge's Prometheus collectors.
//
// All recording methods are safe on a nil *Metrics, so components can run
// without metrics enabled.
type Metrics struct {
	readings        *prometheus.CounterVec
	lines           prometheus.Counter
	parseDrops      prometheus.Counter
	processStarts   *prometheus.CounterVec
	processRestarts *prometheus.CounterVec
	startFailures   *prometheus.CounterVec
	cycles          prometheus.Counter
	announcements   prometheus.Counter
	resyncs         prometheus.Counter
	publishErrors   *prometheus.CounterVec
	inboxDropped    prometheus.Counter
	knownMeters     prometheus.Gauge
	brokerUp        prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_published_total",
			Help:      "Meter readings published to the state topic.",
		}, []string{"meter_id"}),
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoder_lines_total",
			Help:      "Lines read from the decoder output.",
		}),
		parseDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoder_lines_dropped_total",
			Help:      "Decoder lines that did not contain a reading.",
		}),
		processStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_starts_total",
			Help:      "Child processes that reached the ready state.",
		}, []string{"process"}),
		processRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_restarts_total",
			Help:      "Child processes restarted after dying.",
		}, []string{"process"}),
		startFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_start_failures_total",
			Help:      "Child process start attempts that failed.",
		}, []string{"process"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_cycles_total",
			Help:      "Read cycles completed with every known meter reported.",
		}),
		announcements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_announcements_total",
			Help:      "Discovery payloads published.",
		}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_resyncs_total",
			Help:      "Discovery resyncs triggered by the Home Assistant status topic.",
		}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "MQTT publishes that failed, by message kind.",
		}, []string{"kind"}),
		inboxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_dropped_total",
			Help:      "Inbound MQTT messages dropped because the inbox was full.",
		}),
		knownMeters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_meters",
			Help:      "Meters configured or discovered in this run.",
		}),
		brokerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while the MQTT connection is up.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.readings, m.lines, m.parseDrops,
			m.processStarts, m.processRestarts, m.startFailures,
			m.cycles, m.announcements, m.resyncs,
			m.publishErrors, m.inboxDropped, m.knownMeters,
			m.brokerUp,
		)
	}
	return m
}

func (m *Metrics) ReadingPublished(meterID string) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(meterID).Inc()
}

func (m *Metrics) LineRead() {
	if m == nil {
		return
	}
	m.lines.Inc()
}

func (m *Metrics) LineDropped() {
	if m == nil {
		return
	}
	m.parseDrops.Inc()
}

func (m *Metrics) ProcessStarted(process string) {
	if m == nil {
		return
	}
	m.processStarts.WithLabelValues(process).Inc()
}

func (m *Metrics) ProcessRestarted(process string) {
	if m == nil {
		return
	}
	m.processRestarts.WithLabelValues(process).Inc()
}

func (m *Metrics) StartFailed(process string) {
	if m == nil {
		return
	}
	m.startFailures.WithLabelValues(process).Inc()
}

func (m *Metrics) CycleCompleted() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

func (m *Metrics) Announced() {
	if m == nil {
		return
	}
	m.announcements.Inc()
}

func (m *Metrics) Resynced() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}

// PublishFailed counts a failed publish; kind is status, state,
// attributes or discovery.
func (m *Metrics) PublishFailed(kind string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) InboxDropped() {
	if m == nil {
		return
	}
	m.inboxDropped.Inc()
}

func (m *Metrics) SetKnownMeters(n int) {
	if m == nil {
		return
	}
	m.knownMeters.Set(float64(n))
}

func (m *Metrics) SetBrokerConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.brokerUp.Set(1)
		return
	}
	m.brokerUp.Set(0)
}
