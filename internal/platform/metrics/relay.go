package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookkeeping_relay"

// Command results recorded by CommandHandled.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultDropped  = "dropped"
)

// Relay holds the relay's Prometheus collectors. A nil *Relay is valid and
// records nothing.
type Relay struct {
	commands      *prometheus.CounterVec
	events        *prometheus.CounterVec
	loginFailures prometheus.Counter
	sessions      prometheus.Gauge
}

// NewRelay creates the collectors and registers them with reg.
func NewRelay(reg prometheus.Registerer) (*Relay, error) {
	m := &Relay{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Front-end commands handled, by command and result.",
		}, []string{"command", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_forwarded_total",
			Help:      "Events emitted to front-end sessions, by event type.",
		}, []string{"type"}),
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_failures_total",
			Help:      "Rejected sign-in attempts.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Connected front-end sessions.",
		}),
	}
	for _, c := range []prometheus.Collector{m.commands, m.events, m.loginFailures, m.sessions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Relay) CommandHandled(command, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, result).Inc()
}

func (m *Relay) EventForwarded(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Relay) LoginFailed() {
	if m == nil {
		return
	}
	m.loginFailures.Inc()
}

func (m *Relay) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Relay) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}
