package session

import (
	"strings"

	"warden/cmd/internal/auth/autherr"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts orchestrator outcomes. A nil *Metrics records nothing.
type Metrics struct {
	ops   *prometheus.CounterVec
	swept prometheus.Counter
}

// NewMetrics registers the session collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Auth orchestrator operations by outcome.",
		}, []string{"op", "outcome"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "sessions",
			Name:      "swept_total",
			Help:      "Expired refresh sessions deleted by the sweeper.",
		}),
	}
	for _, c := range []prometheus.Collector{m.ops, m.swept} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) addSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

// outcome keeps label cardinality bounded to the error code set.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := autherr.CodeOf(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}
