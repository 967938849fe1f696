package tx

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics 事务计数器，未配置时为 nil，所有方法可安全调用
type metrics struct {
	begunTotal      prometheus.Counter
	committedTotal  prometheus.Counter
	rolledBackTotal prometheus.Counter
	heuristicTotal  prometheus.Counter
}

func newMetrics(namespace string, reg prometheus.Registerer) *metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      name,
			Help:      help,
		})
	}
	m := &metrics{
		begunTotal:      counter("begun_total", "Total number of transactions begun"),
		committedTotal:  counter("committed_total", "Total number of committed transactions"),
		rolledBackTotal: counter("rolled_back_total", "Total number of rolled back transactions"),
		heuristicTotal:  counter("heuristic_total", "Total number of transactions with unknown outcome"),
	}
	reg.MustRegister(m.begunTotal, m.committedTotal, m.rolledBackTotal, m.heuristicTotal)
	return m
}

func (m *metrics) begun() {
	if m != nil {
		m.begunTotal.Inc()
	}
}

func (m *metrics) finished(status Status) {
	if m == nil {
		return
	}
	switch status {
	case StatusCommitted:
		m.committedTotal.Inc()
	case StatusUnknown:
		m.heuristicTotal.Inc()
	default:
		m.rolledBackTotal.Inc()
	}
}
