package node

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the per-node counters spec.md's ambient observability section
// calls out: put/delete volume and how often the table had to resize.
// Gets are not counted: a client's Get asks the node for the key's entry
// descriptor (handleLookup) and then reads the value with its own one-sided
// read, and no counter here tracks those lookups.
type Metrics struct {
	puts      prometheus.Counter
	putFailed prometheus.Counter
	dels      prometheus.Counter
	resizes   prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydra", Subsystem: "node", Name: "puts_total",
			Help: "Successful put operations handled by this node.",
		}),
		putFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydra", Subsystem: "node", Name: "put_failures_total",
			Help: "Put operations that failed, whatever the cause.",
		}),
		dels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydra", Subsystem: "node", Name: "deletes_total",
			Help: "Successful delete operations handled by this node.",
		}),
		resizes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydra", Subsystem: "node", Name: "resizes_total",
			Help: "Table resizes triggered by an exhausted placement attempt.",
		}),
	}
}

// Register attaches every metric to reg (typically prometheus.DefaultRegisterer).
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.puts, m.putFailed, m.dels, m.resizes} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
