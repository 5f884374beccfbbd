package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics are engine-owned and registered by the hosting server, so two
// engines in one process (or test) never collide.
type Metrics struct {
	NodesIndexed    prometheus.Counter
	NodeErrors      prometheus.Counter
	Cascades        prometheus.Counter
	ContentHarvests prometheus.Counter
	Commits         prometheus.Counter
	Rollbacks       prometheus.Counter
}

func newMetrics() *Metrics {
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "indexsync", Subsystem: "engine", Name: name, Help: help}
	}
	return &Metrics{
		NodesIndexed:    prometheus.NewCounter(opts("nodes_indexed_total", "node documents written to the index")),
		NodeErrors:      prometheus.NewCounter(opts("node_errors_total", "nodes replaced by error documents")),
		Cascades:        prometheus.NewCounter(opts("cascades_total", "descendant documents patched by cascades")),
		ContentHarvests: prometheus.NewCounter(opts("content_harvests_total", "content harvest operations")),
		Commits:         prometheus.NewCounter(opts("commits_total", "index commits")),
		Rollbacks:       prometheus.NewCounter(opts("rollbacks_total", "index rollbacks")),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.NodesIndexed, m.NodeErrors, m.Cascades, m.ContentHarvests, m.Commits, m.Rollbacks)
}
