package qrnes

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects counters and gauges from planning and routing.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// RouteDecisions counts next-hop decisions by kind ("static", "entangled")
	RouteDecisions *prometheus.CounterVec

	// RouteFaults counts routing calls rejected as usage faults or for lack of a route
	RouteFaults *prometheus.CounterVec

	// CutSize is the partition cut size, by stage ("initial", "final")
	CutSize *prometheus.GaugeVec

	// PlannedFlows counts planned flows by kind ("selected", "repair")
	PlannedFlows *prometheus.GaugeVec

	// RouterCapacity is the distribution of memories per router
	RouterCapacity prometheus.Histogram

	// MessageHops is the distribution of hops taken by messages delivered in the harness
	MessageHops prometheus.Histogram

	// MessagesDropped counts harness messages that were not delivered, by reason
	MessagesDropped *prometheus.CounterVec
}

// NewMetrics creates a registry with every metric registered
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.RouteDecisions = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrnes_route_decisions_total",
			Help: "Next-hop decisions made by static routing, by decision kind",
		},
		[]string{"kind"},
	)
	m.RouteFaults = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrnes_route_faults_total",
			Help: "Routing requests that could not be routed",
		},
		[]string{"reason"},
	)
	m.CutSize = promauto.With(reg).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qrnes_partition_cut_size",
			Help: "Edges crossing group boundaries",
		},
		[]string{"stage"},
	)
	m.PlannedFlows = promauto.With(reg).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qrnes_planned_flows",
			Help: "Flows chosen by the planner",
		},
		[]string{"kind"},
	)
	m.RouterCapacity = promauto.With(reg).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrnes_router_capacity_memories",
			Help:    "Memories sized for each router",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	m.MessageHops = promauto.With(reg).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrnes_message_hops",
			Help:    "Hops taken by delivered messages",
			Buckets: prometheus.LinearBuckets(1, 1, 16),
		},
	)
	m.MessagesDropped = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrnes_messages_dropped_total",
			Help: "Messages the routing harness gave up on",
		},
		[]string{"reason"},
	)
	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteToFile writes the current values in the Prometheus text format
func (m *Metrics) WriteToFile(filename string) error {
	return prometheus.WriteToTextfile(filename, m.registry)
}

func (m *Metrics) observeRoute(kind RouteKind) {
	if m == nil {
		return
	}
	m.RouteDecisions.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeRouteFault(reason string) {
	if m == nil {
		return
	}
	m.RouteFaults.WithLabelValues(reason).Inc()
}

func (m *Metrics) observePartition(pr *PartitionResult) {
	if m == nil || pr == nil {
		return
	}
	m.CutSize.WithLabelValues("initial").Set(float64(pr.InitialCut))
	m.CutSize.WithLabelValues("final").Set(float64(pr.FinalCut))
}

func (m *Metrics) observeFlowPlan(fp *FlowPlan) {
	if m == nil {
		return
	}
	m.PlannedFlows.WithLabelValues("selected").Set(float64(fp.TotalSelected()))
	m.PlannedFlows.WithLabelValues("repair").Set(float64(len(fp.Repairs)))
	for _, c := range fp.Capacity {
		m.RouterCapacity.Observe(float64(c))
	}
}

func (m *Metrics) observeDelivery(hops int) {
	if m == nil {
		return
	}
	m.MessageHops.Observe(float64(hops))
}

func (m *Metrics) observeDrop(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}
