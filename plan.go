package qrnes

// plan.go runs a whole planning pass: generate the router graph, split it into
// execution groups, choose the flows, build the forwarding tables, and describe
// the result as a topology and a flow manifest.

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// PlanOutput holds everything a planning run produced
type PlanOutput struct {
	Config    PlanConfig
	Graph     *Graph
	Partition *PartitionResult
	Flows     *FlowPlan
	Tables    ForwardingTables
	Distances DistanceMatrix
	Topo      TopoCfg
	Manifest  FlowManifest
}

// Plan carries out a planning run.  When assignments is non-nil it fixes the group
// of every router and the partitioner is skipped; routers are then written in the
// order of the assignments.  metrics may be nil.
//
// Nothing is written to disk; see PlanOutput.Write.
func Plan(cfg *PlanConfig, assignments []NodeGroup, metrics *Metrics) (*PlanOutput, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	rng := NewPlanRNG(cfg.Seed)
	po := &PlanOutput{Config: *cfg}

	g, err := GenInternetGraph(cfg.NetSize, cfg.Attach, rng.Stream(StreamGraph))
	if err != nil {
		return nil, err
	}
	po.Graph = g
	logrus.Infof("generated %d routers and %d links", g.Order(), len(g.Edges()))

	// fixed assignments are input; reject bad ones before any planning
	var order []NodeID
	if assignments != nil {
		po.Partition, order, err = assignedPartition(g, cfg.Groups, assignments)
		if err != nil {
			return nil, fmt.Errorf("group assignments: %w", err)
		}
	}

	fp, err := PlanFlows(g, FlowPlanOpts{TotalFlows: cfg.FlowCount(), Alpha: cfg.Alpha, UnitSize: cfg.MemoSize},
		rng.Stream(StreamFlows), rng.Stream(StreamOrphans))
	if err != nil {
		return nil, fmt.Errorf("planning flows: %w", err)
	}
	po.Flows = fp
	metrics.observeFlowPlan(fp)
	logrus.Infof("selected %d flows, repaired %d, hop counts %v", fp.TotalSelected(), len(fp.Repairs), fp.HopCounts)
	logrus.Infof("before partition: %.3fs", time.Since(start).Seconds())

	if assignments == nil {
		po.Partition, err = PartitionGraph(g, cfg.Groups, cfg.PartitionOpts(), rng.Stream(StreamPartition))
		if err != nil {
			return nil, fmt.Errorf("partitioning: %w", err)
		}
		for _, group := range po.Partition.Groups {
			order = append(order, group...)
		}
	}
	metrics.observePartition(po.Partition)
	logrus.Infof("partitioned into %d groups, cut size %d -> %d", len(po.Partition.Groups),
		po.Partition.InitialCut, po.Partition.FinalCut)

	po.Tables, err = BuildForwardingTables(fp.SortedFlows())
	if err != nil {
		return nil, err
	}
	po.Distances = g.Distances(RouterName)

	po.Topo, err = describeTopo(cfg, g, po.Partition.GroupOf(), order, fp.Capacity)
	if err != nil {
		return nil, err
	}
	po.Manifest = FlowManifest{
		Flows:      make(map[string][]string, len(fp.Flows)),
		MemoSize:   cfg.MemoSize,
		Forwarding: po.Tables.Named(RouterName),
	}
	for src, flow := range fp.Flows {
		names := make([]string, len(flow.Path))
		for idx, id := range flow.Path {
			names[idx] = RouterName(id)
		}
		po.Manifest.Flows[RouterName(src)] = names
	}

	logrus.Infof("run time: %.3fs", time.Since(start).Seconds())
	return po, nil
}

// assignedPartition turns named group assignments into a partition of g, and
// gives the router order the assignments list
func assignedPartition(g *Graph, numGroups int, assignments []NodeGroup) (*PartitionResult, []NodeID, error) {
	idByName := make(map[string]NodeID, g.Order())
	for _, id := range g.NodeIDs() {
		idByName[RouterName(id)] = id
	}
	assigned := make(map[NodeID]int, len(assignments))
	order := make([]NodeID, 0, len(assignments))
	for _, ng := range assignments {
		id, present := idByName[ng.Name]
		if !present {
			return nil, nil, fmt.Errorf("group assignment names unknown router %s", ng.Name)
		}
		assigned[id] = ng.Group
		order = append(order, id)
	}
	pr, err := PartitionFromAssignment(g, numGroups, assigned)
	if err != nil {
		return nil, nil, err
	}
	return pr, order, nil
}

// describeTopo builds the topology description, writing routers in the given order
func describeTopo(cfg *PlanConfig, g *Graph, groupOf map[NodeID]int, order []NodeID,
	capacity map[NodeID]int) (TopoCfg, error) {

	tcf := CreateTopoCfgFrame(ChannelParams{QCLength: cfg.QCLength, QCAtten: cfg.QCAtten, CCDelay: cfg.CCDelay})
	for _, id := range order {
		if _, err := tcf.AddRouter(RouterName(id), capacity[id], groupOf[id]); err != nil {
			return TopoCfg{}, err
		}
	}
	for _, e := range g.Edges() {
		if _, err := tcf.ConnectRouters(RouterName(e.A), RouterName(e.B)); err != nil {
			return TopoCfg{}, err
		}
	}
	return tcf.Transform(cfg.StopSeconds(), cfg.Parallel), nil
}

// Write stores the topology to output and the flow manifest next to it, under the
// name ManifestName gives
func (po *PlanOutput) Write(output string) error {
	if err := po.Topo.WriteToFile(output); err != nil {
		return fmt.Errorf("writing topology: %w", err)
	}
	manifest := ManifestName(output)
	if err := po.Manifest.WriteToFile(manifest); err != nil {
		return fmt.Errorf("writing flow manifest: %w", err)
	}
	logrus.Infof("wrote %s and %s", output, manifest)
	return nil
}
