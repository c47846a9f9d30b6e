package qrnes

import (
	"errors"
	"fmt"
)

// ErrForwardingConflict reports two flows that disagree on the next hop out of a router
// toward the same destination
var ErrForwardingConflict = errors.New("forwarding table conflict")

// ForwardingConflictError describes a forwarding table conflict
type ForwardingConflictError struct {
	Node        NodeID // router whose table conflicts
	Destination NodeID
	Existing    NodeID // next hop already recorded
	Proposed    NodeID // next hop the flow from Source wants
	Source      NodeID
}

func (e *ForwardingConflictError) Error() string {
	return fmt.Sprintf("%s: at %s toward %s the flow from %s goes to %s but %s is already recorded",
		ErrForwardingConflict, RouterName(e.Node), RouterName(e.Destination), RouterName(e.Source),
		RouterName(e.Proposed), RouterName(e.Existing))
}

func (e *ForwardingConflictError) Unwrap() error {
	return ErrForwardingConflict
}

// ForwardingTables holds the static forwarding table of every router on some flow:
// router -> destination -> next hop
type ForwardingTables map[NodeID]map[NodeID]NodeID

// BuildForwardingTables walks every flow path and records, at each router on it, the
// next hop toward the path's destination.  A router that two flows would send toward
// the same destination by different next hops makes the build fail; nothing is overwritten.
func BuildForwardingTables(flows []Flow) (ForwardingTables, error) {
	tables := make(ForwardingTables)
	for _, flow := range flows {
		if len(flow.Path) < 2 {
			return nil, fmt.Errorf("flow from %s has a path of %d routers", RouterName(flow.Source), len(flow.Path))
		}
		dst := flow.Destination()
		for idx, cur := range flow.Path[:len(flow.Path)-1] {
			nxt := flow.Path[idx+1]
			table, present := tables[cur]
			if !present {
				table = make(map[NodeID]NodeID)
				tables[cur] = table
			}
			if existing, present := table[dst]; present {
				if existing != nxt {
					return nil, &ForwardingConflictError{Node: cur, Destination: dst,
						Existing: existing, Proposed: nxt, Source: flow.Source}
				}
				continue
			}
			table[dst] = nxt
		}
	}
	return tables, nil
}

// NextHop looks up the next hop out of node toward dst
func (ft ForwardingTables) NextHop(node, dst NodeID) (NodeID, bool) {
	nxt, present := ft[node][dst]
	return nxt, present
}

// Named re-expresses the tables using router names, the form the routing protocol uses
func (ft ForwardingTables) Named(name func(NodeID) string) map[string]ForwardingTable {
	named := make(map[string]ForwardingTable, len(ft))
	for node, table := range ft {
		nt := make(ForwardingTable, len(table))
		for dst, nxt := range table {
			nt[name(dst)] = name(nxt)
		}
		named[name(node)] = nt
	}
	return named
}

// ForwardingTable maps destination router name to next hop router name
type ForwardingTable map[string]string
