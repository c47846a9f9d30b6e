package qrnes

// gen-topo.go generates the router graph a planning run starts from.

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/graphs/gen"
	"gonum.org/v1/gonum/graph/simple"
)

// DefaultAttach is the number of edges each new router brings when the
// generator grows the graph
const DefaultAttach = 2

// GenInternetGraph builds a connected scale-free graph of order n in the manner of an
// internet AS-level topology.  Routers join one at a time and attach to attach existing
// routers with probability proportional to their degree (gonum's preferential attachment).
// The node ids of the result are relabeled to 0..n-1.
func GenInternetGraph(n, attach int, src rand.Source) (*Graph, error) {
	if n < 2 {
		return nil, fmt.Errorf("network size %d is too small, need at least 2 routers", n)
	}
	if attach < 1 {
		return nil, fmt.Errorf("attachment degree must be positive, got %d", attach)
	}
	if attach >= n {
		attach = n - 1
	}

	ug := simple.NewUndirectedGraph()
	if err := gen.PreferentialAttachment(ug, n, attach, src); err != nil {
		return nil, fmt.Errorf("generating internet graph: %w", err)
	}
	return relabelGraph(ug), nil
}

// relabelGraph copies an undirected gonum graph into a Graph, renumbering
// its nodes 0..n-1 in ascending order of their original ids
func relabelGraph(ug graph.Undirected) *Graph {
	nodes := graph.NodesOf(ug.Nodes())
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })

	relabel := make(map[int64]NodeID, len(nodes))
	g := NewGraph()
	for idx, node := range nodes {
		relabel[node.ID()] = NodeID(idx)
		g.AddNode(NodeID(idx))
	}

	// gonum hands edges back in map order, so sort them before adding
	edges := make([]Edge, 0)
	for _, node := range nodes {
		for _, nbr := range graph.NodesOf(ug.From(node.ID())) {
			a, b := relabel[node.ID()], relabel[nbr.ID()]
			if a < b {
				edges = append(edges, Edge{A: a, B: b})
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})
	for _, e := range edges {
		if err := g.AddEdge(e.A, e.B); err != nil {
			panic(err)
		}
	}
	return g
}

// PathGraph returns the graph 0-1-...-(n-1)
func PathGraph(n int) *Graph {
	g := NewGraph()
	g.AddNode(0)
	for idx := 1; idx < n; idx++ {
		if err := g.AddEdge(NodeID(idx-1), NodeID(idx)); err != nil {
			panic(err)
		}
	}
	return g
}
