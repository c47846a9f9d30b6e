package qrnes

// graph.go holds the router graph used by the planner, and the shortest-path
// machinery built on it.
//
// The approach follows the one mrnes uses for routing: represent the network in a
// form the gonum graph package understands and let graph/path compute shortest-path
// trees, caching a tree once it has been computed for a given root.  Every edge has
// weight 1, so a shortest path minimizes the number of hops.
//
//   Graph is itself a gonum graph.Undirected.  gonum's simple graphs iterate their
// neighbour sets out of Go maps, which makes Dijkstra break ties differently from run
// to run.  A planning run has to be reproducible from its seed, so Graph keeps its node
// list and every adjacency list sorted and hands gonum ordered iterators.
//
//   Paths toward a destination are always read off the tree rooted at that
// destination.  Two paths that share a node and a destination then agree on the next
// hop out of that node, which is what the forwarding tables need.

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// NodeID identifies a router in the planning graph.
type NodeID int64

// Edge is an unordered pair of router ids, stored with A < B
type Edge struct {
	A, B NodeID
}

// Graph is an undirected, unweighted graph of routers
type Graph struct {
	ids   []NodeID            // sorted
	adj   map[NodeID][]NodeID // sorted neighbour lists
	edges []Edge              // in the order they were added
	index map[NodeID]int      // position of each id in ids

	// spTrees caches shortest path trees by root
	spTrees map[NodeID]path.Shortest
}

// NewGraph is a constructor
func NewGraph() *Graph {
	g := new(Graph)
	g.ids = make([]NodeID, 0)
	g.adj = make(map[NodeID][]NodeID)
	g.edges = make([]Edge, 0)
	g.index = make(map[NodeID]int)
	g.spTrees = make(map[NodeID]path.Shortest)
	return g
}

// AddNode includes id in the graph. Adding a node that is already present is a no-op.
func (g *Graph) AddNode(id NodeID) {
	if _, present := g.adj[id]; present {
		return
	}
	g.adj[id] = make([]NodeID, 0)
	pos, _ := slices.BinarySearch(g.ids, id)
	g.ids = slices.Insert(g.ids, pos, id)
	for idx := pos; idx < len(g.ids); idx++ {
		g.index[g.ids[idx]] = idx
	}
	g.spTrees = make(map[NodeID]path.Shortest)
}

// AddEdge joins a and b, adding either endpoint if it is not yet present.
// Self loops are rejected, a repeated edge is ignored.
func (g *Graph) AddEdge(a, b NodeID) error {
	if a == b {
		return fmt.Errorf("self loop on node %d", a)
	}
	g.AddNode(a)
	g.AddNode(b)
	if g.HasEdgeBetween(int64(a), int64(b)) {
		return nil
	}
	g.adj[a] = insertSorted(g.adj[a], b)
	g.adj[b] = insertSorted(g.adj[b], a)
	if b < a {
		a, b = b, a
	}
	g.edges = append(g.edges, Edge{A: a, B: b})

	// any cached tree may be stale now
	g.spTrees = make(map[NodeID]path.Shortest)
	return nil
}

func insertSorted(list []NodeID, id NodeID) []NodeID {
	pos, _ := slices.BinarySearch(list, id)
	return slices.Insert(list, pos, id)
}

// Order returns the number of nodes
func (g *Graph) Order() int {
	return len(g.ids)
}

// NodeIDs returns the node ids in ascending order
func (g *Graph) NodeIDs() []NodeID {
	return slices.Clone(g.ids)
}

// Edges returns the edges in the order they were added
func (g *Graph) Edges() []Edge {
	return slices.Clone(g.edges)
}

// Neighbors returns the sorted neighbours of id
func (g *Graph) Neighbors(id NodeID) []NodeID {
	return slices.Clone(g.adj[id])
}

// Degree returns the number of neighbours of id
func (g *Graph) Degree(id NodeID) int {
	return len(g.adj[id])
}

// denseAdjacency expresses the adjacency lists in terms of dense node positions
func (g *Graph) denseAdjacency() [][]int {
	dense := make([][]int, len(g.ids))
	for idx, id := range g.ids {
		nbrs := g.adj[id]
		dense[idx] = make([]int, len(nbrs))
		for jdx, nbr := range nbrs {
			dense[idx][jdx] = g.index[nbr]
		}
	}
	return dense
}

// String lists the edges, mostly for test failures
func (g *Graph) String() string {
	parts := make([]string, 0, len(g.edges))
	for _, e := range g.edges {
		parts = append(parts, fmt.Sprintf("%d-%d", e.A, e.B))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// The methods below make Graph a gonum graph.Undirected

// Node returns the node with the given id, or nil if it is absent
func (g *Graph) Node(id int64) graph.Node {
	if _, present := g.adj[NodeID(id)]; !present {
		return nil
	}
	return simple.Node(id)
}

// Nodes returns all nodes in ascending id order
func (g *Graph) Nodes() graph.Nodes {
	return iterator.NewOrderedNodes(toGraphNodes(g.ids))
}

// From returns the neighbours of id in ascending id order
func (g *Graph) From(id int64) graph.Nodes {
	return iterator.NewOrderedNodes(toGraphNodes(g.adj[NodeID(id)]))
}

// HasEdgeBetween reports whether x and y are joined
func (g *Graph) HasEdgeBetween(xid, yid int64) bool {
	_, found := slices.BinarySearch(g.adj[NodeID(xid)], NodeID(yid))
	return found
}

// Edge returns the edge from u to v, or nil
func (g *Graph) Edge(uid, vid int64) graph.Edge {
	if !g.HasEdgeBetween(uid, vid) {
		return nil
	}
	return simple.Edge{F: simple.Node(uid), T: simple.Node(vid)}
}

// EdgeBetween is Edge for the undirected case
func (g *Graph) EdgeBetween(xid, yid int64) graph.Edge {
	return g.Edge(xid, yid)
}

func toGraphNodes(ids []NodeID) []graph.Node {
	nodes := make([]graph.Node, len(ids))
	for idx, id := range ids {
		nodes[idx] = simple.Node(id)
	}
	return nodes
}

// spTree returns the shortest path tree rooted at root, computing and caching it
// if this is the first request
func (g *Graph) spTree(root NodeID) path.Shortest {
	spTree, present := g.spTrees[root]
	if present {
		return spTree
	}
	spTree = path.DijkstraFrom(simple.Node(root), g)
	g.spTrees[root] = spTree
	return spTree
}

// PathTo returns the shortest path from src to dst, both endpoints included, as read
// off the tree rooted at dst.  nil is returned when dst is unreachable from src.
func (g *Graph) PathTo(src, dst NodeID) []NodeID {
	if g.Node(int64(src)) == nil || g.Node(int64(dst)) == nil {
		return nil
	}

	// the tree is rooted at dst, so the node sequence runs dst ... src
	nodeSeq, _ := g.spTree(dst).To(int64(src))
	if len(nodeSeq) == 0 {
		return nil
	}
	route := make([]NodeID, len(nodeSeq))
	for idx, node := range nodeSeq {
		route[len(nodeSeq)-idx-1] = NodeID(node.ID())
	}
	return route
}

// HopDistance returns the number of edges on a shortest path between a and b,
// and false if they are not connected
func (g *Graph) HopDistance(a, b NodeID) (int, bool) {
	route := g.PathTo(a, b)
	if route == nil {
		return 0, false
	}
	return len(route) - 1, true
}

// Connected reports whether every node can reach every other node
func (g *Graph) Connected() bool {
	if len(g.ids) < 2 {
		return true
	}
	root := g.ids[0]
	for _, id := range g.ids[1:] {
		if g.PathTo(id, root) == nil {
			return false
		}
	}
	return true
}

// CutSize counts the edges whose endpoints lie in different groups.
// group gives the group of every node.
func (g *Graph) CutSize(group map[NodeID]int) int {
	cut := 0
	for _, e := range g.edges {
		if group[e.A] != group[e.B] {
			cut += 1
		}
	}
	return cut
}

// Distances computes the all-pairs hop-count matrix, with nodes named by name.
// Unreachable pairs are omitted.
func (g *Graph) Distances(name func(NodeID) string) DistanceMatrix {
	dm := make(DistanceMatrix, len(g.ids))
	for _, dst := range g.ids {
		tree := g.spTree(dst)
		dstName := name(dst)
		for _, src := range g.ids {
			w := tree.WeightTo(int64(src))
			if w > float64(len(g.ids)) {
				// gonum reports +Inf for an unreachable node
				continue
			}
			srcName := name(src)
			if _, present := dm[srcName]; !present {
				dm[srcName] = make(map[string]float64)
			}
			dm[srcName][dstName] = w
		}
	}
	return dm
}

// DistanceMatrix maps a pair of router names to the length of a shortest path between them.
// It is built once during planning and only read afterward.
type DistanceMatrix map[string]map[string]float64

// Distance looks up the distance from a to b
func (dm DistanceMatrix) Distance(a, b string) (float64, bool) {
	row, present := dm[a]
	if !present {
		return 0, false
	}
	d, present := row[b]
	return d, present
}

// Names lists the routers that have a row in the matrix, sorted
func (dm DistanceMatrix) Names() []string {
	names := make([]string, 0, len(dm))
	for name := range dm {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RouterName gives the name used for router id in emitted configurations
func RouterName(id NodeID) string {
	return fmt.Sprintf("router_%d", id)
}

// BSMName gives the name of the measurement helper node sitting between two routers
func BSMName(router1, router2 string) string {
	return fmt.Sprintf("BSM_%s_%s", router1, router2)
}
