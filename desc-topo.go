package qrnes

// file desc-topo.go holds the structs, methods, and data structures supporting
// the construction of, and access to, descriptions of quantum router networks.
//
// A description is built in two layers, as with the other descriptions in this package.
// 'Frames' (TopoCfgFrame, RouterFrame, BSMFrame) are assembled by the planner and
// can be modified freely; Transform turns a frame into its 'Desc', the serializable
// form that is written out and read back by the simulation.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Node types appearing in a topology description
const (
	QuantumRouterType = "QuantumRouter"
	BSMNodeType       = "BSMNode"
)

// Group execution modes of a parallel topology
const (
	SyncGroup  = "sync"
	AsyncGroup = "async"
)

// unit conversions applied when a frame is transformed
const (
	qcLengthToDistance = 500.0 // router-to-router km to router-to-BSM m
	msToPicoseconds    = 1e9
	sToPicoseconds     = 1e12
)

// ErrTopology reports a description that is internally inconsistent
var ErrTopology = errors.New("inconsistent topology description")

// A NodeDesc describes one node of the topology, either a quantum router or
// the Bell-state measurement node sitting on a link between two routers
type NodeDesc struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
	Seed int    `json:"seed" yaml:"seed"`

	// MemoSize is the number of memories of a router; BSM nodes have none
	MemoSize int `json:"memo_size,omitempty" yaml:"memo_size,omitempty"`

	// Group is the execution group the node is simulated in
	Group int `json:"group" yaml:"group"`
}

// QChannelDesc describes a quantum channel from a router to a BSM node
type QChannelDesc struct {
	Source      string  `json:"source" yaml:"source"`
	Destination string  `json:"destination" yaml:"destination"`
	Distance    float64 `json:"distance" yaml:"distance"`
	Attenuation float64 `json:"attenuation" yaml:"attenuation"`
}

// CChannelDesc describes a one-way classical channel
type CChannelDesc struct {
	Source      string  `json:"source" yaml:"source"`
	Destination string  `json:"destination" yaml:"destination"`
	Delay       float64 `json:"delay" yaml:"delay"` // picoseconds
}

// GroupDesc gives the execution mode of one group
type GroupDesc struct {
	Type string `json:"type" yaml:"type"`
}

// TopoCfg is the serializable description of a planned network
type TopoCfg struct {
	Nodes     []NodeDesc     `json:"nodes" yaml:"nodes"`
	QChannels []QChannelDesc `json:"qchannels" yaml:"qchannels"`
	CChannels []CChannelDesc `json:"cchannels" yaml:"cchannels"`

	// StopTime is in picoseconds
	StopTime float64 `json:"stop_time" yaml:"stop_time"`

	IsParallel bool        `json:"is_parallel" yaml:"is_parallel"`
	ProcNum    int         `json:"process_num,omitempty" yaml:"process_num,omitempty"`
	IP         string      `json:"ip,omitempty" yaml:"ip,omitempty"`
	Port       int         `json:"port,omitempty" yaml:"port,omitempty"`
	Lookahead  int         `json:"lookahead,omitempty" yaml:"lookahead,omitempty"`
	Groups     []GroupDesc `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// ChannelParams holds the physical parameters common to every channel
type ChannelParams struct {
	QCLength float64 // km between neighbouring routers
	QCAtten  float64 // dB/m
	CCDelay  float64 // ms
}

// RouterFrame is the pre-serialization representation of a quantum router
type RouterFrame struct {
	Name     string
	Seed     int
	MemoSize int
	Group    int
}

// Transform returns a serializable NodeDesc
func (rf *RouterFrame) Transform() NodeDesc {
	return NodeDesc{Name: rf.Name, Type: QuantumRouterType, Seed: rf.Seed, MemoSize: rf.MemoSize, Group: rf.Group}
}

// BSMFrame is the pre-serialization representation of the measurement node
// on the link between two routers
type BSMFrame struct {
	Name string
	Seed int
	Ends [2]*RouterFrame
}

// Transform returns a serializable NodeDesc.  The BSM node runs in the group of the
// first router it connects.
func (bf *BSMFrame) Transform() NodeDesc {
	return NodeDesc{Name: bf.Name, Type: BSMNodeType, Seed: bf.Seed, Group: bf.Ends[0].Group}
}

// TopoCfgFrame collects routers and links before they are written out
type TopoCfgFrame struct {
	Routers []*RouterFrame
	BSMs    []*BSMFrame
	Params  ChannelParams

	rtrByName map[string]*RouterFrame
	bsmByName map[string]*BSMFrame
}

// CreateTopoCfgFrame is a constructor
func CreateTopoCfgFrame(params ChannelParams) *TopoCfgFrame {
	tcf := new(TopoCfgFrame)
	tcf.Routers = make([]*RouterFrame, 0)
	tcf.BSMs = make([]*BSMFrame, 0)
	tcf.Params = params
	tcf.rtrByName = make(map[string]*RouterFrame)
	tcf.bsmByName = make(map[string]*BSMFrame)
	return tcf
}

// AddRouter includes a router.  Its seed is its position in the order of inclusion.
func (tcf *TopoCfgFrame) AddRouter(name string, memoSize, group int) (*RouterFrame, error) {
	if _, present := tcf.rtrByName[name]; present {
		return nil, fmt.Errorf("%w: router %s included twice", ErrTopology, name)
	}
	rf := &RouterFrame{Name: name, Seed: len(tcf.Routers), MemoSize: memoSize, Group: group}
	tcf.Routers = append(tcf.Routers, rf)
	tcf.rtrByName[name] = rf
	return rf, nil
}

// ConnectRouters links two included routers through a new BSM node
func (tcf *TopoCfgFrame) ConnectRouters(name1, name2 string) (*BSMFrame, error) {
	rf1, present1 := tcf.rtrByName[name1]
	rf2, present2 := tcf.rtrByName[name2]
	if !present1 || !present2 {
		return nil, fmt.Errorf("%w: link %s-%s names a router not included", ErrTopology, name1, name2)
	}
	if name1 == name2 {
		return nil, fmt.Errorf("%w: router %s linked to itself", ErrTopology, name1)
	}
	bsmName := BSMName(name1, name2)
	if _, present := tcf.bsmByName[bsmName]; present {
		return nil, fmt.Errorf("%w: routers %s and %s linked twice", ErrTopology, name1, name2)
	}
	bf := &BSMFrame{Name: bsmName, Seed: len(tcf.BSMs), Ends: [2]*RouterFrame{rf1, rf2}}
	tcf.BSMs = append(tcf.BSMs, bf)
	tcf.bsmByName[bsmName] = bf
	return bf, nil
}

// Transform returns the serializable TopoCfg.  stop is in seconds; an infinite stop is
// written as the largest finite float64, since json has no infinity.  parallel may be nil.
func (tcf *TopoCfgFrame) Transform(stop float64, parallel *ParallelCfg) TopoCfg {
	tc := TopoCfg{}
	tc.Nodes = make([]NodeDesc, 0, len(tcf.Routers)+len(tcf.BSMs))
	tc.QChannels = make([]QChannelDesc, 0, 2*len(tcf.BSMs))
	tc.CChannels = make([]CChannelDesc, 0)

	for _, rf := range tcf.Routers {
		tc.Nodes = append(tc.Nodes, rf.Transform())
	}
	for _, bf := range tcf.BSMs {
		tc.Nodes = append(tc.Nodes, bf.Transform())
	}

	ccDelay := tcf.Params.CCDelay * msToPicoseconds
	for _, bf := range tcf.BSMs {
		for _, rf := range bf.Ends {
			tc.QChannels = append(tc.QChannels, QChannelDesc{Source: rf.Name, Destination: bf.Name,
				Distance: tcf.Params.QCLength * qcLengthToDistance, Attenuation: tcf.Params.QCAtten})
		}
		for _, rf := range bf.Ends {
			tc.CChannels = append(tc.CChannels,
				CChannelDesc{Source: bf.Name, Destination: rf.Name, Delay: ccDelay},
				CChannelDesc{Source: rf.Name, Destination: bf.Name, Delay: ccDelay})
		}
	}

	// every router reaches every other over a direct classical channel
	for _, rf1 := range tcf.Routers {
		for _, rf2 := range tcf.Routers {
			if rf1 == rf2 {
				continue
			}
			tc.CChannels = append(tc.CChannels, CChannelDesc{Source: rf1.Name, Destination: rf2.Name, Delay: ccDelay})
		}
	}

	tc.StopTime = stop * sToPicoseconds
	if math.IsInf(tc.StopTime, 1) || math.IsNaN(tc.StopTime) {
		tc.StopTime = math.MaxFloat64
	}

	if parallel != nil {
		tc.IsParallel = true
		tc.ProcNum = parallel.ProcNum
		tc.IP = parallel.IP
		tc.Port = parallel.Port
		tc.Lookahead = parallel.Lookahead
		mode := AsyncGroup
		if parallel.Sync {
			mode = SyncGroup
		}
		tc.Groups = make([]GroupDesc, parallel.ProcNum)
		for idx := range tc.Groups {
			tc.Groups[idx] = GroupDesc{Type: mode}
		}
	}
	return tc
}

// WriteToFile stores the TopoCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tc *TopoCfg) WriteToFile(filename string) error {
	return writeByExt(filename, tc)
}

// ReadTopoCfg deserializes a byte slice holding a representation of a TopoCfg struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.
func ReadTopoCfg(filename string, useYAML bool, dict []byte) (*TopoCfg, error) {
	tc := TopoCfg{}
	if err := readDict(filename, useYAML, dict, &tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

// Routers lists the router nodes, in the order they were written
func (tc *TopoCfg) Routers() []NodeDesc {
	rtrs := make([]NodeDesc, 0)
	for _, nd := range tc.Nodes {
		if nd.Type == QuantumRouterType {
			rtrs = append(rtrs, nd)
		}
	}
	return rtrs
}

// RouterGraph rebuilds the router graph from the quantum channels.  Two routers are
// adjacent when both have a quantum channel into the same BSM node.  A router is given
// the id of its position in the returned list of names.
func (tc *TopoCfg) RouterGraph() (*Graph, []string, error) {
	rtrs := tc.Routers()
	names := make([]string, len(rtrs))
	idByName := make(map[string]NodeID, len(rtrs))
	g := NewGraph()
	for idx, nd := range rtrs {
		names[idx] = nd.Name
		idByName[nd.Name] = NodeID(idx)
		g.AddNode(NodeID(idx))
	}

	ends := make(map[string][]NodeID)
	order := make([]string, 0)
	for _, qc := range tc.QChannels {
		id, present := idByName[qc.Source]
		if !present {
			return nil, nil, fmt.Errorf("%w: quantum channel from unknown router %s", ErrTopology, qc.Source)
		}
		if _, seen := ends[qc.Destination]; !seen {
			order = append(order, qc.Destination)
		}
		ends[qc.Destination] = append(ends[qc.Destination], id)
	}
	for _, bsm := range order {
		if len(ends[bsm]) != 2 {
			return nil, nil, fmt.Errorf("%w: BSM node %s has %d quantum channels", ErrTopology, bsm, len(ends[bsm]))
		}
		if err := g.AddEdge(ends[bsm][0], ends[bsm][1]); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrTopology, err)
		}
	}
	return g, names, nil
}

// DelayTable maps source and destination names to the classical delay between them, in seconds
func (tc *TopoCfg) DelayTable() map[string]map[string]float64 {
	delays := make(map[string]map[string]float64)
	for _, cc := range tc.CChannels {
		if _, present := delays[cc.Source]; !present {
			delays[cc.Source] = make(map[string]float64)
		}
		delays[cc.Source][cc.Destination] = cc.Delay / sToPicoseconds
	}
	return delays
}

// FlowManifest lists the planned flows, each as the router names on its path,
// along with the per-flow memory size and the forwarding table of every router
type FlowManifest struct {
	Flows      map[string][]string        `json:"flows" yaml:"flows"`
	MemoSize   int                        `json:"memo_size" yaml:"memo_size"`
	Forwarding map[string]ForwardingTable `json:"forwarding,omitempty" yaml:"forwarding,omitempty"`
}

// WriteToFile stores the FlowManifest struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (fm *FlowManifest) WriteToFile(filename string) error {
	return writeByExt(filename, fm)
}

// ReadFlowManifest deserializes a FlowManifest from dict, or from the named file when dict is empty
func ReadFlowManifest(filename string, useYAML bool, dict []byte) (*FlowManifest, error) {
	fm := FlowManifest{}
	if err := readDict(filename, useYAML, dict, &fm); err != nil {
		return nil, err
	}
	return &fm, nil
}

// Sources lists the flow sources in sorted order
func (fm *FlowManifest) Sources() []string {
	srcs := make([]string, 0, len(fm.Flows))
	for src := range fm.Flows {
		srcs = append(srcs, src)
	}
	slices.Sort(srcs)
	return srcs
}

// ManifestName gives the name of the flow manifest accompanying the topology file output
func ManifestName(output string) string {
	dir, base := filepath.Split(output)
	return filepath.Join(dir, "flow_"+base)
}

// NodeGroup assigns a named router to a group
type NodeGroup struct {
	Name  string
	Group int
}

// ReadNodeGroupsCSV reads router group assignments from a csv file whose header
// names a 'name' and a 'group' column.  Assignments are returned in file order.
func ReadNodeGroupsCSV(filename string) ([]NodeGroup, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseNodeGroups(f, filename)
}

func parseNodeGroups(rdr io.Reader, filename string) ([]NodeGroup, error) {
	cr := csv.NewReader(rdr)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", filename, err)
	}
	nameCol := slices.IndexFunc(header, func(s string) bool { return strings.TrimSpace(s) == "name" })
	groupCol := slices.IndexFunc(header, func(s string) bool { return strings.TrimSpace(s) == "group" })
	if nameCol < 0 || groupCol < 0 {
		return nil, fmt.Errorf("%s needs 'name' and 'group' columns, header is %v", filename, header)
	}

	assigned := make([]NodeGroup, 0)
	seen := make(map[string]bool)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", filename, err)
		}
		name := strings.TrimSpace(record[nameCol])
		group, err := strconv.Atoi(strings.TrimSpace(record[groupCol]))
		if err != nil {
			return nil, fmt.Errorf("group of %s in %s: %w", name, filename, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("router %s assigned twice in %s", name, filename)
		}
		seen[name] = true
		assigned = append(assigned, NodeGroup{Name: name, Group: group})
	}
	return assigned, nil
}
