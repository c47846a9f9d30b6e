package qrnes

// harness.go holds a small discrete-event kernel for exercising static routing on a
// planned topology.  Each router gets a StaticRouting instance, a MemoryBank standing in
// for its quantum memories, and a relay that sits above the routing protocol and keeps
// a request moving until it reaches its destination.  Messages between routers take
// the classical channel delay of the topology; everything runs on the evt event manager.
//
//   The memory bank does no physics.  Before every routing decision it redraws which
// neighbours it is entangled with, each with the configured link probability.

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
)

// RoutingProtocolName is the name given to every harness routing instance
const RoutingProtocolName = "static_routing"

// largest start offset of an injected request, in seconds
const injectionSpread = 1e-3

// ErrNoChannel reports a send to a router with no classical channel from the sender
var ErrNoChannel = errors.New("no classical channel")

// MemoryBank is the harness's stand-in for the memories of one router
type MemoryBank struct {
	own        string
	neighbours []string
	linkProb   float64
	records    []MemoryInfo
	rngstrm    *rngstream.RngStream
}

// CreateMemoryBank is a constructor.  Every memory starts unentangled.
func CreateMemoryBank(own string, size int, neighbours []string, linkProb float64) *MemoryBank {
	mb := new(MemoryBank)
	mb.own = own
	mb.neighbours = neighbours
	mb.linkProb = linkProb
	mb.records = make([]MemoryInfo, size)
	for idx := range mb.records {
		mb.records[idx] = MemoryInfo{Index: idx}
	}
	mb.rngstrm = rngstream.New(own)
	return mb
}

// Refresh clears every memory and entangles it anew.  Each neighbour is linked with
// probability linkProb, taking the next free memory, as long as memories remain.
func (mb *MemoryBank) Refresh() {
	for idx := range mb.records {
		mb.records[idx].RemoteNode = ""
	}
	free := 0
	for _, nbr := range mb.neighbours {
		if free == len(mb.records) {
			break
		}
		if mb.rngstrm.RandU01() < mb.linkProb {
			mb.records[free].RemoteNode = nbr
			free += 1
		}
	}
}

// MemoryMap returns a copy of the memory records
func (mb *MemoryBank) MemoryMap() []MemoryInfo {
	snapshot := make([]MemoryInfo, len(mb.records))
	copy(snapshot, mb.records)
	return snapshot
}

// routeRequest is the payload carried from router to router
type routeRequest struct {
	MsgID int
	Src   string
	Dst   string
	Hops  int
}

// arrival is the data of the event that hands an envelope to a router
type arrival struct {
	src string
	msg *RoutingMessage
}

// harnessRouter binds the routing protocol of one router to the harness.  It is the
// Sender below the protocol and the Receiver above it.
type harnessRouter struct {
	name    string
	routing *StaticRouting
	bank    *MemoryBank
	h       *Harness
}

// Send schedules the arrival of msg at nextHop after the classical channel delay
func (hr *harnessRouter) Send(nextHop string, msg *RoutingMessage) error {
	dst, present := hr.h.routers[nextHop]
	if !present {
		return fmt.Errorf("%w: unknown router %s", ErrNoChannel, nextHop)
	}
	delay, present := hr.h.delays[hr.name][nextHop]
	if !present {
		return fmt.Errorf("%w: %s to %s", ErrNoChannel, hr.name, nextHop)
	}
	hr.h.evtMgr.Schedule(dst, &arrival{src: hr.name, msg: msg}, enterRouter, vrtime.SecondsToTime(delay))
	return nil
}

// Deliver takes a request that arrived at this router and finishes or forwards it
func (hr *harnessRouter) Deliver(src string, payload any) error {
	req, ok := payload.(*routeRequest)
	if !ok {
		return fmt.Errorf("router %s received unexpected payload %T", hr.name, payload)
	}
	req.Hops += 1
	if req.Dst == hr.name {
		hr.h.delivered(hr.name, req)
		return nil
	}
	if req.Hops >= hr.h.cfg.MaxHops {
		hr.h.dropped(hr.name, req, "max-hops")
		return nil
	}
	hr.forward(req)
	return nil
}

// forward refreshes the memories and routes req onward
func (hr *harnessRouter) forward(req *routeRequest) {
	hr.bank.Refresh()
	decision, err := hr.routing.Route(req.Dst, req)
	if err != nil {
		reason := "send"
		switch {
		case errors.Is(err, ErrNoRoute):
			reason = "no-route"
		case errors.Is(err, ErrRouteToSelf):
			reason = "self"
		}
		logrus.Debugf("message %d dropped at %s: %v", req.MsgID, hr.name, err)
		hr.h.dropped(hr.name, req, reason)
		return
	}
	hr.h.trace.AddTrace(hr.h.evtMgr.CurrentTime(), HopTrace{MsgID: req.MsgID, Node: hr.name,
		NextHop: decision.NextHop, Op: "route", Kind: decision.Kind.String()})
}

// enterRouter is the event handler for an arrival
func enterRouter(evtMgr *evtm.EventManager, context any, data any) any {
	hr := context.(*harnessRouter)
	arr := data.(*arrival)
	if err := hr.routing.Deliver(arr.src, arr.msg); err != nil {
		panic(err)
	}
	return nil
}

// injectRequest is the event handler that starts a request at its source
func injectRequest(evtMgr *evtm.EventManager, context any, data any) any {
	hr := context.(*harnessRouter)
	hr.forward(data.(*routeRequest))
	return nil
}

// HarnessReport summarizes a harness run
type HarnessReport struct {
	Injected  int            `json:"injected" yaml:"injected"`
	Delivered int            `json:"delivered" yaml:"delivered"`
	Dropped   map[string]int `json:"dropped" yaml:"dropped"`

	// Hops holds the hops taken by each delivered request, by message id
	Hops map[int]int `json:"hops" yaml:"hops"`
}

// Harness runs routing requests over a planned topology
type Harness struct {
	cfg     SimConfig
	evtMgr  *evtm.EventManager
	names   []string
	routers map[string]*harnessRouter
	delays  map[string]map[string]float64
	trace   *TraceManager
	metrics *Metrics
	report  HarnessReport
}

// CreateHarness builds a router, with routing protocol and memory bank, for every router
// of the topology.  Forwarding tables come from the manifest.  metrics may be nil.
func CreateHarness(tc *TopoCfg, fm *FlowManifest, cfg SimConfig, metrics *Metrics) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g, names, err := tc.RouterGraph()
	if err != nil {
		return nil, err
	}
	dist := g.Distances(func(id NodeID) string { return names[id] })

	h := new(Harness)
	h.cfg = cfg
	h.evtMgr = evtm.New()
	h.names = names
	h.routers = make(map[string]*harnessRouter, len(names))
	h.delays = tc.DelayTable()
	h.trace = CreateTraceManager("qrplan", cfg.Trace != "")
	h.metrics = metrics
	h.report = HarnessReport{Dropped: make(map[string]int), Hops: make(map[int]int)}

	rtrs := tc.Routers()
	for idx, nd := range rtrs {
		nbrs := make([]string, 0, g.Degree(NodeID(idx)))
		for _, nbr := range g.Neighbors(NodeID(idx)) {
			nbrs = append(nbrs, names[nbr])
		}
		hr := &harnessRouter{name: nd.Name, h: h}
		hr.bank = CreateMemoryBank(nd.Name, nd.MemoSize, nbrs, cfg.LinkProb)
		hr.routing = CreateStaticRouting(nd.Name, RoutingProtocolName, fm.Forwarding[nd.Name], dist, hr.bank)
		hr.routing.SetLower(hr)
		hr.routing.SetUpper(hr)
		hr.routing.SetMetrics(metrics)
		hr.routing.Init()
		h.routers[nd.Name] = hr
	}
	return h, nil
}

// Routing returns the routing protocol of the named router
func (h *Harness) Routing(name string) (*StaticRouting, bool) {
	hr, present := h.routers[name]
	if !present {
		return nil, false
	}
	return hr.routing, true
}

// Trace returns the trace manager of the run
func (h *Harness) Trace() *TraceManager {
	return h.trace
}

// RunFlows injects one request per flow of the manifest, from its source to the end of
// its path, and runs the event loop until every request is delivered or dropped.
// Requests start at staggered times drawn from the configured seed.
func (h *Harness) RunFlows(fm *FlowManifest) (HarnessReport, error) {
	rng := rand.New(rand.NewPCG(uint64(h.cfg.Seed), uint64(h.cfg.Seed)))
	for _, src := range fm.Sources() {
		route := fm.Flows[src]
		if len(route) < 2 {
			return h.report, fmt.Errorf("flow from %s has a path of %d routers", src, len(route))
		}
		hr, present := h.routers[src]
		if !present {
			return h.report, fmt.Errorf("flow source %s is not a router of the topology", src)
		}
		msgID := h.report.Injected
		h.report.Injected += 1
		req := &routeRequest{MsgID: msgID, Src: src, Dst: route[len(route)-1]}
		h.trace.AddFlow(msgID, req.Src, req.Dst)
		h.evtMgr.Schedule(hr, req, injectRequest, vrtime.SecondsToTime(rng.Float64()*injectionSpread))
	}
	h.evtMgr.Run(h.horizon())

	logrus.Infof("injected %d requests, delivered %d, dropped %v", h.report.Injected,
		h.report.Delivered, h.report.Dropped)
	return h.report, nil
}

// horizon is a finite run limit, in seconds, past every event a run can schedule.
// The latest injection is followed by at most MaxHops sends, each no slower than
// the slowest classical channel.
func (h *Harness) horizon() float64 {
	slowest := 0.0
	for _, row := range h.delays {
		for _, delay := range row {
			slowest = math.Max(slowest, delay)
		}
	}
	return injectionSpread + float64(h.cfg.MaxHops+1)*slowest + 1.0
}

func (h *Harness) delivered(at string, req *routeRequest) {
	h.report.Delivered += 1
	h.report.Hops[req.MsgID] = req.Hops
	h.metrics.observeDelivery(req.Hops)
	h.trace.AddTrace(h.evtMgr.CurrentTime(), HopTrace{MsgID: req.MsgID, Node: at, Op: "deliver"})
}

func (h *Harness) dropped(at string, req *routeRequest, reason string) {
	h.report.Dropped[reason] += 1
	h.metrics.observeDrop(reason)
	h.trace.AddTrace(h.evtMgr.CurrentTime(), HopTrace{MsgID: req.MsgID, Node: at, Op: "drop", Reason: reason})
}
