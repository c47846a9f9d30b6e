package qrnes

// routing.go holds the static routing protocol that runs on every quantum router.
//
// The protocol forwards a request along the statically planned path unless the router
// currently holds entanglement with some other router.  In that case the request goes to
// the entangled partner closest to the destination, whatever the static table says, so
// that an existing entangled link is used rather than wasted.
//
//   The protocol sits in the node's protocol stack: requests come down from an upper
// protocol through Route, leave through the Sender supplied by the simulation kernel, and
// arrive at the next router through Deliver, which hands the payload up again.  The
// kernel also supplies the view of the node's memories used to find entangled partners.
// All of this runs inside the kernel's single-threaded event loop; nothing here blocks
// or locks.  Rules are changed with AddRule and UpdateRule only while routing is idle.

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Usage faults of the routing protocol
var (
	ErrRouteToSelf   = errors.New("routing request addressed to the local router")
	ErrDuplicateRule = errors.New("forwarding rule already present")
	ErrDirectReceive = errors.New("static routing does not receive messages from the node directly")
	ErrNoRoute       = errors.New("no forwarding rule for destination")
)

// MemoryInfo is the kernel's record of one local memory.  RemoteNode names the router
// whose memory this one is entangled with, and is empty when there is no entanglement.
type MemoryInfo struct {
	Index      int    `json:"index" yaml:"index"`
	RemoteNode string `json:"remote_node" yaml:"remote_node"`
}

// EntanglementView is the kernel's live view of a router's memories.
// It is queried afresh for every routing decision.
type EntanglementView interface {
	MemoryMap() []MemoryInfo
}

// MemoryMapFunc adapts a function to an EntanglementView
type MemoryMapFunc func() []MemoryInfo

// MemoryMap calls f
func (f MemoryMapFunc) MemoryMap() []MemoryInfo {
	return f()
}

// RoutingMessage is the envelope static routing puts around a request
type RoutingMessage struct {
	// Receiver names the protocol instance the envelope is addressed to
	Receiver string `json:"receiver" yaml:"receiver"`
	Payload  any    `json:"payload" yaml:"payload"`
}

func (rm *RoutingMessage) String() string {
	return fmt.Sprintf("receiver=%s, payload=%v", rm.Receiver, rm.Payload)
}

// Sender is the kernel's primitive for handing a message to a neighbouring router
type Sender interface {
	Send(nextHop string, msg *RoutingMessage) error
}

// Receiver is the upper protocol that routed payloads are delivered to
type Receiver interface {
	Deliver(src string, payload any) error
}

// RouteKind tells how a next hop was chosen
type RouteKind int

const (
	RouteStatic RouteKind = iota
	RouteEntangled
)

func (rk RouteKind) String() string {
	switch rk {
	case RouteStatic:
		return "static"
	case RouteEntangled:
		return "entangled"
	}
	return fmt.Sprintf("RouteKind(%d)", int(rk))
}

// RouteDecision is the next hop chosen for a request
type RouteDecision struct {
	NextHop  string
	Kind     RouteKind
	Distance float64 // distance from NextHop to the destination, for entangled decisions
}

// StaticRouting is the routing protocol instance of one router
type StaticRouting struct {
	own  string // name of the router the protocol runs on
	name string // name of this protocol instance

	table ForwardingTable
	dist  DistanceMatrix

	view    EntanglementView
	lower   Sender
	upper   Receiver
	metrics *Metrics
}

// CreateStaticRouting is a constructor.  The forwarding table is copied, the distance
// matrix is shared and never written.
func CreateStaticRouting(own, name string, table ForwardingTable, dist DistanceMatrix,
	view EntanglementView) *StaticRouting {

	sr := new(StaticRouting)
	sr.own = own
	sr.name = name
	sr.table = make(ForwardingTable, len(table))
	for dst, nxt := range table {
		sr.table[dst] = nxt
	}
	sr.dist = dist
	sr.view = view
	return sr
}

// SetLower connects the protocol to the kernel's send primitive
func (sr *StaticRouting) SetLower(lower Sender) {
	sr.lower = lower
}

// SetUpper connects the protocol to the protocol above it
func (sr *StaticRouting) SetUpper(upper Receiver) {
	sr.upper = upper
}

// SetMetrics attaches a metrics collector
func (sr *StaticRouting) SetMetrics(m *Metrics) {
	sr.metrics = m
}

// Name returns the name of the protocol instance
func (sr *StaticRouting) Name() string {
	return sr.name
}

// Own returns the name of the router the protocol runs on
func (sr *StaticRouting) Own() string {
	return sr.own
}

// Init is called by the kernel when the simulation is initialized. Static routing
// needs no preparation.
func (sr *StaticRouting) Init() {}

// AddRule adds the mapping dst -> nextHop.  It is a fault to add a rule for a
// destination that already has one.
func (sr *StaticRouting) AddRule(dst, nextHop string) error {
	if _, present := sr.table[dst]; present {
		return fmt.Errorf("%w: %s at %s", ErrDuplicateRule, dst, sr.own)
	}
	sr.table[dst] = nextHop
	return nil
}

// UpdateRule sets the mapping dst -> nextHop, replacing any earlier one
func (sr *StaticRouting) UpdateRule(dst, nextHop string) {
	sr.table[dst] = nextHop
}

// Rule returns the static next hop for dst
func (sr *StaticRouting) Rule(dst string) (string, bool) {
	nxt, present := sr.table[dst]
	return nxt, present
}

// NextHop chooses where a request for dst goes next.
//
// With no entangled memories the static table decides.  Otherwise the entangled
// partner with the smallest distance to dst is chosen, the first one enumerated
// winning a tie.  Partners the distance matrix does not know are passed over; if
// that leaves none the static table decides.
func (sr *StaticRouting) NextHop(dst string) (RouteDecision, error) {
	best := RouteDecision{Kind: RouteEntangled}
	found := false
	for _, info := range sr.view.MemoryMap() {
		if info.RemoteNode == "" {
			continue
		}
		d, known := sr.dist.Distance(info.RemoteNode, dst)
		if !known {
			continue
		}
		if !found || d < best.Distance {
			best.NextHop = info.RemoteNode
			best.Distance = d
			found = true
		}
	}
	if found {
		return best, nil
	}

	nxt, present := sr.table[dst]
	if !present {
		return RouteDecision{}, fmt.Errorf("%w: %s at %s", ErrNoRoute, dst, sr.own)
	}
	return RouteDecision{NextHop: nxt, Kind: RouteStatic}, nil
}

// Route forwards msg toward dst.  The request is wrapped in a RoutingMessage addressed
// to this protocol and handed to the send primitive for the chosen next hop.
// dst must not be the local router.
func (sr *StaticRouting) Route(dst string, msg any) (RouteDecision, error) {
	if dst == sr.own {
		sr.metrics.observeRouteFault("self")
		return RouteDecision{}, fmt.Errorf("%w: %s", ErrRouteToSelf, dst)
	}

	decision, err := sr.NextHop(dst)
	if err != nil {
		sr.metrics.observeRouteFault("no-route")
		return RouteDecision{}, err
	}
	sr.metrics.observeRoute(decision.Kind)
	logrus.Debugf("%s: route to %s via %s (%s)", sr.own, dst, decision.NextHop, decision.Kind)

	if sr.lower == nil {
		panic(fmt.Errorf("static routing on %s has no send primitive", sr.own))
	}
	envelope := &RoutingMessage{Receiver: sr.name, Payload: msg}
	if err := sr.lower.Send(decision.NextHop, envelope); err != nil {
		return decision, fmt.Errorf("sending from %s to %s: %w", sr.own, decision.NextHop, err)
	}
	return decision, nil
}

// Deliver receives an envelope from src and passes the request to the upper protocol
func (sr *StaticRouting) Deliver(src string, msg *RoutingMessage) error {
	if sr.upper == nil {
		panic(fmt.Errorf("static routing on %s has no upper protocol", sr.own))
	}
	return sr.upper.Deliver(src, msg.Payload)
}

// ReceivedMessage is the node-level receive entry point.  Static routing is only
// reached through the protocol stack, so calling it is always a fault.
func (sr *StaticRouting) ReceivedMessage(src string, msg any) error {
	return fmt.Errorf("%w: message from %s at %s", ErrDirectReceive, src, sr.own)
}
