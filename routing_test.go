package qrnes

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMsg struct {
	nextHop string
	msg     *RoutingMessage
}

type recordingSender struct {
	sent []sentMsg
	err  error
}

func (rs *recordingSender) Send(nextHop string, msg *RoutingMessage) error {
	if rs.err != nil {
		return rs.err
	}
	rs.sent = append(rs.sent, sentMsg{nextHop: nextHop, msg: msg})
	return nil
}

type recordingReceiver struct {
	src     []string
	payload []any
}

func (rr *recordingReceiver) Deliver(src string, payload any) error {
	rr.src = append(rr.src, src)
	rr.payload = append(rr.payload, payload)
	return nil
}

func entangledWith(remotes ...string) EntanglementView {
	return MemoryMapFunc(func() []MemoryInfo {
		infos := make([]MemoryInfo, len(remotes))
		for idx, remote := range remotes {
			infos[idx] = MemoryInfo{Index: idx, RemoteNode: remote}
		}
		return infos
	})
}

var testDistances = DistanceMatrix{
	"A": {"D": 5},
	"B": {"D": 2},
	"C": {"D": 7},
	"E": {"D": 2},
}

func newTestRouting(view EntanglementView) (*StaticRouting, *recordingSender, *recordingReceiver) {
	sr := CreateStaticRouting("S", "static_routing", ForwardingTable{"D": "C"}, testDistances, view)
	sender := &recordingSender{}
	receiver := &recordingReceiver{}
	sr.SetLower(sender)
	sr.SetUpper(receiver)
	sr.Init()
	return sr, sender, receiver
}

func TestNextHopStatic(t *testing.T) {
	sr, _, _ := newTestRouting(entangledWith())
	decision, err := sr.NextHop("D")
	require.NoError(t, err)
	assert.Equal(t, RouteDecision{NextHop: "C", Kind: RouteStatic}, decision)

	// memories that hold no entanglement are ignored
	sr, _, _ = newTestRouting(entangledWith("", ""))
	decision, err = sr.NextHop("D")
	require.NoError(t, err)
	assert.Equal(t, "C", decision.NextHop)
	assert.Equal(t, RouteStatic, decision.Kind)
}

func TestNextHopEntangled(t *testing.T) {
	sr, _, _ := newTestRouting(entangledWith("A", "B", "C"))
	decision, err := sr.NextHop("D")
	require.NoError(t, err)
	assert.Equal(t, RouteDecision{NextHop: "B", Kind: RouteEntangled, Distance: 2}, decision)
}

func TestNextHopTieGoesToFirst(t *testing.T) {
	sr, _, _ := newTestRouting(entangledWith("E", "B"))
	decision, err := sr.NextHop("D")
	require.NoError(t, err)
	assert.Equal(t, "E", decision.NextHop)

	sr, _, _ = newTestRouting(entangledWith("B", "E"))
	decision, err = sr.NextHop("D")
	require.NoError(t, err)
	assert.Equal(t, "B", decision.NextHop)
}

func TestNextHopUnknownPartner(t *testing.T) {
	sr, _, _ := newTestRouting(entangledWith("X", "A"))
	decision, err := sr.NextHop("D")
	require.NoError(t, err)
	assert.Equal(t, "A", decision.NextHop)

	sr, _, _ = newTestRouting(entangledWith("X"))
	decision, err = sr.NextHop("D")
	require.NoError(t, err)
	assert.Equal(t, RouteDecision{NextHop: "C", Kind: RouteStatic}, decision)
}

func TestNextHopNoRoute(t *testing.T) {
	sr, _, _ := newTestRouting(entangledWith())
	_, err := sr.NextHop("Z")
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRoute(t *testing.T) {
	sr, sender, _ := newTestRouting(entangledWith("A", "B"))
	decision, err := sr.Route("D", "request")
	require.NoError(t, err)
	assert.Equal(t, "B", decision.NextHop)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "B", sender.sent[0].nextHop)
	assert.Equal(t, &RoutingMessage{Receiver: "static_routing", Payload: "request"}, sender.sent[0].msg)
}

func TestRouteToSelf(t *testing.T) {
	sr, sender, _ := newTestRouting(entangledWith("A"))
	_, err := sr.Route("S", "request")
	assert.ErrorIs(t, err, ErrRouteToSelf)
	assert.Empty(t, sender.sent)
}

func TestRouteSendFailure(t *testing.T) {
	sr, sender, _ := newTestRouting(entangledWith())
	sendErr := errors.New("link down")
	sender.err = sendErr
	decision, err := sr.Route("D", "request")
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, "C", decision.NextHop)
}

func TestRules(t *testing.T) {
	table := ForwardingTable{"D": "C"}
	sr := CreateStaticRouting("S", "static_routing", table, testDistances, entangledWith())

	// the protocol keeps its own copy of the table
	table["D"] = "A"
	nxt, ok := sr.Rule("D")
	require.True(t, ok)
	assert.Equal(t, "C", nxt)

	assert.ErrorIs(t, sr.AddRule("D", "B"), ErrDuplicateRule)
	nxt, _ = sr.Rule("D")
	assert.Equal(t, "C", nxt)

	require.NoError(t, sr.AddRule("F", "B"))
	nxt, ok = sr.Rule("F")
	require.True(t, ok)
	assert.Equal(t, "B", nxt)

	sr.UpdateRule("D", "E")
	nxt, _ = sr.Rule("D")
	assert.Equal(t, "E", nxt)
	sr.UpdateRule("G", "A")
	nxt, _ = sr.Rule("G")
	assert.Equal(t, "A", nxt)

	assert.Equal(t, "S", sr.Own())
	assert.Equal(t, "static_routing", sr.Name())
}

func TestDeliverAndReceive(t *testing.T) {
	sr, _, receiver := newTestRouting(entangledWith())
	require.NoError(t, sr.Deliver("A", &RoutingMessage{Receiver: "static_routing", Payload: 17}))
	assert.Equal(t, []string{"A"}, receiver.src)
	assert.Equal(t, []any{17}, receiver.payload)

	assert.ErrorIs(t, sr.ReceivedMessage("A", "anything"), ErrDirectReceive)
}

func TestRouteMetrics(t *testing.T) {
	metrics := NewMetrics()
	sr, _, _ := newTestRouting(entangledWith())
	sr.SetMetrics(metrics)

	_, err := sr.Route("D", "one")
	require.NoError(t, err)
	_, err = sr.Route("S", "two")
	require.Error(t, err)
	_, err = sr.Route("Z", "three")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RouteDecisions.WithLabelValues("static")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RouteDecisions.WithLabelValues("entangled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RouteFaults.WithLabelValues("self")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RouteFaults.WithLabelValues("no-route")))
}

func TestRouteKindString(t *testing.T) {
	assert.Equal(t, "static", RouteStatic.String())
	assert.Equal(t, "entangled", RouteEntangled.String())
	assert.Equal(t, "RouteKind(7)", RouteKind(7).String())
}
