package qrnes

import (
	"sort"

	"github.com/iti/evt/vrtime"
)

// HopTrace records one routing decision taken for a request in the harness
type HopTrace struct {
	Time    float64 `json:"time" yaml:"time"`
	Ticks   int64   `json:"ticks" yaml:"ticks"`
	MsgID   int     `json:"msgid" yaml:"msgid"`
	Node    string  `json:"node" yaml:"node"`
	NextHop string  `json:"nexthop,omitempty" yaml:"nexthop,omitempty"`

	// Op is "route", "deliver" or "drop"
	Op string `json:"op" yaml:"op"`

	// Kind is the route decision kind, for Op "route"
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Reason says why a request was dropped, for Op "drop"
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// TraceFlow gives the endpoints of a traced request
type TraceFlow struct {
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
}

// TraceManager gathers the hop traces of a harness run.  When not in use
// every method is a no-op, so calls can stay embedded where traces arise.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// Flows gives the source and destination of each message id
	Flows map[int]TraceFlow `json:"flows" yaml:"flows"`

	// all trace records for this experiment, by message id
	Traces map[int][]HopTrace `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.Flows = make(map[int]TraceFlow)
	tm.Traces = make(map[int][]HopTrace)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddFlow records the endpoints of the request carried by message msgID
func (tm *TraceManager) AddFlow(msgID int, src, dst string) {
	if !tm.Active() {
		return
	}
	if _, present := tm.Flows[msgID]; present {
		panic("duplicated message id in AddFlow")
	}
	tm.Flows[msgID] = TraceFlow{Source: src, Destination: dst}
}

// AddTrace stamps the record with vrt and stores it
func (tm *TraceManager) AddTrace(vrt vrtime.Time, ht HopTrace) {
	if !tm.Active() {
		return
	}
	ht.Time = vrt.Seconds()
	ht.Ticks = vrt.Ticks()
	tm.Traces[ht.MsgID] = append(tm.Traces[ht.MsgID], ht)
}

// Records returns the traces of message msgID in the order they were added
func (tm *TraceManager) Records(msgID int) []HopTrace {
	return tm.Traces[msgID]
}

// WriteToFile stores the traces to the file whose name is given, json or yaml
// by the extension of the name.  With globalOrder every record is gathered under
// message id 0 and sorted by time.
func (tm *TraceManager) WriteToFile(filename string, globalOrder bool) error {
	if !tm.Active() {
		return nil
	}
	if !globalOrder {
		return writeByExt(filename, tm)
	}

	ntm := CreateTraceManager(tm.ExpName, tm.InUse)
	for key, value := range tm.Flows {
		ntm.Flows[key] = value
	}
	msgIDs := make([]int, 0, len(tm.Traces))
	for msgID := range tm.Traces {
		msgIDs = append(msgIDs, msgID)
	}
	sort.Ints(msgIDs)

	merged := make([]HopTrace, 0)
	for _, msgID := range msgIDs {
		merged = append(merged, tm.Traces[msgID]...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Time < merged[j].Time })
	ntm.Traces[0] = merged
	return writeByExt(filename, ntm)
}
