// Package evtrace gathers an optional per-event record of a run (mobility
// updates, packet sends and receptions) and writes it out as YAML or JSON.
package evtrace

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// TraceInst is one stored trace record.  TraceStr holds the YAML form of
// the typed record named by TraceType.
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType is a an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers information about an execution of the simulation.
// Records are grouped by the vehicle handle they concern.  A nil or inactive
// manager accepts every call and stores nothing.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// Len is the number of stored records.
func (tm *TraceManager) Len() int {
	if tm == nil {
		return 0
	}
	n := 0
	for _, recs := range tm.Traces {
		n += len(recs)
	}
	return n
}

// AddTrace stores a record under execID
func (tm *TraceManager) AddTrace(execID int, trace TraceInst) {
	if !tm.Active() {
		return
	}
	tm.Traces[execID] = append(tm.Traces[execID], trace)
}

// AddName adds an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) error {
	if !tm.Active() {
		return nil
	}
	if _, present := tm.NameByID[id]; present {
		return fmt.Errorf("duplicated id %d in trace dictionary", id)
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	return nil
}

// marshal picks the serialization from the extension of filename
func marshal(filename string, tm *TraceManager) ([]byte, error) {
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		return yaml.Marshal(*tm)
	case ".json", ".JSON":
		return json.MarshalIndent(*tm, "", "\t")
	}
	return nil, fmt.Errorf("trace file %s: extension must be .yaml, .yml or .json", filename)
}

// WriteToFile stores the trace to the file whose name is given.  With
// globalOrder all records are merged into one list sorted by time; records
// with equal times keep handle order, then insertion order.
func (tm *TraceManager) WriteToFile(filename string, globalOrder bool) error {
	if !tm.Active() {
		return nil
	}

	out := tm
	if globalOrder {
		out = tm.merged()
	}

	bytes, err := marshal(filename, out)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, bytes, 0o644)
}

func (tm *TraceManager) merged() *TraceManager {
	ntm := CreateTraceManager(tm.ExpName, tm.InUse)
	for key, value := range tm.NameByID {
		ntm.NameByID[key] = value
	}

	ids := make([]int, 0, len(tm.Traces))
	for id := range tm.Traces {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	all := make([]TraceInst, 0, tm.Len())
	for _, id := range ids {
		all = append(all, tm.Traces[id]...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		v1, _ := strconv.ParseFloat(all[i].TraceTime, 64)
		v2, _ := strconv.ParseFloat(all[j].TraceTime, 64)
		return v1 < v2
	})
	ntm.Traces[0] = all
	return ntm
}

// MobilityTrace records a vehicle state update.
type MobilityTrace struct {
	Time    float64
	Ticks   int64
	Vehicle int
	X       float64
	Y       float64
	Speed   float64
}

// PacketTrace records one end of a packet exchange.
type PacketTrace struct {
	Time     float64
	Ticks    int64
	Sender   int
	Receiver int
	Op       string // "send" or "recv"
	SendNs   uint64
	RSSI     float64 `yaml:",omitempty"`
	Lost     bool    `yaml:",omitempty"`
}

func serialize(v any) string {
	bytes, err := yaml.Marshal(v)
	if err != nil {
		// plain structs of numbers and strings always marshal
		panic(err)
	}
	return string(bytes)
}

func traceTime(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}

// AddMobilityTrace creates a record of a mobility update at time t and stores it
func AddMobilityTrace(tm *TraceManager, t float64, vehicle int, x, y, speed float64) {
	if !tm.Active() {
		return
	}
	mt := MobilityTrace{Time: t, Ticks: vrtime.SecondsToTime(t).Ticks(), Vehicle: vehicle, X: x, Y: y, Speed: speed}
	tm.AddTrace(vehicle, TraceInst{TraceTime: traceTime(t), TraceType: "mobility", TraceStr: serialize(mt)})
}

// AddSendTrace records that sender transmitted to receiver at time t
func AddSendTrace(tm *TraceManager, t float64, sender, receiver int, sendNs uint64) {
	if !tm.Active() {
		return
	}
	pt := PacketTrace{Time: t, Ticks: vrtime.SecondsToTime(t).Ticks(), Sender: sender, Receiver: receiver, Op: "send", SendNs: sendNs}
	tm.AddTrace(sender, TraceInst{TraceTime: traceTime(t), TraceType: "packet", TraceStr: serialize(pt)})
}

// AddRecvTrace records the reception at receiver of a packet sent at sendNs
func AddRecvTrace(tm *TraceManager, t float64, sender, receiver int, sendNs uint64, rssi float64, lost bool) {
	if !tm.Active() {
		return
	}
	pt := PacketTrace{Time: t, Ticks: vrtime.SecondsToTime(t).Ticks(), Sender: sender, Receiver: receiver, Op: "recv",
		SendNs: sendNs, RSSI: rssi, Lost: lost}
	tm.AddTrace(receiver, TraceInst{TraceTime: traceTime(t), TraceType: "packet", TraceStr: serialize(pt)})
}
