package summary

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// UsableLossRatio is the loss ratio below which a directed link counts as usable.
const UsableLossRatio = 0.5

// Stats summarizes a set of samples.
type Stats struct {
	Count int     `json:"count" yaml:"count"`
	Mean  float64 `json:"mean" yaml:"mean"`
	Std   float64 `json:"std" yaml:"std"`
	Min   float64 `json:"min" yaml:"min"`
	P50   float64 `json:"p50" yaml:"p50"`
	P95   float64 `json:"p95" yaml:"p95"`
	Max   float64 `json:"max" yaml:"max"`
}

// PairStats describes one directed link.
type PairStats struct {
	Sender     string  `json:"sender" yaml:"sender"`
	Receiver   string  `json:"receiver" yaml:"receiver"`
	SenderID   int32   `json:"senderid" yaml:"senderid"`
	ReceiverID int32   `json:"receiverid" yaml:"receiverid"`
	Received   int     `json:"received" yaml:"received"`
	Lost       int     `json:"lost" yaml:"lost"`
	LossRatio  float64 `json:"lossratio" yaml:"lossratio"`
	Usable     bool    `json:"usable" yaml:"usable"`
	RSSI       Stats   `json:"rssi" yaml:"rssi"`
	DelayMs    Stats   `json:"delayms" yaml:"delayms"`
	Distance   Stats   `json:"distance" yaml:"distance"`
}

// Overall aggregates every observation of the run.
type Overall struct {
	Observations int     `json:"observations" yaml:"observations"`
	Lost         int     `json:"lost" yaml:"lost"`
	LossRatio    float64 `json:"lossratio" yaml:"lossratio"`
	RSSI         Stats   `json:"rssi" yaml:"rssi"`
	DelayMs      Stats   `json:"delayms" yaml:"delayms"`
}

// Report is the end-of-run summary.
type Report struct {
	Vehicles int         `json:"vehicles" yaml:"vehicles"`
	Pairs    []PairStats `json:"pairs" yaml:"pairs"`
	Overall  Overall     `json:"overall" yaml:"overall"`
	Clusters [][]string  `json:"clusters" yaml:"clusters"`
	Diameter int         `json:"diameter" yaml:"diameter"`

	links *linkGraph
}

// describe computes Stats over x without modifying it
func describe(x []float64) Stats {
	if len(x) == 0 {
		return Stats{}
	}
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	st := Stats{Count: len(x), Min: sorted[0], Max: sorted[len(sorted)-1]}
	if len(x) == 1 {
		st.Mean = x[0]
	} else {
		st.Mean, st.Std = stat.MeanStdDev(x, nil)
	}
	st.P50 = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	st.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return st
}

// Build computes the report.  tokens names the vehicles in handle order; all
// of them appear as graph nodes even when they never received anything.
func (c *Collector) Build(tokens []string) *Report {
	name := func(h int32) string {
		if int(h) < len(tokens) && h >= 0 {
			return tokens[h]
		}
		return fmt.Sprintf("#%d", h)
	}

	keys := make([]pairKey, len(c.order))
	copy(keys, c.order)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].sender != keys[j].sender {
			return keys[i].sender < keys[j].sender
		}
		return keys[i].receiver < keys[j].receiver
	})

	rpt := &Report{Vehicles: len(tokens), Pairs: make([]PairStats, 0, len(keys))}
	var allRSSI, allDelay []float64
	usable := make(map[pairKey]bool)

	for _, key := range keys {
		s := c.pairs[key]
		ps := PairStats{
			Sender:     name(key.sender),
			Receiver:   name(key.receiver),
			SenderID:   key.sender,
			ReceiverID: key.receiver,
			Received:   len(s.rssi),
			Lost:       s.lost,
			RSSI:       describe(s.rssi),
			DelayMs:    describe(s.delay),
			Distance:   describe(s.distance),
		}
		if ps.Received > 0 {
			ps.LossRatio = float64(ps.Lost) / float64(ps.Received)
		}
		ps.Usable = ps.Received > 0 && ps.LossRatio < UsableLossRatio
		usable[key] = ps.Usable
		rpt.Pairs = append(rpt.Pairs, ps)

		rpt.Overall.Observations += ps.Received
		rpt.Overall.Lost += ps.Lost
		allRSSI = append(allRSSI, s.rssi...)
		allDelay = append(allDelay, s.delay...)
	}
	if rpt.Overall.Observations > 0 {
		rpt.Overall.LossRatio = float64(rpt.Overall.Lost) / float64(rpt.Overall.Observations)
	}
	rpt.Overall.RSSI = describe(allRSSI)
	rpt.Overall.DelayMs = describe(allDelay)

	rpt.links = buildLinkGraph(tokens, usable)
	rpt.Clusters = rpt.links.clusters()
	rpt.Diameter = rpt.links.diameter()
	return rpt
}

// Route returns the shortest chain of vehicles from one token to another
// over usable links, both ends included, or nil when there is none.
func (rpt *Report) Route(from, to string) []string {
	if rpt.links == nil {
		return nil
	}
	return rpt.links.route(from, to)
}

// WriteToFile stores the report to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (rpt *Report) WriteToFile(filename string) error {
	var bytes []byte
	var merr error

	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*rpt)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*rpt, "", "\t")
	default:
		return fmt.Errorf("summary file %s: extension must be .yaml, .yml or .json", filename)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0o644)
}
