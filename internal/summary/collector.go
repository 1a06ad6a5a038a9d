// Package summary condenses a run's observations into per-link statistics
// and into the groups of vehicles that can reach one another over usable
// links.
package summary

import (
	"github.com/iti/v2xsim/internal/link"
)

// pairKey identifies a directed link
type pairKey struct {
	sender   int32
	receiver int32
}

// series holds the raw values observed on one directed link
type series struct {
	rssi     []float64
	delay    []float64
	distance []float64
	lost     int
}

// Collector is a results sink that keeps every observation's numeric values
// until Build is called.
type Collector struct {
	pairs map[pairKey]*series
	order []pairKey
}

// NewCollector is a constructor
func NewCollector() *Collector {
	return &Collector{pairs: make(map[pairKey]*series)}
}

// Record adds obs to its link's series.
func (c *Collector) Record(obs link.Observation) error {
	key := pairKey{sender: obs.Sender, receiver: obs.Receiver}
	s, present := c.pairs[key]
	if !present {
		s = new(series)
		c.pairs[key] = s
		c.order = append(c.order, key)
	}
	s.rssi = append(s.rssi, obs.RSSI)
	s.delay = append(s.delay, obs.DelayMs)
	s.distance = append(s.distance, obs.Distance)
	if obs.Lost {
		s.lost++
	}
	return nil
}

// Close satisfies the sink interface; the data stays available.
func (c *Collector) Close() error {
	return nil
}

// Observations is the number of recorded observations.
func (c *Collector) Observations() int {
	n := 0
	for _, s := range c.pairs {
		n += len(s.rssi)
	}
	return n
}
