// Package results persists link observations.  The CSV log is the primary
// output; SQLite and InfluxDB sinks and an in-memory fan-out are available
// for analysis.
package results

import (
	"errors"

	"github.com/iti/v2xsim/internal/link"
)

// Recorder accepts one observation at a time.
type Recorder interface {
	Record(obs link.Observation) error
}

// Sink is a Recorder that holds resources until closed.
type Sink interface {
	Recorder
	Close() error
}

// Multi forwards every observation to each of its sinks in order.
type Multi struct {
	sinks []Sink
}

// Fanout combines sinks; nil entries are dropped.
func Fanout(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Add appends a sink.
func (m *Multi) Add(s Sink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

// Len is the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Record stops at the first sink that fails.
func (m *Multi) Record(obs link.Observation) error {
	for _, s := range m.sinks {
		if err := s.Record(obs); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
