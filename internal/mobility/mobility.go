// Package mobility turns trace samples into scheduled vehicle state updates.
package mobility

import (
	"github.com/iti/v2xsim/internal/evtrace"
	"github.com/iti/v2xsim/internal/metrics"
	"github.com/iti/v2xsim/internal/registry"
	"github.com/iti/v2xsim/internal/trace"
	"gonum.org/v1/gonum/spatial/r2"
)

// Scheduler is the part of the event engine the adapter needs.
type Scheduler interface {
	ScheduleAt(at float64, fn func())
}

type options struct {
	metrics *metrics.Collector
	tm      *evtrace.TraceManager
}

// Option attaches optional observers to the updates.
type Option func(*options)

// WithMetrics counts every applied update.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithTrace records every applied update in tm.
func WithTrace(tm *evtrace.TraceManager) Option {
	return func(o *options) { o.tm = tm }
}

// Schedule arranges, for every sample, an overwrite of that vehicle's state
// at the sample's time.  Samples are scheduled in slice order so that two
// samples for the same instant apply in file order and the later one wins.
// Samples whose token is unknown to reg are skipped.  It returns the number
// of scheduled updates.
func Schedule(eng Scheduler, reg *registry.Registry, samples []trace.Sample, opts ...Option) int {
	o := new(options)
	for _, opt := range opts {
		opt(o)
	}

	scheduled := 0
	for _, s := range samples {
		h, present := reg.Handle(s.Token)
		if !present {
			continue
		}
		state := registry.VehicleState{Position: r2.Vec{X: s.X, Y: s.Y}, Speed: s.Speed}
		at := s.Time
		eng.ScheduleAt(at, func() {
			reg.SetState(h, state)
			o.metrics.MobilityUpdate()
			evtrace.AddMobilityTrace(o.tm, at, int(h), state.Position.X, state.Position.Y, state.Speed)
		})
		scheduled++
	}
	return scheduled
}
