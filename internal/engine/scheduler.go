package engine

// scheduler.go wraps the evt event manager so that the rest of the simulator
// can schedule plain callbacks at absolute simulated times.
//
// evt orders events by (ticks, priority) and makes no promise about the order of
// two events that land on the same tick.  The trace replay depends on that order
// (a mobility sample and a send at the same instant must run in the order they
// were scheduled), so every callback that lands on a given tick is appended to a
// bucket, and only the bucket itself is handed to evt.  When the bucket fires its
// callbacks run first-in first-out, including callbacks that were added to the
// bucket while it was being drained.

import (
	"errors"
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/rs/zerolog"
)

// rdigits is the number of decimal digits simulated times are rounded to.
// Send ticks are computed as start + k*period and would otherwise carry
// representation noise into the bucket keys and into the logged times.
var rdigits uint = 12

// ErrStopped is returned by RunUntil when the engine has already been run.
var ErrStopped = errors.New("engine already run")

// ErrBadTime is reported through Fail when a callback is scheduled at a
// time that is not a finite number.
var ErrBadTime = errors.New("schedule time is not finite")

// roundFloat rounds a computed simulation time to avoid comparisons that
// only differ by floating point noise
func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// RoundTime rounds a simulated time (seconds) the same way the engine does.
func RoundTime(t float64) float64 {
	return roundFloat(t, rdigits)
}

// bucket holds all callbacks that fire on the same tick
type bucket struct {
	key int64
	at  float64
	fns []func()
}

// Engine is the discrete-event engine used by the simulation.  It is single
// threaded: callbacks run to completion one at a time in non-decreasing
// simulated time.
type Engine struct {
	evtMgr  *evtm.EventManager
	log     zerolog.Logger
	buckets map[int64]*bucket

	now  float64
	stop float64
	ran  bool
	err  error

	dispatched int
}

// New is a constructor
func New(log zerolog.Logger) *Engine {
	eng := new(Engine)
	eng.evtMgr = evtm.New()
	eng.log = log.With().Str("component", "engine").Logger()
	eng.buckets = make(map[int64]*bucket)
	eng.stop = math.Inf(1)
	return eng
}

// Now returns the current simulated time in seconds.
func (eng *Engine) Now() float64 {
	return eng.now
}

// NowNs returns the current simulated time in integer nanoseconds.
func (eng *Engine) NowNs() uint64 {
	return uint64(math.Round(eng.now * 1e9))
}

// Dispatched reports how many callbacks have been executed.
func (eng *Engine) Dispatched() int {
	return eng.dispatched
}

// Err returns the first error reported through Fail, if any.
func (eng *Engine) Err() error {
	return eng.err
}

// Fail records err and halts dispatch.  Only the first error is kept.
func (eng *Engine) Fail(err error) {
	if err == nil || eng.err != nil {
		return
	}
	eng.err = err
	eng.log.Error().Err(err).Float64("time", eng.now).Msg("simulation halted")
}

func (eng *Engine) halted() bool {
	return eng.err != nil
}

// ScheduleAt arranges for fn to be called at simulated time at.  A time in the
// past is treated as 'now'.  A NaN or infinite time halts the engine.
func (eng *Engine) ScheduleAt(at float64, fn func()) {
	if math.IsNaN(at) || math.IsInf(at, 0) {
		eng.Fail(fmt.Errorf("at %v: %w", at, ErrBadTime))
		return
	}
	at = roundFloat(at, rdigits)
	if at < eng.now {
		at = eng.now
	}

	key := vrtime.SecondsToTime(at).Ticks()
	if b, present := eng.buckets[key]; present {
		b.fns = append(b.fns, fn)
		return
	}

	b := &bucket{key: key, at: at, fns: []func(){fn}}
	eng.buckets[key] = b

	// evt offsets are relative to the event manager's clock
	offset := roundFloat(at-eng.now, rdigits)
	eng.evtMgr.Schedule(eng, b, fireBucket, vrtime.SecondsToTime(offset))
}

// ScheduleAfter arranges for fn to be called delay seconds from now.
func (eng *Engine) ScheduleAfter(delay float64, fn func()) {
	eng.ScheduleAt(eng.now+delay, fn)
}

// fireBucket is the evt event handler for a bucket of same-tick callbacks
func fireBucket(evtMgr *evtm.EventManager, context any, data any) any {
	eng := context.(*Engine)
	b := data.(*bucket)

	// the bucket stays addressable while it drains so that callbacks scheduled
	// for this same instant join the end of it
	defer delete(eng.buckets, b.key)

	if b.at >= eng.stop || eng.halted() {
		return nil
	}
	if b.at > eng.now {
		eng.now = b.at
	}

	for idx := 0; idx < len(b.fns); idx++ {
		if eng.halted() {
			break
		}
		b.fns[idx]()
		eng.dispatched += 1
	}
	b.fns = nil
	return nil
}

// RunUntil executes events whose time is strictly less than stop, then
// returns.  The returned error is the first one passed to Fail.
func (eng *Engine) RunUntil(stop float64) error {
	if eng.ran {
		return ErrStopped
	}
	eng.ran = true
	eng.stop = roundFloat(stop, rdigits)

	eng.log.Debug().Float64("stop", eng.stop).Int("pending", len(eng.buckets)).Msg("run")
	eng.evtMgr.Run(eng.stop)

	// anything still queued is torn down unconditionally
	eng.buckets = make(map[int64]*bucket)
	if eng.now < eng.stop && !eng.halted() {
		eng.now = eng.stop
	}
	return eng.err
}
