// Package exchange drives the periodic all-to-all broadcast between vehicles
// and turns every delivered packet into a link observation.
package exchange

import (
	"errors"
	"fmt"

	"github.com/iti/v2xsim/internal/engine"
	"github.com/iti/v2xsim/internal/evtrace"
	"github.com/iti/v2xsim/internal/link"
	"github.com/iti/v2xsim/internal/metrics"
	"github.com/iti/v2xsim/internal/netsim"
	"github.com/iti/v2xsim/internal/packet"
	"github.com/iti/v2xsim/internal/registry"
	"github.com/rs/zerolog"
)

// ErrUnknownSender is reported when a payload names a sender that is not a
// registered vehicle.
var ErrUnknownSender = errors.New("unknown sender")

// Scheduler is the part of the event engine the exchange needs.
type Scheduler interface {
	ScheduleAt(at float64, fn func())
	NowNs() uint64
	Fail(err error)
}

// Recorder consumes observations.
type Recorder interface {
	Record(obs link.Observation) error
}

// Config fixes the packet size, the receive ports and the send schedule.
type Config struct {
	PacketSize int
	BasePort   int
	SendStart  float64
	SendPeriod float64
	Duration   float64
}

type options struct {
	metrics *metrics.Collector
	tm      *evtrace.TraceManager
}

// Option attaches optional observers to sends and receptions.
type Option func(*options)

// WithMetrics counts sends and receptions in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithTrace records sends and receptions in tm.
func WithTrace(tm *evtrace.TraceManager) Option {
	return func(o *options) { o.tm = tm }
}

// sender is the periodic transmitter of one ordered pair
type sender struct {
	from registry.Handle
	to   registry.Handle
	ep   *netsim.Endpoint
}

// Exchange owns the endpoints of every vehicle and the send schedule.
type Exchange struct {
	eng   Scheduler
	reg   *registry.Registry
	model *link.Model
	rec   Recorder
	cfg   Config
	log   zerolog.Logger
	opts  options

	receivers []*netsim.Endpoint
	senders   []*sender

	sent     int
	received int
}

// Setup binds one receive endpoint per vehicle at cfg.BasePort plus its
// handle, creates a send endpoint for every ordered pair of distinct
// vehicles and schedules the first send of each pair.  Pairs are created and
// scheduled in (sender, receiver) handle order.
func Setup(eng Scheduler, nw *netsim.Network, reg *registry.Registry, model *link.Model, rec Recorder,
	cfg Config, log zerolog.Logger, opts ...Option) (*Exchange, error) {

	if cfg.PacketSize < packet.HeaderLen {
		return nil, fmt.Errorf("packet size %d is below the %d byte payload", cfg.PacketSize, packet.HeaderLen)
	}
	if cfg.SendPeriod <= 0 {
		return nil, fmt.Errorf("send period must be positive, got %g", cfg.SendPeriod)
	}
	n := reg.Len()
	if n > 0 && (cfg.BasePort <= 0 || cfg.BasePort+n-1 > 0xffff) {
		return nil, fmt.Errorf("ports %d..%d for %d receivers do not fit", cfg.BasePort, cfg.BasePort+n-1, n)
	}

	x := &Exchange{
		eng:   eng,
		reg:   reg,
		model: model,
		rec:   rec,
		cfg:   cfg,
		log:   log.With().Str("component", "exchange").Logger(),
	}
	for _, opt := range opts {
		opt(&x.opts)
	}

	for _, h := range reg.Handles() {
		ep := nw.CreateEndpoint(int(h))
		if err := ep.Bind(uint16(cfg.BasePort + int(h))); err != nil {
			return nil, fmt.Errorf("receive endpoint of %s: %w", reg.Token(h), err)
		}
		ep.SetRecvCallback(x.drain)
		x.receivers = append(x.receivers, ep)
	}

	for _, from := range reg.Handles() {
		for _, to := range reg.Handles() {
			if from == to {
				continue
			}
			ep := nw.CreateEndpoint(int(from))
			if err := ep.Connect(x.receivers[to].LocalAddr()); err != nil {
				return nil, fmt.Errorf("send endpoint %s to %s: %w", reg.Token(from), reg.Token(to), err)
			}
			x.senders = append(x.senders, &sender{from: from, to: to, ep: ep})
		}
	}

	for _, s := range x.senders {
		x.scheduleSend(s, 0)
	}
	x.log.Info().Int("receivers", len(x.receivers)).Int("pairs", len(x.senders)).
		Float64("start", cfg.SendStart).Float64("period", cfg.SendPeriod).Msg("exchange scheduled")
	return x, nil
}

// sendTime is the absolute time of the k-th send of every pair
func (x *Exchange) sendTime(k int) float64 {
	return engine.RoundTime(x.cfg.SendStart + float64(k)*x.cfg.SendPeriod)
}

// scheduleSend arranges the k-th send of s, if it falls before the end of the run
func (x *Exchange) scheduleSend(s *sender, k int) {
	at := x.sendTime(k)
	if at >= x.cfg.Duration {
		return
	}
	x.eng.ScheduleAt(at, func() {
		x.send(s)
		x.scheduleSend(s, k+1)
	})
}

func (x *Exchange) send(s *sender) {
	sendNs := x.eng.NowNs()
	buf, err := packet.Encode(sendNs, int32(s.from), x.cfg.PacketSize)
	if err == nil {
		err = s.ep.Send(buf)
	}
	if err != nil {
		x.eng.Fail(fmt.Errorf("send %s to %s: %w", x.reg.Token(s.from), x.reg.Token(s.to), err))
		return
	}
	x.sent++
	x.opts.metrics.PacketSent()
	evtrace.AddSendTrace(x.opts.tm, float64(sendNs)/1e9, int(s.from), int(s.to), sendNs)
}

// drain is the receive callback of every receive endpoint.  It consumes all
// pending packets, reading both vehicles' state as it is now.
func (x *Exchange) drain(ep *netsim.Endpoint) {
	receiver := registry.Handle(ep.Node())
	for pkt := ep.Recv(); pkt != nil; pkt = ep.Recv() {
		pl, err := packet.Decode(pkt.Data)
		if err != nil {
			x.eng.Fail(fmt.Errorf("packet from %s at %s: %w", pkt.From, ep.LocalAddr(), err))
			return
		}
		if pl.Sender < 0 || int(pl.Sender) >= x.reg.Len() {
			x.eng.Fail(fmt.Errorf("packet from %s at %s: %w %d", pkt.From, ep.LocalAddr(), ErrUnknownSender, pl.Sender))
			return
		}

		from := x.reg.State(registry.Handle(pl.Sender))
		to := x.reg.State(receiver)
		recvNs := x.eng.NowNs()
		obs := x.model.Observe(link.Input{
			RecvNs:        recvNs,
			SendNs:        pl.SendNs,
			Sender:        pl.Sender,
			Receiver:      int32(receiver),
			SenderPos:     from.Position,
			ReceiverPos:   to.Position,
			SenderSpeed:   from.Speed,
			ReceiverSpeed: to.Speed,
			PacketSize:    len(pkt.Data),
		})
		x.received++

		if err := x.rec.Record(obs); err != nil {
			x.eng.Fail(fmt.Errorf("recording observation %d->%d at %g: %w", obs.Sender, obs.Receiver, obs.Time, err))
			return
		}
		x.opts.metrics.PacketReceived(obs.RSSI, obs.DelayMs, obs.Lost)
		evtrace.AddRecvTrace(x.opts.tm, obs.Time, int(obs.Sender), int(obs.Receiver), pl.SendNs, obs.RSSI, obs.Lost)
		x.log.Trace().Int32("sender", obs.Sender).Int32("receiver", obs.Receiver).
			Float64("rssi", obs.RSSI).Bool("lost", obs.Lost).Msg("observation")
	}
}

// Pairs is the number of ordered sender/receiver pairs.
func (x *Exchange) Pairs() int {
	return len(x.senders)
}

// Sent is the number of packets handed to the network.
func (x *Exchange) Sent() int {
	return x.sent
}

// Received is the number of packets turned into observations.
func (x *Exchange) Received() int {
	return x.received
}
