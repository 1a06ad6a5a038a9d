// Package sim assembles a complete run from a resolved configuration: the
// trace, the vehicle registry, the mobility schedule, the network, the packet
// exchange and the result sinks, all sharing one event engine.
package sim

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/iti/v2xsim/internal/config"
	"github.com/iti/v2xsim/internal/engine"
	"github.com/iti/v2xsim/internal/evtrace"
	"github.com/iti/v2xsim/internal/exchange"
	"github.com/iti/v2xsim/internal/link"
	"github.com/iti/v2xsim/internal/metrics"
	"github.com/iti/v2xsim/internal/mobility"
	"github.com/iti/v2xsim/internal/netsim"
	"github.com/iti/v2xsim/internal/registry"
	"github.com/iti/v2xsim/internal/results"
	"github.com/iti/v2xsim/internal/summary"
	"github.com/iti/v2xsim/internal/telemetry"
	"github.com/iti/v2xsim/internal/trace"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Deps are the collaborators a simulation borrows from its caller.
type Deps struct {
	Log zerolog.Logger

	// Metrics is optional
	Metrics *metrics.Collector
}

// Result reports what a finished run did.
type Result struct {
	Vehicles     int
	Samples      int
	Pairs        int
	Sent         int
	Received     int
	Undelivered  int
	Observations int
	Dispatched   int
	Summary      *summary.Report
}

// Simulation is a run that has been built and not yet executed.
type Simulation struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Collector

	samples []trace.Sample
	eng     *engine.Engine
	reg     *registry.Registry
	nw      *netsim.Network
	x       *exchange.Exchange
	tm      *evtrace.TraceManager

	csv     *results.CSVLogger
	stats   *summary.Collector
	sinks   *results.Multi
	updates int
}

// Build loads the trace and prepares every scheduled event.  Nothing is
// simulated until Run.  The order of construction is fixed: trace, registry,
// mobility schedule, network, output header, endpoints and sends.
func Build(ctx context.Context, cfg *config.Config, deps Deps) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulation{cfg: cfg, log: deps.Log, metrics: deps.Metrics}

	if err := s.loadTrace(ctx); err != nil {
		return nil, err
	}

	_, span := telemetry.Tracer().Start(ctx, "build")
	defer span.End()
	if err := s.build(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.sinks != nil {
			_ = s.sinks.Close()
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("vehicles", s.reg.Len()),
		attribute.Int("mobility_updates", s.updates),
		attribute.Int("pairs", s.x.Pairs()),
	)
	return s, nil
}

func (s *Simulation) loadTrace(ctx context.Context) error {
	_, span := telemetry.Tracer().Start(ctx, "load_trace",
		oteltrace.WithAttributes(attribute.String("path", s.cfg.Trace.Path)))
	defer span.End()

	if _, err := config.CheckReadableFiles([]string{s.cfg.Trace.Path}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("trace file: %w", err)
	}
	if _, err := config.CheckOutputFiles(s.cfg.Outputs()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("output files: %w", err)
	}

	var opts []trace.Option
	if s.cfg.Trace.Coordinates == "geo" {
		opts = append(opts, trace.WithGeoProjection(s.cfg.Trace.EPSG))
	}
	samples, err := trace.Load(s.cfg.Trace.Path, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.samples = samples
	span.SetAttributes(attribute.Int("samples", len(samples)))
	s.log.Info().Str("path", s.cfg.Trace.Path).Int("samples", len(samples)).Msg("trace loaded")
	return nil
}

func (s *Simulation) build() error {
	cfg := s.cfg

	s.reg = registry.New(s.samples)
	s.metrics.SetVehicles(s.reg.Len())
	s.log.Info().Int("vehicles", s.reg.Len()).Strs("tokens", s.reg.Tokens()).Msg("registry built")

	s.tm = evtrace.CreateTraceManager(traceName(cfg.Trace.Path), len(cfg.Output.EventTrace) > 0)
	for _, h := range s.reg.Handles() {
		if err := s.tm.AddName(int(h), s.reg.Token(h), "vehicle"); err != nil {
			return err
		}
	}

	s.eng = engine.New(s.log)
	s.updates = mobility.Schedule(s.eng, s.reg, s.samples,
		mobility.WithMetrics(s.metrics), mobility.WithTrace(s.tm))

	s.nw = netsim.CreateNetwork(s.eng, s.reg, cfg.Channel, s.log)

	if err := s.openSinks(); err != nil {
		return err
	}

	x, err := exchange.Setup(s.eng, s.nw, s.reg, link.NewModel(cfg.Link), s.sinks,
		exchange.Config{
			PacketSize: cfg.Packet.Size,
			BasePort:   cfg.Packet.BasePort,
			SendStart:  cfg.Sim.SendStart,
			SendPeriod: cfg.Sim.SendPeriod,
			Duration:   cfg.Sim.Duration,
		},
		s.log, exchange.WithMetrics(s.metrics), exchange.WithTrace(s.tm))
	if err != nil {
		return err
	}
	s.x = x
	return nil
}

// openSinks creates the CSV log (header written now) and the optional stores
func (s *Simulation) openSinks() error {
	out := s.cfg.Output
	s.sinks = results.Fanout()

	csv, err := results.NewCSVLogger(out.CSV)
	if err != nil {
		return err
	}
	s.csv = csv
	s.sinks.Add(csv)

	if len(out.SQLite) > 0 {
		db, err := results.OpenSQLite(out.SQLite)
		if err != nil {
			return err
		}
		s.sinks.Add(db)
	}
	if out.Influx.Enabled() {
		is, err := results.NewInfluxSink(out.Influx, s.log)
		if err != nil {
			return err
		}
		s.sinks.Add(is)
	}

	if len(out.Summary) > 0 {
		s.stats = summary.NewCollector()
		s.sinks.Add(s.stats)
	}
	s.log.Debug().Int("sinks", s.sinks.Len()).Str("csv", out.CSV).Msg("sinks opened")
	return nil
}

// Run simulates up to the configured duration, closes the sinks and writes
// the optional summary, event trace, manifest and metrics files.  Result.Summary
// is nil unless a summary path is configured.  The sinks are closed even when
// ctx is already done.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(err, s.sinks.Close())
	}

	_, span := telemetry.Tracer().Start(ctx, "simulate",
		oteltrace.WithAttributes(attribute.Float64("duration", s.cfg.Sim.Duration)))
	runErr := s.eng.RunUntil(s.cfg.Sim.Duration)
	closeErr := s.sinks.Close()
	span.SetAttributes(
		attribute.Int("sent", s.x.Sent()),
		attribute.Int("received", s.x.Received()),
		attribute.Int("events", s.eng.Dispatched()),
	)
	if err := errors.Join(runErr, closeErr); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	span.End()

	res := &Result{
		Vehicles:     s.reg.Len(),
		Samples:      len(s.samples),
		Pairs:        s.x.Pairs(),
		Sent:         s.x.Sent(),
		Received:     s.x.Received(),
		Undelivered:  s.nw.Undelivered(),
		Observations: s.csv.Rows(),
		Dispatched:   s.eng.Dispatched(),
	}
	s.log.Info().Int("sent", res.Sent).Int("received", res.Received).Int("rows", res.Observations).
		Str("csv", s.csv.Path()).Msg("simulation complete")

	if err := s.summarize(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Simulation) summarize(ctx context.Context, res *Result) error {
	_, span := telemetry.Tracer().Start(ctx, "summarize")
	defer span.End()

	out := s.cfg.Output
	var errs []error
	if s.stats != nil {
		res.Summary = s.stats.Build(s.reg.Tokens())
		span.SetAttributes(attribute.Int("clusters", len(res.Summary.Clusters)))
		errs = append(errs, res.Summary.WriteToFile(out.Summary))
	}
	if len(out.EventTrace) > 0 {
		errs = append(errs, s.tm.WriteToFile(out.EventTrace, true))
	}
	if len(out.Manifest) > 0 {
		rd := config.RunDesc{
			Name:         s.tm.ExpName,
			Vehicles:     res.Vehicles,
			Samples:      res.Samples,
			Observations: res.Observations,
			SimTime:      s.cfg.Sim.Duration,
			Config:       *s.cfg,
		}
		errs = append(errs, rd.WriteToFile(out.Manifest))
	}
	if len(s.cfg.Metrics.Textfile) > 0 {
		errs = append(errs, s.metrics.WriteTextfile(s.cfg.Metrics.Textfile))
	}
	if err := config.ReportErrs(errs); err != nil {
		span.RecordError(err)
		return fmt.Errorf("writing run outputs: %w", err)
	}
	return nil
}

// traceName is the trace file's base name without extension
func traceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
