// Command v2xsim replays a vehicle mobility trace, has every vehicle
// broadcast to every other one ten times a second, and logs what each
// receiver observes about each link.
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/iti/v2xsim/internal/config"
	"github.com/iti/v2xsim/internal/logging"
	"github.com/iti/v2xsim/internal/metrics"
	"github.com/iti/v2xsim/internal/sim"
	"github.com/iti/v2xsim/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log := logging.New(logging.DefaultConfig())
		log.Fatal().Err(err).Msg("v2xsim failed")
	}
}

// run resolves the configuration from args and performs one simulation.
// Spans, when enabled, are written to stdout.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("v2xsim", pflag.ContinueOnError)
	cfg, err := config.Load(fs, args)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log)

	shutdown, err := telemetry.Init(ctx, cfg.Tracing.Enabled, stdout, log)
	if err != nil {
		return err
	}
	defer telemetry.ShutdownWithTimeout(context.Background(), shutdown, log)

	var collector *metrics.Collector
	if len(cfg.Metrics.Addr) > 0 || len(cfg.Metrics.Textfile) > 0 {
		collector, err = metrics.New(prometheus.NewRegistry())
		if err != nil {
			return err
		}
	}
	metricsSrv := serveMetrics(cfg.Metrics.Addr, collector, log)
	defer func() {
		if metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	s, err := sim.Build(ctx, cfg, sim.Deps{Log: log, Metrics: collector})
	if err != nil {
		return err
	}
	res, err := s.Run(ctx)
	if err != nil {
		return err
	}

	ev := log.Info().
		Int("vehicles", res.Vehicles).
		Int("pairs", res.Pairs).
		Int("observations", res.Observations)
	if res.Summary != nil {
		ev = ev.Int("clusters", len(res.Summary.Clusters)).
			Int("diameter", res.Summary.Diameter)
	}
	ev.Str("output", cfg.Output.CSV).Msg("done")
	return nil
}

func serveMetrics(addr string, collector *metrics.Collector, log zerolog.Logger) *http.Server {
	if len(addr) == 0 || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Str("addr", addr).Msg("metrics server exited")
		}
	}()

	log.Info().Str("addr", addr).Msg("serving Prometheus metrics")
	return srv
}
