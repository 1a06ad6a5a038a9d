// Package metrics exposes run counters and link-quality distributions as
// Prometheus collectors.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the simulator's Prometheus metrics.  All recording
// methods are safe to call on a nil *Collector.
type Collector struct {
	gatherer prometheus.Gatherer

	PacketsSent     prometheus.Counter
	PacketsReceived prometheus.Counter
	PacketsLost     prometheus.Counter
	MobilityUpdates prometheus.Counter
	Vehicles        prometheus.Gauge
	RSSI            prometheus.Histogram
	Delay           prometheus.Histogram
}

// New registers the simulator metrics against reg, defaulting to the global
// Prometheus registry when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.PacketsSent, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "v2x_packets_sent_total",
		Help: "Packets handed to the channel by all senders.",
	})); err != nil {
		return nil, err
	}
	if c.PacketsReceived, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "v2x_packets_received_total",
		Help: "Packets delivered to a receiver and logged.",
	})); err != nil {
		return nil, err
	}
	if c.PacketsLost, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "v2x_packets_lost_total",
		Help: "Delivered packets whose signal strength fell below the loss threshold.",
	})); err != nil {
		return nil, err
	}
	if c.MobilityUpdates, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "v2x_mobility_updates_total",
		Help: "Trace samples applied to vehicle state.",
	})); err != nil {
		return nil, err
	}
	if c.Vehicles, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "v2x_vehicles",
		Help: "Number of distinct vehicles in the trace.",
	})); err != nil {
		return nil, err
	}
	if c.RSSI, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "v2x_rssi_dbm",
		Help:    "Received signal strength of delivered packets in dBm.",
		Buckets: prometheus.LinearBuckets(-100, 5, 17),
	})); err != nil {
		return nil, err
	}
	if c.Delay, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "v2x_delay_ms",
		Help:    "One-way packet delay in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})); err != nil {
		return nil, err
	}
	return c, nil
}

// PacketSent counts one transmission.
func (c *Collector) PacketSent() {
	if c == nil {
		return
	}
	c.PacketsSent.Inc()
}

// PacketReceived records one logged observation.
func (c *Collector) PacketReceived(rssi, delayMs float64, lost bool) {
	if c == nil {
		return
	}
	c.PacketsReceived.Inc()
	if lost {
		c.PacketsLost.Inc()
	}
	c.RSSI.Observe(rssi)
	c.Delay.Observe(delayMs)
}

// MobilityUpdate counts one applied trace sample.
func (c *Collector) MobilityUpdate() {
	if c == nil {
		return
	}
	c.MobilityUpdates.Inc()
}

// SetVehicles sets the vehicle gauge.
func (c *Collector) SetVehicles(n int) {
	if c == nil {
		return
	}
	c.Vehicles.Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// WriteTextfile dumps the current values in the text exposition format, for
// the node exporter textfile collector or for inspection after a run.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.gatherer); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

// register adds col to reg, reusing an identical collector that is already
// registered.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
