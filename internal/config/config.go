// Package config resolves the parameters of a simulation run from compiled
// defaults, an optional YAML or JSON file, V2XSIM_ environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iti/v2xsim/internal/link"
	"github.com/iti/v2xsim/internal/logging"
	"github.com/iti/v2xsim/internal/netsim"
	"github.com/iti/v2xsim/internal/packet"
	"github.com/iti/v2xsim/internal/results"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/exp/slices"
)

// EnvPrefix is prepended to the upper-cased key of every environment override,
// with dots replaced by underscores: V2XSIM_SIM_DURATION, V2XSIM_LOG_LEVEL.
const EnvPrefix = "V2XSIM"

// Coordinates accepted for trace.coordinates
var Coordinates = []string{"cartesian", "geo"}

// TraceConfig locates and interprets the mobility trace.
type TraceConfig struct {
	Path        string `mapstructure:"path" yaml:"path" json:"path"`
	Coordinates string `mapstructure:"coordinates" yaml:"coordinates" json:"coordinates"`
	EPSG        int    `mapstructure:"epsg" yaml:"epsg" json:"epsg"`
}

// SimConfig holds the simulated time horizon and the send schedule.
type SimConfig struct {
	Duration   float64 `mapstructure:"duration" yaml:"duration" json:"duration"`
	SendStart  float64 `mapstructure:"send_start" yaml:"send_start" json:"send_start"`
	SendPeriod float64 `mapstructure:"send_period" yaml:"send_period" json:"send_period"`
}

// PacketConfig sizes the broadcast packets and places the receive ports.
type PacketConfig struct {
	Size     int `mapstructure:"size" yaml:"size" json:"size"`
	BasePort int `mapstructure:"base_port" yaml:"base_port" json:"base_port"`
}

// OutputConfig names the files and stores a run writes.  Empty means off,
// except for CSV which is always written.
type OutputConfig struct {
	CSV        string               `mapstructure:"csv" yaml:"csv" json:"csv"`
	SQLite     string               `mapstructure:"sqlite" yaml:"sqlite" json:"sqlite"`
	Influx     results.InfluxConfig `mapstructure:"influx" yaml:"influx" json:"influx"`
	Summary    string               `mapstructure:"summary" yaml:"summary" json:"summary"`
	EventTrace string               `mapstructure:"event_trace" yaml:"event_trace" json:"event_trace"`
	Manifest   string               `mapstructure:"manifest" yaml:"manifest" json:"manifest"`
}

// MetricsConfig controls the Prometheus endpoint and the final textfile dump.
type MetricsConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Textfile string `mapstructure:"textfile" yaml:"textfile" json:"textfile"`
}

// TracingConfig switches OpenTelemetry spans on.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// Config is the fully resolved configuration of one run.
type Config struct {
	Trace   TraceConfig          `mapstructure:"trace" yaml:"trace" json:"trace"`
	Sim     SimConfig            `mapstructure:"sim" yaml:"sim" json:"sim"`
	Packet  PacketConfig         `mapstructure:"packet" yaml:"packet" json:"packet"`
	Link    link.Params          `mapstructure:"link" yaml:"link" json:"link"`
	Channel netsim.ChannelConfig `mapstructure:"channel" yaml:"channel" json:"channel"`
	Output  OutputConfig         `mapstructure:"output" yaml:"output" json:"output"`
	Log     logging.Config       `mapstructure:"log" yaml:"log" json:"log"`
	Metrics MetricsConfig        `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Tracing TracingConfig        `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// Default returns the configuration used when nothing is overridden.  The
// trace and output names, the horizon and the send schedule are those of the
// platoon scenario the simulator was first built for.
func Default() Config {
	return Config{
		Trace:   TraceConfig{Path: "fcd_data_one.csv", Coordinates: "cartesian", EPSG: 3857},
		Sim:     SimConfig{Duration: 100, SendStart: 0.1, SendPeriod: 0.1},
		Packet:  PacketConfig{Size: packet.HeaderLen, BasePort: 8000},
		Link:    link.DefaultParams(),
		Channel: netsim.ChannelConfig{BitrateMbps: netsim.DefaultChannel().BitrateMbps},
		Output: OutputConfig{
			CSV:    "6_platoon_nsm_output.csv",
			Influx: results.InfluxConfig{Org: "v2x", Bucket: "links"},
		},
		Log: logging.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("trace.path", def.Trace.Path)
	v.SetDefault("trace.coordinates", def.Trace.Coordinates)
	v.SetDefault("trace.epsg", def.Trace.EPSG)

	v.SetDefault("sim.duration", def.Sim.Duration)
	v.SetDefault("sim.send_start", def.Sim.SendStart)
	v.SetDefault("sim.send_period", def.Sim.SendPeriod)

	v.SetDefault("packet.size", def.Packet.Size)
	v.SetDefault("packet.base_port", def.Packet.BasePort)

	v.SetDefault("link.tx_power_dbm", def.Link.TxPowerDbm)
	v.SetDefault("link.frequency_hz", def.Link.FrequencyHz)
	v.SetDefault("link.rssi_floor_dbm", def.Link.RSSIFloorDbm)
	v.SetDefault("link.loss_threshold_dbm", def.Link.LossThresholdDbm)

	v.SetDefault("channel.bitrate_mbps", def.Channel.BitrateMbps)
	v.SetDefault("channel.jitter_us", def.Channel.JitterUs)

	v.SetDefault("output.csv", def.Output.CSV)
	v.SetDefault("output.sqlite", def.Output.SQLite)
	v.SetDefault("output.influx.url", def.Output.Influx.URL)
	v.SetDefault("output.influx.token", def.Output.Influx.Token)
	v.SetDefault("output.influx.org", def.Output.Influx.Org)
	v.SetDefault("output.influx.bucket", def.Output.Influx.Bucket)
	v.SetDefault("output.influx.batch_size", def.Output.Influx.BatchSize)
	v.SetDefault("output.influx.line_file", def.Output.Influx.LineFile)
	v.SetDefault("output.summary", def.Output.Summary)
	v.SetDefault("output.event_trace", def.Output.EventTrace)
	v.SetDefault("output.manifest", def.Output.Manifest)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	v.SetDefault("metrics.addr", def.Metrics.Addr)
	v.SetDefault("metrics.textfile", def.Metrics.Textfile)

	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
}

// flagKeys maps each command-line flag onto the configuration key it sets
var flagKeys = map[string]string{
	"input-csv":    "trace.path",
	"coordinates":  "trace.coordinates",
	"epsg":         "trace.epsg",
	"duration":     "sim.duration",
	"packet-size":  "packet.size",
	"output":       "output.csv",
	"sqlite":       "output.sqlite",
	"influx-lines": "output.influx.line_file",
	"summary":      "output.summary",
	"event-trace":  "output.event_trace",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"metrics-addr": "metrics.addr",
	"tracing":      "tracing.enabled",
}

// RegisterFlags defines the command-line flags on fs, with the same
// defaults as Default.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()

	fs.StringP("config", "c", "", "configuration file (.yaml, .yml or .json)")
	fs.String("input-csv", def.Trace.Path, "mobility trace: time,vehicle,x,y,speed")
	fs.String("coordinates", def.Trace.Coordinates, "trace coordinates: cartesian or geo (x=lon, y=lat)")
	fs.Int("epsg", def.Trace.EPSG, "projected coordinate system for geo traces")
	fs.Float64("duration", def.Sim.Duration, "simulated seconds")
	fs.Int("packet-size", def.Packet.Size, "bytes per broadcast packet")
	fs.StringP("output", "o", def.Output.CSV, "link observation CSV")
	fs.String("sqlite", def.Output.SQLite, "also store observations in this SQLite database")
	fs.String("influx-lines", def.Output.Influx.LineFile, "also write observations as InfluxDB line protocol to this file")
	fs.String("summary", def.Output.Summary, "write per-link statistics to this .yaml or .json file")
	fs.String("event-trace", def.Output.EventTrace, "write an event trace to this .yaml or .json file")
	fs.String("log-level", def.Log.Level, "trace, debug, info, warn or error")
	fs.String("log-format", def.Log.Format, "console or json")
	fs.String("metrics-addr", def.Metrics.Addr, "serve Prometheus metrics on this address while running")
	fs.Bool("tracing", def.Tracing.Enabled, "print OpenTelemetry spans to stdout")
}

// Load parses args into fs, registering the flags first when fs does not have
// them yet, and resolves the configuration.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	if fs == nil {
		fs = pflag.NewFlagSet("v2xsim", pflag.ContinueOnError)
	}
	if fs.Lookup("config") == nil {
		RegisterFlags(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file, _ := fs.GetString("config"); len(file) > 0 {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (cfg *Config) Validate() error {
	errs := []error{}
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(len(cfg.Trace.Path) > 0, "trace.path is empty")
	check(slices.Contains(Coordinates, cfg.Trace.Coordinates),
		"trace.coordinates %q is not one of %s", cfg.Trace.Coordinates, strings.Join(Coordinates, ", "))
	check(cfg.Sim.Duration > 0, "sim.duration must be positive, got %g", cfg.Sim.Duration)
	check(cfg.Sim.SendPeriod > 0, "sim.send_period must be positive, got %g", cfg.Sim.SendPeriod)
	check(cfg.Sim.SendStart >= 0, "sim.send_start must not be negative, got %g", cfg.Sim.SendStart)
	check(cfg.Packet.Size >= packet.HeaderLen, "packet.size must be at least %d, got %d", packet.HeaderLen, cfg.Packet.Size)
	check(cfg.Packet.BasePort > 0 && cfg.Packet.BasePort <= 0xffff, "packet.base_port %d is not a port", cfg.Packet.BasePort)
	check(cfg.Link.FrequencyHz > 0, "link.frequency_hz must be positive, got %g", cfg.Link.FrequencyHz)
	check(cfg.Channel.BitrateMbps > 0, "channel.bitrate_mbps must be positive, got %g", cfg.Channel.BitrateMbps)
	check(cfg.Channel.JitterUs >= 0, "channel.jitter_us must not be negative, got %g", cfg.Channel.JitterUs)
	check(len(cfg.Output.CSV) > 0, "output.csv is empty")

	if err := ReportErrs(errs); err != nil {
		return errors.Join(ErrInvalid, err)
	}
	return nil
}

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Outputs lists every output file the configuration names.
func (cfg *Config) Outputs() []string {
	names := []string{cfg.Output.CSV}
	for _, name := range []string{cfg.Output.SQLite, cfg.Output.Influx.LineFile, cfg.Output.Summary,
		cfg.Output.EventTrace, cfg.Output.Manifest, cfg.Metrics.Textfile} {
		if len(name) > 0 {
			names = append(names, name)
		}
	}
	return names
}
