package results

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/iti/v2xsim/internal/link"
	"github.com/rs/zerolog"
)

// Measurement is the InfluxDB measurement name for observations.
const Measurement = "v2x_link"

// InfluxConfig selects where points go.  With a URL, points are written to
// the server through the non-blocking write API.  Without one, LineFile
// receives the line protocol instead, which can be imported later.
type InfluxConfig struct {
	URL       string `mapstructure:"url" yaml:"url" json:"url"`
	Token     string `mapstructure:"token" yaml:"-" json:"-"`
	Org       string `mapstructure:"org" yaml:"org" json:"org"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	BatchSize uint   `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	LineFile  string `mapstructure:"line_file" yaml:"line_file" json:"line_file"`

	// Epoch is the wall-clock instant that simulated time zero maps to
	Epoch time.Time `mapstructure:"-" yaml:"-" json:"-"`
}

// Enabled reports whether the configuration names any destination.
func (cfg InfluxConfig) Enabled() bool {
	return len(cfg.URL) > 0 || len(cfg.LineFile) > 0
}

// InfluxSink writes observations as InfluxDB points.
type InfluxSink struct {
	cfg    InfluxConfig
	log    zerolog.Logger
	client influxdb2.Client
	writer influxdb2_api.WriteAPI

	backup    *os.File
	backupBuf *bufio.Writer
	errDone   chan struct{}
	writeErrs int
}

// NewInfluxSink connects the sink to the server or opens the line file.
func NewInfluxSink(cfg InfluxConfig, log zerolog.Logger) (*InfluxSink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("influx sink needs a url or a line file")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2500
	}
	if cfg.Epoch.IsZero() {
		cfg.Epoch = time.Unix(0, 0).UTC()
	}
	is := &InfluxSink{cfg: cfg, log: log.With().Str("component", "influx").Logger()}

	if len(cfg.URL) > 0 {
		is.client = influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
			influxdb2.DefaultOptions().SetBatchSize(cfg.BatchSize).SetFlushInterval(1000))
		is.writer = is.client.WriteAPI(cfg.Org, cfg.Bucket)

		is.errDone = make(chan struct{})
		errorsCh := is.writer.Errors()
		go func() {
			defer close(is.errDone)
			for writeErr := range errorsCh {
				is.writeErrs++
				is.log.Warn().Err(writeErr).Str("bucket", cfg.Bucket).Msg("error sending data to InfluxDB")
			}
		}()
		is.log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("InfluxDB writer created")
		return is, nil
	}

	f, err := os.Create(cfg.LineFile)
	if err != nil {
		return nil, fmt.Errorf("create line file: %w", err)
	}
	is.backup = f
	is.backupBuf = bufio.NewWriter(f)
	is.log.Info().Str("path", cfg.LineFile).Msg("writing InfluxDB line protocol to file")
	return is, nil
}

// Point converts an observation into a point stamped at epoch plus the
// observation's simulated time.
func Point(obs link.Observation, epoch time.Time) *influxdb2_write.Point {
	ts := epoch.Add(time.Duration(obs.Time * float64(time.Second)))
	return influxdb2_write.NewPointWithMeasurement(Measurement).
		AddTag("receiver", strconv.Itoa(int(obs.Receiver))).
		AddTag("sender", strconv.Itoa(int(obs.Sender))).
		AddField("distance", obs.Distance).
		AddField("speed_sender", obs.SpeedSender).
		AddField("speed_receiver", obs.SpeedReceiver).
		AddField("packet_size", int64(obs.PacketSize)).
		AddField("rssi", obs.RSSI).
		AddField("delay_ms", obs.DelayMs).
		AddField("lost", obs.Lost).
		SetTime(ts)
}

// Record writes one point.
func (is *InfluxSink) Record(obs link.Observation) error {
	point := Point(obs, is.cfg.Epoch)
	if is.writer != nil {
		is.writer.WritePoint(point)
		return nil
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := is.backupBuf.WriteString(line); err != nil {
		return fmt.Errorf("write line protocol: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client or file.
func (is *InfluxSink) Close() error {
	if is.writer != nil {
		is.writer.Flush()
		is.client.Close()
		<-is.errDone
		if is.writeErrs > 0 {
			return fmt.Errorf("%d InfluxDB write batches failed", is.writeErrs)
		}
		return nil
	}
	ferr := is.backupBuf.Flush()
	if err := is.backup.Close(); err != nil {
		return err
	}
	return ferr
}
