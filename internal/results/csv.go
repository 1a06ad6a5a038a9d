package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/iti/v2xsim/internal/link"
)

// Header is the first line of every CSV log.
var Header = []string{
	"Time", "SenderID", "ReceiverID", "Distance", "SpeedSender",
	"SpeedReceiver", "PacketSize", "RSSI", "Delay", "PacketLoss",
}

// CSVLogger appends one row per observation to a file.  Each row is written
// by its own open, append and close, so the file is complete after every
// observation.
type CSVLogger struct {
	path string
	rows int
}

// NewCSVLogger truncates (or creates) path and writes the header.
func NewCSVLogger(path string) (*CSVLogger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	if err := writeRecord(f, Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return &CSVLogger{path: path}, nil
}

// Path is the file being written.
func (cl *CSVLogger) Path() string {
	return cl.path
}

// Rows is the number of observation rows written so far.
func (cl *CSVLogger) Rows() int {
	return cl.rows
}

// Record appends obs as one row.
func (cl *CSVLogger) Record(obs link.Observation) error {
	f, err := os.OpenFile(cl.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if err := writeRecord(f, FormatRow(obs)); err != nil {
		f.Close()
		return fmt.Errorf("append log %s: %w", cl.path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	cl.rows++
	return nil
}

// Close is a no-op; no file is held open between rows.
func (cl *CSVLogger) Close() error {
	return nil
}

// FormatRow renders obs in column order.  Floats use the shortest decimal
// form that reads back to the same value.
func FormatRow(obs link.Observation) []string {
	return []string{
		formatFloat(obs.Time),
		strconv.FormatInt(int64(obs.Sender), 10),
		strconv.FormatInt(int64(obs.Receiver), 10),
		formatFloat(obs.Distance),
		formatFloat(obs.SpeedSender),
		formatFloat(obs.SpeedReceiver),
		strconv.Itoa(obs.PacketSize),
		formatFloat(obs.RSSI),
		formatFloat(obs.DelayMs),
		strconv.Itoa(obs.LossFlag()),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeRecord(f *os.File, record []string) error {
	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
