// Package trace reads a vehicle mobility trace: a CSV file with a header line
// followed by rows of time,vehicle,x,y,speed.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/wroge/wgs84"
)

// ErrFieldCount is returned for a row with fewer than five fields.
var ErrFieldCount = errors.New("trace row needs 5 fields")

// ErrNonFinite is returned for a numeric field that parses as NaN or an infinity.
var ErrNonFinite = errors.New("value is not finite")

// ErrProjection is returned when a geographic sample cannot be projected.
var ErrProjection = errors.New("cannot project coordinates")

// NumFields is the number of positional fields in a trace row.
const NumFields = 5

// Sample is one timestamped observation of a vehicle.
type Sample struct {
	Time  float64 // seconds
	Token string  // vehicle identifier as written in the trace
	X     float64
	Y     float64
	Speed float64
}

// Option changes how rows are interpreted.
type Option func(*loader)

type loader struct {
	project func(x, y float64) (float64, float64, error)
}

// WithGeoProjection treats x and y as longitude and latitude (EPSG:4326) and
// converts them into the projected system epsg, whose units are metres.
func WithGeoProjection(epsg int) Option {
	return func(ld *loader) {
		transform := wgs84.EPSG().Transform(4326, epsg)
		ld.project = func(lon, lat float64) (float64, float64, error) {
			x, y, _ := transform(lon, lat, 0)
			if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
				return 0, 0, fmt.Errorf("EPSG:%d (%v, %v): %w", epsg, lon, lat, ErrProjection)
			}
			return x, y, nil
		}
	}
}

// Load opens path and parses it with Parse.
func Load(path string, opts ...Option) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	samples, err := Parse(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}

// Parse reads all rows from r in file order.  The first line is a header and
// is skipped, as are blank lines.  Fields past the fifth are ignored.  Any
// malformed row aborts the parse.
func Parse(r io.Reader, opts ...Option) ([]Sample, error) {
	ld := new(loader)
	for _, opt := range opts {
		opt(ld)
	}

	var samples []Sample
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s, err := ld.parseRow(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return samples, nil
}

var columns = [NumFields]string{"time", "vehicle", "x", "y", "speed"}

func (ld *loader) parseRow(line string) (Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) < NumFields {
		return Sample{}, fmt.Errorf("got %d: %w", len(fields), ErrFieldCount)
	}

	var nums [NumFields]float64
	for idx, field := range fields[:NumFields] {
		if idx == 1 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("column %s: %w", columns[idx], err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Sample{}, fmt.Errorf("column %s: %q: %w", columns[idx], strings.TrimSpace(field), ErrNonFinite)
		}
		nums[idx] = v
	}

	s := Sample{
		Time:  nums[0],
		Token: strings.TrimSpace(fields[1]),
		X:     nums[2],
		Y:     nums[3],
		Speed: nums[4],
	}
	if ld.project != nil {
		x, y, err := ld.project(s.X, s.Y)
		if err != nil {
			return Sample{}, err
		}
		s.X, s.Y = x, y
	}
	return s, nil
}
