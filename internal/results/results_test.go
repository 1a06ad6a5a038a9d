package results

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iti/v2xsim/internal/link"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleObs = link.Observation{
	Time:          0.5,
	Sender:        0,
	Receiver:      1,
	Distance:      100,
	SpeedSender:   0,
	SpeedReceiver: 13.5,
	PacketSize:    12,
	RSSI:          -61.8,
	DelayMs:       0.016,
	Lost:          false,
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
}

func TestCSVHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	cl, err := NewCSVLogger(path)
	require.NoError(t, err)

	require.NoError(t, cl.Record(sampleObs))
	lost := sampleObs
	lost.Sender, lost.Receiver = 1, 0
	lost.RSSI = -100
	lost.Lost = true
	require.NoError(t, cl.Record(lost))
	require.NoError(t, cl.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.Equal(t, "Time,SenderID,ReceiverID,Distance,SpeedSender,SpeedReceiver,PacketSize,RSSI,Delay,PacketLoss", lines[0])
	assert.Equal(t, "0.5,0,1,100,0,13.5,12,-61.8,0.016,0", lines[1])
	assert.Equal(t, "0.5,1,0,100,0,13.5,12,-100,0.016,1", lines[2])
	assert.Equal(t, 2, cl.Rows())
}

func TestCSVIsRecreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale\nrows\n"), 0o644))

	_, err := NewCSVLogger(path)
	require.NoError(t, err)
	assert.Equal(t, []string{strings.Join(Header, ",")}, readLines(t, path))
}

func TestCSVRowIsVisibleImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	cl, err := NewCSVLogger(path)
	require.NoError(t, err)
	require.NoError(t, cl.Record(sampleObs))

	// no Close yet
	assert.Len(t, readLines(t, path), 2)
}

func TestCSVBadPath(t *testing.T) {
	_, err := NewCSVLogger(filepath.Join(t.TempDir(), "missing", "out.csv"))
	assert.Error(t, err)
}

func TestFormatRowAvoidsExponents(t *testing.T) {
	obs := sampleObs
	obs.Distance = 1e6
	obs.DelayMs = 0.00001
	row := FormatRow(obs)
	assert.Equal(t, "1000000", row[3])
	assert.Equal(t, "0.00001", row[8])
}

func TestSQLiteSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.db")
	ss, err := OpenSQLite(path)
	require.NoError(t, err)

	for idx := 0; idx < 5; idx++ {
		obs := sampleObs
		obs.Time = float64(idx) / 10
		obs.Lost = idx%2 == 0
		require.NoError(t, ss.Record(obs))
	}
	n, err := ss.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	var lost int64
	require.NoError(t, ss.DB().Model(&LinkRecord{}).Where("packet_loss = ?", true).Count(&lost).Error)
	assert.Equal(t, int64(3), lost)

	var first LinkRecord
	require.NoError(t, ss.DB().Order("time").First(&first).Error)
	assert.Equal(t, -61.8, first.RSSI)
	assert.Equal(t, int32(1), first.ReceiverID)
	require.NoError(t, ss.Close())

	// reopening starts a clean run
	again, err := OpenSQLite(path)
	require.NoError(t, err)
	n, err = again.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	require.NoError(t, again.Close())
}

func TestInfluxPoint(t *testing.T) {
	is, err := NewInfluxSink(InfluxConfig{LineFile: filepath.Join(t.TempDir(), "links.lp")}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, is.Record(sampleObs))
	require.NoError(t, is.Close())

	lines := readLines(t, is.cfg.LineFile)
	require.Len(t, lines, 1)
	assert.Equal(t,
		"v2x_link,receiver=1,sender=0 distance=100,speed_sender=0,speed_receiver=13.5,packet_size=12i,rssi=-61.8,delay_ms=0.016,lost=false 500000000",
		lines[0])
}

func TestInfluxPointEpoch(t *testing.T) {
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Point(sampleObs, epoch)
	assert.Equal(t, epoch.Add(500*time.Millisecond), p.Time())
}

func TestInfluxNeedsDestination(t *testing.T) {
	_, err := NewInfluxSink(InfluxConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

type memSink struct {
	got    []link.Observation
	err    error
	closed bool
}

func (ms *memSink) Record(obs link.Observation) error {
	if ms.err != nil {
		return ms.err
	}
	ms.got = append(ms.got, obs)
	return nil
}

func (ms *memSink) Close() error {
	ms.closed = true
	return ms.err
}

func TestFanout(t *testing.T) {
	a, b := &memSink{}, &memSink{}
	m := Fanout(a, nil, b)
	require.Equal(t, 2, m.Len())

	require.NoError(t, m.Record(sampleObs))
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)

	boom := errors.New("disk full")
	c := &memSink{err: boom}
	m.Add(c)
	assert.ErrorIs(t, m.Record(sampleObs), boom)

	assert.ErrorIs(t, m.Close(), boom)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.True(t, c.closed)
}
