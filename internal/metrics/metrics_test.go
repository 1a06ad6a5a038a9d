package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.SetVehicles(6)
	c.PacketSent()
	c.PacketSent()
	c.PacketReceived(-61.8, 0.016, false)
	c.PacketReceived(-90, 0.02, true)
	c.MobilityUpdate()

	assert.Equal(t, 6.0, testutil.ToFloat64(c.Vehicles))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.PacketsSent))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.PacketsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PacketsLost))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MobilityUpdates))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	expected := `
# HELP v2x_packets_lost_total Delivered packets whose signal strength fell below the loss threshold.
# TYPE v2x_packets_lost_total counter
v2x_packets_lost_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "v2x_packets_lost_total"))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.PacketSent()
	c.PacketReceived(0, 0, true)
	c.MobilityUpdate()
	c.SetVehicles(3)
	assert.NoError(t, c.WriteTextfile(filepath.Join(t.TempDir(), "never.prom")))
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	require.NoError(t, err)
	b, err := New(reg)
	require.NoError(t, err)

	a.PacketSent()
	assert.Equal(t, 1.0, testutil.ToFloat64(b.PacketsSent))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	c.PacketSent()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "v2x_packets_sent_total 1")
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	c.MobilityUpdate()

	path := filepath.Join(t.TempDir(), "v2x.prom")
	require.NoError(t, c.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "v2x_mobility_updates_total 1")
}
