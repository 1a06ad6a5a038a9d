package evtrace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInactiveManagerStoresNothing(t *testing.T) {
	tm := CreateTraceManager("off", false)
	AddMobilityTrace(tm, 1, 0, 1, 2, 3)
	require.NoError(t, tm.AddName(0, "a", "vehicle"))
	assert.Equal(t, 0, tm.Len())
	assert.Empty(t, tm.NameByID)

	path := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, tm.WriteToFile(path, false))
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	var nilTM *TraceManager
	AddSendTrace(nilTM, 0.1, 0, 1, 100)
	assert.False(t, nilTM.Active())
}

func TestAddNameRejectsDuplicates(t *testing.T) {
	tm := CreateTraceManager("exp", true)
	require.NoError(t, tm.AddName(0, "a", "vehicle"))
	assert.Error(t, tm.AddName(0, "b", "vehicle"))
}

func TestRecordsAreGroupedByVehicle(t *testing.T) {
	tm := CreateTraceManager("exp", true)
	AddMobilityTrace(tm, 0, 1, 100, 0, 5)
	AddSendTrace(tm, 0.1, 0, 1, 100_000_000)
	AddRecvTrace(tm, 0.100016, 0, 1, 100_000_000, -61.8, false)

	assert.Equal(t, 3, tm.Len())
	require.Len(t, tm.Traces[0], 1)
	require.Len(t, tm.Traces[1], 2)
	assert.Equal(t, "mobility", tm.Traces[1][0].TraceType)
	assert.Equal(t, "packet", tm.Traces[1][1].TraceType)

	var pt PacketTrace
	require.NoError(t, yaml.Unmarshal([]byte(tm.Traces[1][1].TraceStr), &pt))
	assert.Equal(t, "recv", pt.Op)
	assert.Equal(t, -61.8, pt.RSSI)
}

func TestWriteGlobalOrder(t *testing.T) {
	tm := CreateTraceManager("exp", true)
	AddMobilityTrace(tm, 0.2, 1, 0, 0, 0)
	AddMobilityTrace(tm, 0.1, 0, 0, 0, 0)
	AddMobilityTrace(tm, 0.1, 1, 0, 0, 0)

	path := filepath.Join(t.TempDir(), "trace.json")
	require.NoError(t, tm.WriteToFile(path, true))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var back TraceManager
	require.NoError(t, json.Unmarshal(raw, &back))

	require.Len(t, back.Traces, 1)
	got := back.Traces[0]
	require.Len(t, got, 3)
	assert.Equal(t, []string{"0.1", "0.1", "0.2"}, []string{got[0].TraceTime, got[1].TraceTime, got[2].TraceTime})

	var first MobilityTrace
	require.NoError(t, yaml.Unmarshal([]byte(got[0].TraceStr), &first))
	assert.Equal(t, 0, first.Vehicle)
}

func TestWriteYAMLAndBadExtension(t *testing.T) {
	tm := CreateTraceManager("exp", true)
	AddSendTrace(tm, 0.1, 0, 1, 1)

	dir := t.TempDir()
	require.NoError(t, tm.WriteToFile(filepath.Join(dir, "trace.yml"), false))

	raw, err := os.ReadFile(filepath.Join(dir, "trace.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "expname: exp")

	assert.Error(t, tm.WriteToFile(filepath.Join(dir, "trace.txt"), false))
}
