package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	return Load(pflag.NewFlagSet("test", pflag.ContinueOnError), args)
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)

	assert.Equal(t, "fcd_data_one.csv", cfg.Trace.Path)
	assert.Equal(t, "6_platoon_nsm_output.csv", cfg.Output.CSV)
	assert.Equal(t, 100.0, cfg.Sim.Duration)
	assert.Equal(t, 0.1, cfg.Sim.SendPeriod)
	assert.Equal(t, 12, cfg.Packet.Size)
	assert.Equal(t, 8000, cfg.Packet.BasePort)
	assert.Equal(t, -85.0, cfg.Link.LossThresholdDbm)
	assert.Equal(t, 6.0, cfg.Channel.BitrateMbps)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := load(t, "--input-csv", "trace.csv", "--duration", "5", "--packet-size", "64",
		"-o", "links.csv", "--summary", "sum.yaml", "--tracing", "--log-level", "debug")
	require.NoError(t, err)
	assert.Equal(t, "trace.csv", cfg.Trace.Path)
	assert.Equal(t, 5.0, cfg.Sim.Duration)
	assert.Equal(t, 64, cfg.Packet.Size)
	assert.Equal(t, "links.csv", cfg.Output.CSV)
	assert.Equal(t, "sum.yaml", cfg.Output.Summary)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_WithConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "run.yaml")
	body := `
sim:
  duration: 20
  send_period: 0.5
link:
  loss_threshold_dbm: -80
output:
  influx:
    bucket: platoon
`
	require.NoError(t, os.WriteFile(file, []byte(body), 0o644))

	cfg, err := load(t, "--config", file, "--duration", "7")
	require.NoError(t, err)
	assert.Equal(t, 7.0, cfg.Sim.Duration, "flags beat the file")
	assert.Equal(t, 0.5, cfg.Sim.SendPeriod)
	assert.Equal(t, -80.0, cfg.Link.LossThresholdDbm)
	assert.Equal(t, 20.0, cfg.Link.TxPowerDbm)
	assert.Equal(t, "platoon", cfg.Output.Influx.Bucket)
	assert.Equal(t, "v2x", cfg.Output.Influx.Org)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("V2XSIM_PACKET_SIZE", "100")
	t.Setenv("V2XSIM_CHANNEL_JITTER_US", "20")
	t.Setenv("V2XSIM_SIM_DURATION", "3")

	cfg, err := load(t, "--duration", "4")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Packet.Size)
	assert.Equal(t, 20.0, cfg.Channel.JitterUs)
	assert.Equal(t, 4.0, cfg.Sim.Duration, "flags beat the environment")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short packet", []string{"--packet-size", "8"}, "packet.size"},
		{"zero duration", []string{"--duration", "0"}, "sim.duration"},
		{"coordinates", []string{"--coordinates", "polar"}, "trace.coordinates"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(t, tc.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateCollectsEverything(t *testing.T) {
	cfg := Default()
	cfg.Sim.Duration = -1
	cfg.Packet.BasePort = 70000
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sim.duration")
	assert.Contains(t, err.Error(), "packet.base_port")
}

func TestOutputs(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"6_platoon_nsm_output.csv"}, cfg.Outputs())
	cfg.Output.Summary = "s.json"
	cfg.Metrics.Textfile = "m.prom"
	assert.Equal(t, []string{"6_platoon_nsm_output.csv", "s.json", "m.prom"}, cfg.Outputs())
}

func TestCheckFiles(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "trace.csv")
	require.NoError(t, os.WriteFile(present, []byte("h\n"), 0o644))

	ok, err := CheckReadableFiles([]string{present, ""})
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, err = CheckReadableFiles([]string{filepath.Join(dir, "absent.csv")})
	assert.False(t, ok)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	ok, err = CheckOutputFiles([]string{filepath.Join(dir, "new.csv"), "bare.csv"})
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, err = CheckOutputFiles([]string{filepath.Join(dir, "nodir", "x.csv"), filepath.Join(present, "x.csv")})
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	var pathErr *fs.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Contains(t, err.Error(), "not a directory")
	assert.Contains(t, err.Error(), "nodir")
}

func TestReportErrs(t *testing.T) {
	assert.NoError(t, ReportErrs(nil))
	assert.NoError(t, ReportErrs([]error{nil}))
	assert.EqualError(t, ReportErrs([]error{os.ErrNotExist, nil, os.ErrPermission}),
		"file does not exist,permission denied")
}

func TestRunDescFile(t *testing.T) {
	cfg := Default()
	cfg.Output.Influx.Token = "secret"
	rd := RunDesc{Name: "platoon", Vehicles: 6, Samples: 600, Observations: 30000, SimTime: 100, Config: cfg}
	dir := t.TempDir()

	yamlFile := filepath.Join(dir, "run.yaml")
	require.NoError(t, rd.WriteToFile(yamlFile))
	raw, err := os.ReadFile(yamlFile)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	back, err := ReadRunDesc(yamlFile, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, back.Vehicles)
	assert.Equal(t, cfg.Link, back.Config.Link)
	assert.Empty(t, back.Config.Output.Influx.Token)

	jsonFile := filepath.Join(dir, "run.json")
	require.NoError(t, rd.WriteToFile(jsonFile))
	back, err = ReadRunDesc(jsonFile, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "platoon", back.Name)

	assert.Error(t, rd.WriteToFile(filepath.Join(dir, "run.txt")))
	_, err = ReadRunDesc(filepath.Join(dir, "absent.yaml"), true, nil)
	assert.Error(t, err)
}
