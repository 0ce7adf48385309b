package eval

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ukf-tracker/binlog"
	"ukf-tracker/fusion"
	"ukf-tracker/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestRMSE(t *testing.T) {
	t.Parallel()
	est := [][]float64{{1, 1, 0.2, 0.1}, {2, 2, 0.3, 0.2}, {3, 3, 0.4, 0.3}}
	truth := [][]float64{{1.1, 1.1, 0.3, 0.2}, {2.1, 2.1, 0.4, 0.3}, {3.1, 3.1, 0.5, 0.4}}
	got, err := RMSE(est, truth)
	require.NoError(t, err)
	if diff := cmp.Diff([]float64{0.1, 0.1, 0.1, 0.1}, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("RMSE mismatch (-want +got):\n%s", diff)
	}

	_, err = RMSE(nil, nil)
	assert.ErrorIs(t, err, ErrNoSamples)
	_, err = RMSE(est, truth[:2])
	assert.ErrorIs(t, err, ErrLengthMismatch)
	_, err = RMSE([][]float64{{1, 2}}, [][]float64{{1}})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func tunedConfig() fusion.Config {
	cfg := fusion.DefaultConfig()
	cfg.StdAccel = 0.5
	cfg.StdYawAccel = 0.3
	return cfg
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	sc := DefaultScenario()
	sc.Steps = 40
	cfg := fusion.DefaultConfig()

	a := Generate(sc, cfg)
	b := Generate(sc, cfg)
	require.Len(t, a, 40)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed differs (-a +b):\n%s", diff)
	}

	for i, e := range a {
		assert.Equal(t, sc.StartUs+int64(i)*sc.DtUs, e.Measurement.Timestamp())
		want := sc.Sensors[i%len(sc.Sensors)]
		assert.Equal(t, want, e.Measurement.Sensor())
		require.NotNil(t, e.Truth)
		assert.True(t, e.Truth.HasYaw)
	}
	assert.Equal(t, sc.Start[fusion.IdxX], a[0].Truth.X)
	assert.InDelta(t, sc.Start[fusion.IdxSpeed], a[0].Truth.Vx, 1e-12)

	sc.Seed = 2
	c := Generate(sc, cfg)
	assert.NotEqual(t, a[5].Truth.X, c[5].Truth.X)
}

func TestGenerate_NoiselessTruthFollowsCTRV(t *testing.T) {
	t.Parallel()
	sc := Scenario{
		Start:   [fusion.StateDim]float64{0, 0, 2, 0, 0},
		DtUs:    100000,
		Steps:   11,
		Sensors: []fusion.SensorKind{fusion.SensorPosition},
	}
	entries := Generate(sc, fusion.DefaultConfig())
	last := entries[len(entries)-1].Truth
	assert.InDelta(t, 2.0, last.X, 1e-9)
	assert.InDelta(t, 0.0, last.Y, 1e-9)
}

func runScenario(t *testing.T) *Report {
	t.Helper()
	cfg := tunedConfig()
	rep, err := Run(Generate(DefaultScenario(), cfg), cfg, fusion.DefaultPipelineConfig())
	require.NoError(t, err)
	return rep
}

func TestRun_Scenario(t *testing.T) {
	t.Parallel()
	rep := runScenario(t)

	assert.Equal(t, 1, rep.Stats.Initialized)
	assert.Equal(t, DefaultScenario().Steps-1, rep.Stats.Updated)
	assert.Zero(t, rep.Stats.Resets)

	require.Len(t, rep.RMSE, 4)
	assert.Less(t, rep.RMSE[0], 0.3)
	assert.Less(t, rep.RMSE[1], 0.3)
	assert.Less(t, rep.RMSE[2], 1.0)
	assert.Less(t, rep.RMSE[3], 1.0)

	require.Len(t, rep.NIS, 2)
	assert.Equal(t, "position", rep.NIS[0].Sensor)
	assert.InDelta(t, 2.0, rep.NIS[0].Mean, 1.5)
	assert.Equal(t, "range_bearing", rep.NIS[1].Sensor)
	assert.InDelta(t, 3.0, rep.NIS[1].Mean, 2.0)
}

func TestRunMeasurements_NoTruth(t *testing.T) {
	t.Parallel()
	cfg := fusion.DefaultConfig()
	cfg.RangeBearing.Enabled = false
	rep, err := RunMeasurements([]fusion.Measurement{
		fusion.PositionMeasurement{TimestampUs: 0, X: 1, Y: 1},
		fusion.RangeBearingMeasurement{TimestampUs: 50000, Range: 1, Bearing: 0.1},
		fusion.PositionMeasurement{TimestampUs: 100000, X: 1.1, Y: 1},
	}, cfg, fusion.DefaultPipelineConfig())
	require.NoError(t, err)
	assert.Nil(t, rep.RMSE)
	assert.Equal(t, 1, rep.Stats.Ignored)
	require.Len(t, rep.NIS, 1)
	assert.Equal(t, 1, rep.NIS[0].Count)
}

func TestReport_WriteCSV(t *testing.T) {
	t.Parallel()
	cfg := tunedConfig()
	sc := DefaultScenario()
	sc.Steps = 10
	rep, err := Run(Generate(sc, cfg), cfg, fusion.DefaultPipelineConfig())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, rep.WriteCSV(&buf))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 11)
	assert.Equal(t, "ts_us", rows[0][0])
	assert.Equal(t, "", rows[1][10], "no NIS on the seeding row")
	assert.NotEmpty(t, rows[2][10])
	assert.NotEmpty(t, rows[2][11])
}

func TestPlots(t *testing.T) {
	t.Parallel()
	rep := runScenario(t)
	dir := t.TempDir()

	traj := filepath.Join(dir, "traj.png")
	require.NoError(t, SaveTrajectoryPNG(traj, rep))
	st, err := os.Stat(traj)
	require.NoError(t, err)
	assert.Positive(t, st.Size())

	nis := filepath.Join(dir, "nis.png")
	require.NoError(t, SaveNISPNG(nis, rep.Logs[0]))
	st, err = os.Stat(nis)
	require.NoError(t, err)
	assert.Positive(t, st.Size())

	_, err = NewNISPlot(fusion.NewNISLog(fusion.SensorPosition))
	assert.NoError(t, err)
}

func TestWriteNISChart(t *testing.T) {
	t.Parallel()
	rep := runScenario(t)
	var buf bytes.Buffer
	require.NoError(t, WriteNISChart(&buf, "Scenario NIS", append(rep.Logs, nil)...))
	html := buf.String()
	assert.Contains(t, html, "Scenario NIS")
	assert.Contains(t, html, "NIS position")
	assert.Contains(t, html, "NIS range_bearing")
	assert.True(t, strings.Contains(html, "echarts"))
}

func TestMeasurementXY(t *testing.T) {
	t.Parallel()
	x, y := measurementXY(fusion.RangeBearingMeasurement{Range: 2, Bearing: 0})
	assert.InDelta(t, 2.0, x, 1e-12)
	assert.InDelta(t, 0.0, y, 1e-12)
	x, y = measurementXY(binlog.Entry{}.Measurement)
	assert.Zero(t, x)
	assert.Zero(t, y)
}
