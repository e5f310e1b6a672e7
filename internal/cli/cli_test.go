package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isoflow/internal/config"
	"isoflow/internal/controller"
	"isoflow/internal/dummy"
	"isoflow/internal/flow"
	"isoflow/internal/render"
	"isoflow/internal/runner"
	"isoflow/internal/storage"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	v := viper.New()
	v.Set("server", "dut")
	v.Set("dst", "192.168.1.10")
	v.Set("time", 1)
	v.Set("title", "bench")
	v.Set("output_directory", filepath.Join(t.TempDir(), "data"))
	v.Set("deadline_grace", "0s")
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func TestStartEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	res, err := Start(context.Background(), cfg, Deps{
		Launcher: &dummy.Launcher{TimeScale: 0.3},
		Renderer: render.NewDataRenderer(),
		Store:    store,
		Out:      &out,
	})
	require.NoError(t, err)
	assert.True(t, res.OK())

	assert.Contains(t, out.String(), "Running isochronous traffic client=localhost server=dut dest=192.168.1.10 with load 60:18M,0 for 1 seconds")
	assert.NotContains(t, out.String(), "Running stress")
	assert.Contains(t, out.String(), "Finished.  Results written to directory "+cfg.OutputDirectory)
	assert.FileExists(t, filepath.Join(cfg.OutputDirectory, "ISOCH_T8.csv"))
	assert.FileExists(t, filepath.Join(cfg.OutputDirectory, "ISOCH_T8.json"))

	got, err := store.Get(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "bench", got.Title)
	assert.True(t, got.OK())
}

func TestStartWithFailingStress(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stress.Server = "dut2"
	cfg.Stress.Client = "localhost"
	cfg.Stress.Dst = "192.168.1.11"

	var out bytes.Buffer
	res, err := Start(context.Background(), cfg, Deps{
		Launcher: &dummy.Launcher{TimeScale: 0.3, Behaviors: map[string]dummy.Behavior{"STRESS": dummy.FailLaunch}},
		Renderer: render.NewDataRenderer(),
		Out:      &out,
	})
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Contains(t, out.String(), "Running stress TCP traffic")
	assert.Contains(t, out.String(), "FAILURE SUMMARY")
	assert.NoFileExists(t, filepath.Join(cfg.OutputDirectory, "STRESS_latency.csv"))
	assert.FileExists(t, filepath.Join(cfg.OutputDirectory, "ISOCH_T8.csv"))
}

func TestStartConfigErrorLaunchesNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.OfferedLoad = "sixty:18M"
	l := &dummy.Launcher{}

	_, err := Start(context.Background(), cfg, Deps{Launcher: l, Out: &bytes.Buffer{}})
	assert.ErrorIs(t, err, flow.ErrInvalidFlowConfig)
	assert.Empty(t, l.Launched())
}

func TestProgressLine(t *testing.T) {
	line := progressLine(5*time.Second, 10*time.Second, controller.Draining, map[string]runner.Update{
		"STRESS": {Flow: "STRESS", State: runner.Running, Reports: 3},
		"ISOCH":  {Flow: "ISOCH", State: runner.Completed, Reports: 5, P99LatencyMs: 1.5},
	})
	assert.Contains(t, line, " 50% | 5s/10s | Draining")
	assert.Contains(t, line, "ISOCH Completed rpt:5 p99:1.50ms | STRESS Running rpt:3")
	assert.Equal(t, "[██████████----------]", progressBar(0.5, 20))
	assert.Equal(t, "[--]", progressBar(-1, 2))
}
