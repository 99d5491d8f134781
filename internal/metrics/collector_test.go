package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/herd/internal/coordinator"
	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/dispatch"
	"github.com/dagucloud/herd/internal/engine"
)

type fakeSource struct {
	stage   core.Stage
	aborted bool
	coord   *coordinator.Coordinator
	pools   []*dispatch.Pool
}

func (f *fakeSource) Stage() core.Stage                     { return f.stage }
func (f *fakeSource) IsAborted() bool                       { return f.aborted }
func (f *fakeSource) Contexts() []*engine.Context           { return nil }
func (f *fakeSource) Coordinator() *coordinator.Coordinator { return f.coord }
func (f *fakeSource) Pools() []*dispatch.Pool               { return f.pools }

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestCollector_ObserverCounters(t *testing.T) {
	c := NewCollector("1.0.0", nil)
	sh := engine.MustBuild(engine.KindShell, "true")
	echo := engine.MustBuild(engine.KindEcho, "hi")

	c.PreStart(nil, sh)
	c.PreNext(nil, sh, echo)
	c.PreStop(nil, sh)
	c.PreStart(nil, echo)
	c.PreSkip(nil, echo, nil)
	c.OnUpdate(nil, engine.StatusRunning)
	c.OnUpdate(nil, engine.StatusDone)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.commands.WithLabelValues("sh")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.commands.WithLabelValues("echo")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.transitions.WithLabelValues("next")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.transitions.WithLabelValues("skip")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.contexts.WithLabelValues("done")))

	// the unfinished echo start is dropped when its context finishes
	c.mu.Lock()
	assert.Empty(t, c.started)
	c.mu.Unlock()

	families := gather(t, c)
	require.Contains(t, families, "herd_command_duration_seconds")
	hist := families["herd_command_duration_seconds"].GetMetric()
	require.Len(t, hist, 1)
	assert.Equal(t, "sh", labelValue(hist[0], "kind"))
	assert.Equal(t, uint64(1), hist[0].GetHistogram().GetSampleCount())
}

func TestCollector_WithoutSource(t *testing.T) {
	families := gather(t, NewCollector("1.0.0", nil))

	require.Contains(t, families, "herd_info")
	info := families["herd_info"].GetMetric()[0]
	assert.Equal(t, "1.0.0", labelValue(info, "version"))
	assert.Contains(t, families, "herd_uptime_seconds")
	assert.NotContains(t, families, "herd_stage")
}

func TestCollector_RunState(t *testing.T) {
	ctx := context.Background()
	coord := coordinator.New()
	coord.Init(ctx, "ready", 2, false)

	d := dispatch.New(ctx, dispatch.Config{Workers: 3, Timers: 1, Callbacks: 2})
	t.Cleanup(func() { _ = d.Shutdown(ctx, 0) })

	src := &fakeSource{stage: core.StageRun, aborted: true, coord: coord, pools: d.Pools()}
	families := gather(t, NewCollector("dev", src))

	t.Run("Stage", func(t *testing.T) {
		require.Contains(t, families, "herd_stage")
		active := map[string]float64{}
		for _, m := range families["herd_stage"].GetMetric() {
			active[labelValue(m, "stage")] = m.GetGauge().GetValue()
		}
		assert.Len(t, active, 5)
		assert.Equal(t, float64(1), active["run"])
		assert.Equal(t, float64(0), active["setup"])
	})

	t.Run("Aborted", func(t *testing.T) {
		require.Contains(t, families, "herd_run_aborted")
		assert.Equal(t, float64(1), families["herd_run_aborted"].GetMetric()[0].GetGauge().GetValue())
	})

	t.Run("Signals", func(t *testing.T) {
		require.Contains(t, families, "herd_signal_count")
		m := families["herd_signal_count"].GetMetric()
		require.Len(t, m, 1)
		assert.Equal(t, "ready", labelValue(m[0], "signal"))
		assert.Equal(t, float64(2), m[0].GetGauge().GetValue())
	})

	t.Run("Pools", func(t *testing.T) {
		require.Contains(t, families, "herd_pool_size")
		sizes := map[string]float64{}
		for _, m := range families["herd_pool_size"].GetMetric() {
			sizes[labelValue(m, "pool")] = m.GetGauge().GetValue()
		}
		assert.Equal(t, map[string]float64{
			dispatch.PoolWorkers:   3,
			dispatch.PoolTimers:    1,
			dispatch.PoolCallbacks: 2,
		}, sizes)
		assert.Len(t, families["herd_pool_tasks"].GetMetric(), 6)
	})
}

func TestCollector_Attach(t *testing.T) {
	c := NewCollector("dev", nil)
	c.Attach(&fakeSource{stage: core.StageSetup, coord: coordinator.New()})

	families := gather(t, c)
	require.Contains(t, families, "herd_stage")
	assert.Contains(t, families, "herd_run_aborted")
	assert.NotContains(t, families, "herd_signal_count")
}
