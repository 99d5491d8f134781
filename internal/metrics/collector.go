// Package metrics exposes a run to prometheus.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dagucloud/herd/internal/coordinator"
	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/dispatch"
	"github.com/dagucloud/herd/internal/engine"
)

const namespace = "herd"

// Source is the live run the collector reads gauges from.
type Source interface {
	Stage() core.Stage
	IsAborted() bool
	Contexts() []*engine.Context
	Coordinator() *coordinator.Coordinator
	Pools() []*dispatch.Pool
}

var _ engine.Observer = (*Collector)(nil)
var _ prometheus.Collector = (*Collector)(nil)

// Collector counts node activity through the observer hooks and reports
// the state of a run when scraped.
type Collector struct {
	startTime time.Time
	version   string
	source    Source

	commands    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	contexts    *prometheus.CounterVec
	durations   *prometheus.HistogramVec

	// node start times, keyed by context and node
	mu      sync.Mutex
	started map[startKey]time.Time

	infoDesc     *prometheus.Desc
	uptimeDesc   *prometheus.Desc
	stageDesc    *prometheus.Desc
	abortedDesc  *prometheus.Desc
	activeDesc   *prometheus.Desc
	signalDesc   *prometheus.Desc
	waitersDesc  *prometheus.Desc
	poolDesc     *prometheus.Desc
	panicsDesc   *prometheus.Desc
	poolSizeDesc *prometheus.Desc
}

type startKey struct {
	x *engine.Context
	c *engine.Cmd
}

// NewCollector creates a collector. source may be nil, in which case only
// the counters are reported.
func NewCollector(version string, source Source) *Collector {
	c := &Collector{
		startTime: time.Now(),
		version:   version,
		source:    source,
		started:   make(map[startKey]time.Time),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_started_total",
			Help:      "Commands started, by kind",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Node transitions, by direction",
		}, []string{"direction"}),
		contexts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_updates_total",
			Help:      "Context status changes, by status",
		}, []string{"status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from node start to node stop, by kind",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"kind"}),

		infoDesc: prometheus.NewDesc(
			namespace+"_info",
			"Herd build information",
			[]string{"version", "go_version"},
			nil,
		),
		uptimeDesc: prometheus.NewDesc(
			namespace+"_uptime_seconds",
			"Time since the collector was created",
			nil,
			nil,
		),
		stageDesc: prometheus.NewDesc(
			namespace+"_stage",
			"Current stage of the run, 1 for the active stage",
			[]string{"stage"},
			nil,
		),
		abortedDesc: prometheus.NewDesc(
			namespace+"_run_aborted",
			"Whether the run has been aborted",
			nil,
			nil,
		),
		activeDesc: prometheus.NewDesc(
			namespace+"_contexts_active",
			"Contexts running in the current stage, by host",
			[]string{"host"},
			nil,
		),
		signalDesc: prometheus.NewDesc(
			namespace+"_signal_count",
			"Remaining count of each signal",
			[]string{"signal"},
			nil,
		),
		waitersDesc: prometheus.NewDesc(
			namespace+"_signal_waiters",
			"Contexts parked on each signal",
			[]string{"signal"},
			nil,
		),
		poolDesc: prometheus.NewDesc(
			namespace+"_pool_tasks",
			"Tasks in each dispatcher pool, by state",
			[]string{"pool", "state"},
			nil,
		),
		panicsDesc: prometheus.NewDesc(
			namespace+"_pool_panics_total",
			"Recovered panics in each dispatcher pool",
			[]string{"pool"},
			nil,
		),
		poolSizeDesc: prometheus.NewDesc(
			namespace+"_pool_size",
			"Configured size of each dispatcher pool",
			[]string{"pool"},
			nil,
		),
	}
	return c
}

// Attach sets the run reported by Collect. It must be called before the
// collector is registered.
func (c *Collector) Attach(source Source) {
	c.source = source
}

func (c *Collector) PreStart(x *engine.Context, cmd *engine.Cmd) {
	c.commands.WithLabelValues(cmd.Kind()).Inc()
	c.mu.Lock()
	c.started[startKey{x, cmd}] = time.Now()
	c.mu.Unlock()
}

func (c *Collector) PreNext(*engine.Context, *engine.Cmd, *engine.Cmd) {
	c.transitions.WithLabelValues("next").Inc()
}

func (c *Collector) PreSkip(*engine.Context, *engine.Cmd, *engine.Cmd) {
	c.transitions.WithLabelValues("skip").Inc()
}

func (c *Collector) PreStop(x *engine.Context, cmd *engine.Cmd) {
	key := startKey{x, cmd}
	c.mu.Lock()
	at, ok := c.started[key]
	delete(c.started, key)
	c.mu.Unlock()
	if ok {
		c.durations.WithLabelValues(cmd.Kind()).Observe(time.Since(at).Seconds())
	}
}

func (c *Collector) OnUpdate(x *engine.Context, status engine.Status) {
	c.contexts.WithLabelValues(string(status)).Inc()
	if status != engine.StatusDone && status != engine.StatusClosed {
		return
	}
	c.mu.Lock()
	for key := range c.started {
		if key.x == x {
			delete(c.started, key)
		}
	}
	c.mu.Unlock()
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.commands.Describe(ch)
	c.transitions.Describe(ch)
	c.contexts.Describe(ch)
	c.durations.Describe(ch)
	ch <- c.infoDesc
	ch <- c.uptimeDesc
	ch <- c.stageDesc
	ch <- c.abortedDesc
	ch <- c.activeDesc
	ch <- c.signalDesc
	ch <- c.waitersDesc
	ch <- c.poolDesc
	ch <- c.panicsDesc
	ch <- c.poolSizeDesc
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.commands.Collect(ch)
	c.transitions.Collect(ch)
	c.contexts.Collect(ch)
	c.durations.Collect(ch)

	ch <- prometheus.MustNewConstMetric(
		c.infoDesc,
		prometheus.GaugeValue,
		1,
		c.version,
		runtime.Version(),
	)
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc,
		prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)

	if c.source == nil {
		return
	}
	c.collectRun(ch)
	c.collectSignals(ch)
	c.collectPools(ch)
}

func (c *Collector) collectRun(ch chan<- prometheus.Metric) {
	current := c.source.Stage()
	stages := append(append([]core.Stage{}, core.Stages...), core.StageDone)
	for _, stage := range stages {
		v := float64(0)
		if stage == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.stageDesc, prometheus.GaugeValue, v, stage.String())
	}

	aborted := float64(0)
	if c.source.IsAborted() {
		aborted = 1
	}
	ch <- prometheus.MustNewConstMetric(c.abortedDesc, prometheus.GaugeValue, aborted)

	perHost := map[string]float64{}
	for _, x := range c.source.Contexts() {
		perHost[x.Env().Host.Name()]++
	}
	for host, n := range perHost {
		ch <- prometheus.MustNewConstMetric(c.activeDesc, prometheus.GaugeValue, n, host)
	}
}

func (c *Collector) collectSignals(ch chan<- prometheus.Metric) {
	coord := c.source.Coordinator()
	if coord == nil {
		return
	}
	for name, count := range coord.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.signalDesc, prometheus.GaugeValue, float64(count), name)
		ch <- prometheus.MustNewConstMetric(c.waitersDesc, prometheus.GaugeValue, float64(coord.Waiters(name)), name)
	}
}

func (c *Collector) collectPools(ch chan<- prometheus.Metric) {
	for _, p := range c.source.Pools() {
		active, queued := p.Stats()
		ch <- prometheus.MustNewConstMetric(c.poolDesc, prometheus.GaugeValue, float64(active), p.Name(), "active")
		ch <- prometheus.MustNewConstMetric(c.poolDesc, prometheus.GaugeValue, float64(queued), p.Name(), "queued")
		ch <- prometheus.MustNewConstMetric(c.panicsDesc, prometheus.CounterValue, float64(p.Panics()), p.Name())
		ch <- prometheus.MustNewConstMetric(c.poolSizeDesc, prometheus.GaugeValue, float64(p.Size()), p.Name())
	}
}
