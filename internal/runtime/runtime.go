// Package runtime assembles a scenario into a simulation, runs it and
// exports the results.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pingsantohq/pingmesh/internal/config"
	"github.com/pingsantohq/pingmesh/internal/metrics"
	"github.com/pingsantohq/pingmesh/internal/netsim"
	"github.com/pingsantohq/pingmesh/internal/pairs"
	"github.com/pingsantohq/pingmesh/internal/report"
	"github.com/pingsantohq/pingmesh/internal/scheduler"
	"github.com/pingsantohq/pingmesh/internal/sim"
	"github.com/pingsantohq/pingmesh/internal/store"
	"github.com/pingsantohq/pingmesh/internal/telemetry"
)

// ScenarioFile is the resolved configuration saved next to the reports.
const ScenarioFile = "scenario.yaml"

// ctxPollNs is how often, in simulated time, a run checks for cancellation.
const ctxPollNs = 10_000_000

// Dependencies holds optional collaborators. Zero values fall back to no-ops.
type Dependencies struct {
	Logger  *zap.SugaredLogger
	Metrics *metrics.Store
	Store   store.Store
	Now     func() time.Time
	NewID   func() string
}

// Result describes a completed run.
type Result struct {
	RunID     string
	OutputDir string
	Manifest  report.Manifest
	Summary   store.RunSummary
}

// Runtime owns one simulation from setup to export. It is single use.
type Runtime struct {
	cfg    config.Config
	deps   Dependencies
	runID  string
	kernel *sim.Kernel
	net    *netsim.Network
	sched  *scheduler.Scheduler
	queues *telemetry.QueueTracker
	util   *telemetry.UtilizationTracker
	spool  string
	used   bool

	probes metrics.ProbeRecorder
	links  metrics.LinkRecorder
	runs   metrics.RunRecorder
}

// New builds the topology, the pair set, the probe scheduler and the
// telemetry trackers. Configuration errors surface here, before any
// simulated time passes.
func New(cfg config.Config, deps Dependencies) (*Runtime, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	r := &Runtime{
		cfg:    cfg,
		deps:   deps,
		runID:  deps.NewID(),
		kernel: sim.NewKernel(),
		probes: metrics.NoopProbeRecorder{},
		links:  metrics.NoopLinkRecorder{},
		runs:   metrics.NoopRunRecorder{},
	}
	if deps.Metrics != nil {
		r.probes = deps.Metrics.ProbeRecorder()
		r.links = deps.Metrics.LinkRecorder()
		r.runs = deps.Metrics.RunRecorder()
	}

	topo, err := buildTopology(cfg.Topology)
	if err != nil {
		return nil, err
	}
	r.net = netsim.NewNetwork(r.kernel, topo)

	if err := r.setupPingmesh(topo); err != nil {
		return nil, err
	}
	if err := r.setupTelemetry(topo); err != nil {
		return nil, err
	}
	return r, nil
}

func buildTopology(tc config.TopologyConfig) (*netsim.Topology, error) {
	specs := make([]netsim.LinkSpec, 0, len(tc.Links))
	for _, l := range tc.Links {
		specs = append(specs, netsim.LinkSpec{
			A:            l.A,
			B:            l.B,
			DelayNs:      l.Delay.Nanoseconds(),
			RateBps:      l.RateBps(),
			QueuePackets: l.QueuePackets,
		})
	}
	var endpoints []int
	if len(tc.Endpoints) > 0 {
		endpoints = tc.Endpoints
	}
	topo, err := netsim.NewTopology(tc.Nodes, endpoints, specs)
	if err != nil {
		return nil, fmt.Errorf("build topology: %w", err)
	}
	return topo, nil
}

func (r *Runtime) setupPingmesh(topo *netsim.Topology) error {
	pc := r.cfg.Pingmesh
	if !pc.Enabled {
		return nil
	}
	shard := pairs.Shard{Index: pc.Shard.Index, Count: pc.Shard.Count}
	set, err := pairs.Build(pc.Pairs.PairSpec(), topo.Endpoints(), topo, shard)
	if err != nil {
		return fmt.Errorf("build pair set: %w", err)
	}
	if len(set) == 0 {
		r.deps.Logger.Warnw("pingmesh enabled with an empty pair set")
	}
	r.sched, err = scheduler.New(r.kernel, r.net, set, scheduler.Config{
		IntervalNs:   pc.IntervalNs(),
		PayloadBytes: pc.PayloadBytes,
		NumEndpoints: len(topo.Endpoints()),
	}, scheduler.Dependencies{Logger: r.deps.Logger, Recorder: r.probes})
	if err != nil {
		return fmt.Errorf("create probe scheduler: %w", err)
	}
	return nil
}

func (r *Runtime) setupTelemetry(topo *netsim.Topology) (err error) {
	tc := r.cfg.Telemetry
	opts := []telemetry.Option{telemetry.WithLinkRecorder(r.links)}
	if tc.SpoolDir != "" {
		r.spool = filepath.Join(tc.SpoolDir, r.runID)
		opts = append(opts, telemetry.WithSpoolDir(r.spool))
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, r.closeTrackers())
		}
	}()

	if tc.Queue.Enabled {
		links, err := tc.Queue.Links.Links().Resolve(topo)
		if err != nil {
			return fmt.Errorf("queue telemetry links: %w", err)
		}
		if r.queues, err = telemetry.NewQueueTracker(r.kernel, r.net, links, opts...); err != nil {
			return fmt.Errorf("create queue tracker: %w", err)
		}
	}
	if tc.Utilization.Enabled {
		links, err := tc.Utilization.Links.Links().Resolve(topo)
		if err != nil {
			return fmt.Errorf("utilization telemetry links: %w", err)
		}
		if r.util, err = telemetry.NewUtilizationTracker(r.kernel, r.net, links, tc.Utilization.IntervalNs(), opts...); err != nil {
			return fmt.Errorf("create utilization tracker: %w", err)
		}
	}
	return nil
}

// RunID identifies the run in reports, the store and bundle names.
func (r *Runtime) RunID() string { return r.runID }

// Run advances the simulation to the configured duration, tears the agents
// down, seals the telemetry and writes every report. Nothing is written when
// the simulation aborts.
func (r *Runtime) Run(ctx context.Context) (Result, error) {
	if r.used {
		return Result{}, errors.New("runtime already ran")
	}
	r.used = true

	started := r.deps.Now()
	duration := r.cfg.Run.DurationNs()
	log := r.deps.Logger.With("run_id", r.runID)
	log.Infow("run starting", "duration", r.cfg.Run.Duration, "output_dir", r.cfg.Run.OutputDir)

	res, err := r.run(ctx, duration, started, log)
	status := "ok"
	if err != nil {
		status = "failed"
		log.Errorw("run failed", "error", err)
	}
	r.runs.ObserveRun(status, duration, r.deps.Now().Sub(started).Seconds())
	return res, err
}

func (r *Runtime) run(ctx context.Context, duration int64, started time.Time, log *zap.SugaredLogger) (res Result, err error) {
	defer func() {
		if err != nil {
			err = multierr.Append(err, r.closeTrackers())
		}
	}()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if r.sched != nil {
		if err := r.sched.Start(); err != nil {
			return Result{}, fmt.Errorf("start probe scheduler: %w", err)
		}
	}
	if r.util != nil {
		r.util.Start()
	}
	r.watch(ctx)

	if err := r.kernel.Run(duration); err != nil {
		return Result{}, fmt.Errorf("simulate run %q: %w", r.runID, err)
	}
	if r.sched != nil {
		if err := r.sched.Teardown(); err != nil {
			return Result{}, fmt.Errorf("tear down probe agents: %w", err)
		}
	}

	in := report.Input{
		RunID:         r.runID,
		DurationNs:    duration,
		RoundDecimals: r.cfg.Telemetry.Utilization.Decimals(),
	}
	if r.queues != nil {
		if in.Queues, err = r.queues.Finalize(duration); err != nil {
			return Result{}, err
		}
		r.runs.ObserveSpoolBytes(r.queues.SpoolBytes())
	}
	if r.util != nil {
		if in.Utilization, err = r.util.Finalize(duration); err != nil {
			return Result{}, err
		}
	}
	if r.sched != nil {
		for _, p := range r.sched.Pairs() {
			records, _ := r.sched.Records(p)
			in.Pairs = append(in.Pairs, report.NewPairResult(p, records))
		}
	}

	outDir := r.cfg.Run.OutputDir
	manifest, err := report.Write(ctx, outDir, in)
	if err != nil {
		return Result{}, fmt.Errorf("write reports: %w", err)
	}
	if err := config.WriteResolved(filepath.Join(outDir, ScenarioFile), r.cfg); err != nil {
		return Result{}, err
	}
	if r.spool != "" {
		if err := os.RemoveAll(r.spool); err != nil {
			log.Warnw("remove spool dir failed", "dir", r.spool, "error", err)
		}
	}

	summary := summarize(r.runID, in, started, r.deps.Now())
	summary.OutputDir = outDir
	summary.Scenario = filepath.Join(outDir, ScenarioFile)
	if r.deps.Store != nil {
		if err := r.deps.Store.SaveRun(ctx, summary); err != nil {
			return Result{}, fmt.Errorf("save run %q: %w", r.runID, err)
		}
	}
	log.Infow("run complete", "pairs", manifest.Pairs, "links", manifest.Links, "files", len(manifest.Files))
	return Result{RunID: r.runID, OutputDir: outDir, Manifest: manifest, Summary: summary}, nil
}

// watch polls ctx on the simulated clock so a cancelled context aborts the
// kernel between events.
func (r *Runtime) watch(ctx context.Context) {
	if ctx.Done() == nil {
		return
	}
	var poll func()
	poll = func() {
		if err := ctx.Err(); err != nil {
			panic(err)
		}
		r.kernel.ScheduleAfter(ctxPollNs, poll)
	}
	r.kernel.ScheduleAfter(ctxPollNs, poll)
}

func (r *Runtime) closeTrackers() error {
	var err error
	if r.queues != nil {
		err = multierr.Append(err, r.queues.Close())
	}
	if r.util != nil {
		err = multierr.Append(err, r.util.Close())
	}
	return err
}

func summarize(runID string, in report.Input, started, finished time.Time) store.RunSummary {
	out := store.RunSummary{
		RunID:      runID,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		DurationNs: in.DurationNs,
	}
	for _, p := range in.Pairs {
		out.Pairs = append(out.Pairs, store.PairStats{From: p.Pair.From, To: p.Pair.To, Summary: p.Summary})
	}

	dropped := make(map[[2]int]int64, len(in.Queues))
	for _, q := range in.Queues {
		dropped[[2]int{q.Link.From, q.Link.To}] = q.Dropped
	}
	for _, u := range report.SummarizeUtilization(in.Utilization, in.DurationNs) {
		out.Links = append(out.Links, store.LinkStats{
			From:        u.From,
			To:          u.To,
			BusyNs:      u.BusyNs,
			Utilization: u.Fraction,
			Dropped:     dropped[[2]int{u.From, u.To}],
		})
	}
	return out
}
