package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/cuemby/compactor/pkg/cluster"
	"github.com/cuemby/compactor/pkg/config"
	"github.com/cuemby/compactor/pkg/dedup"
	"github.com/cuemby/compactor/pkg/events"
	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/metrics"
	"github.com/cuemby/compactor/pkg/planner"
	"github.com/cuemby/compactor/pkg/telemetry"
	"github.com/cuemby/compactor/pkg/types"
	"github.com/cuemby/compactor/pkg/weight"
)

var (
	// ErrTasksFailed is returned by bounded workers when any compaction failed
	ErrTasksFailed = errors.New("compaction tasks failed")
	// ErrStopped is returned by bounded workers stopped before finishing
	ErrStopped = errors.New("worker stopped")
)

// Liveness reports whether a node is still part of the cluster
type Liveness interface {
	Live(node types.NodeID) bool
}

// Config controls one node worker
type Config struct {
	config.WorkerConfig
	// ForgetOnFailure drops a region from the recent set when its
	// compaction request fails
	ForgetOnFailure bool
}

// Deps are the collaborators of a node worker. Probe and Cache are owned
// by the worker; Admin, Planner and Liveness are shared.
type Deps struct {
	Admin    cluster.Admin
	Probe    telemetry.Probe
	Planner  *planner.Planner
	Cache    *dedup.Cache
	Liveness Liveness
	Events   *events.Broker
}

// Spec identifies what a worker runs
type Spec struct {
	Node types.NodeID
	Mode types.Mode
	// Regions is the fixed region set of a bounded worker
	Regions []types.RegionLocation
	// Weightless makes a bounded worker skip metrics and scoring
	Weightless bool
}

// Worker runs the admission and execution loop for one storage node
type Worker struct {
	spec   Spec
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	inflight sync.WaitGroup
	active   atomic.Int32

	mu         sync.Mutex
	state      types.WorkerState
	queue      []*types.Task
	scores     []weight.Scored
	cycle      int
	planned    int
	done       int
	failed     int
	volumeMB   int64
	compQueue  int
	flushQueue int
	updated    time.Time

	progressCh chan struct{}
	enqueueCh  chan struct{}
	stopCh     chan struct{}
	stopOnce   sync.Once
	doneCh     chan struct{}
}

// New creates a node worker. Run starts it.
func New(spec Spec, cfg Config, deps Deps) *Worker {
	limit := rate.Inf
	if cfg.AdditionDelay > 0 {
		limit = rate.Every(cfg.AdditionDelay)
	}
	if deps.Cache == nil {
		deps.Cache = dedup.New(config.Default().Dedup.Size, config.Default().Dedup.TTL)
	}
	if deps.Probe == nil {
		deps.Probe = idleProbe{}
	}

	return &Worker{
		spec:       spec,
		cfg:        cfg,
		deps:       deps,
		logger:     log.WithNodeID("worker", string(spec.Node)).With().Str("mode", string(spec.Mode)).Logger(),
		sem:        semaphore.NewWeighted(int64(cfg.Parallelism)),
		limiter:    rate.NewLimiter(limit, 1),
		state:      types.WorkerStateIdle,
		progressCh: make(chan struct{}, 1),
		enqueueCh:  make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Node returns the node this worker serves
func (w *Worker) Node() types.NodeID {
	return w.spec.Node
}

// Mode returns the worker's mode
func (w *Worker) Mode() types.Mode {
	return w.spec.Mode
}

// Stop prevents further admissions. Running compactions are not
// interrupted. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done is closed when Run has returned
func (w *Worker) Done() <-chan struct{} {
	return w.doneCh
}

// Enqueue appends forced tasks to a queued worker
func (w *Worker) Enqueue(tasks ...*types.Task) {
	w.mu.Lock()
	w.queue = append(w.queue, tasks...)
	w.planned += len(tasks)
	w.mu.Unlock()

	metrics.RegionsPlanned.WithLabelValues(string(w.spec.Node)).Add(float64(len(tasks)))
	select {
	case w.enqueueCh <- struct{}{}:
	default:
	}
}

// Run executes the worker until its work is finished, Stop is called or
// ctx is cancelled. Bounded workers return an error wrapping
// ErrTasksFailed when any compaction failed; continuous and queued
// workers only return nil.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.doneCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	// compactions outlive Stop; they are abandoned after the drain timeout
	taskCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()

	w.publish(events.EventWorkerStarted, "", nil)
	w.logger.Info().Msg("Node worker started")

	var err error
	switch w.spec.Mode {
	case types.ModeBounded:
		err = w.runBounded(runCtx, taskCtx, abandon)
	case types.ModeContinuous:
		w.runContinuous(runCtx, taskCtx)
		w.drain(w.cfg.DrainTimeout, abandon)
	case types.ModeQueued:
		w.runQueued(runCtx, taskCtx)
		w.drain(w.cfg.DrainTimeout, abandon)
	default:
		err = fmt.Errorf("unknown worker mode %q", w.spec.Mode)
	}

	w.teardown()
	return err
}

func (w *Worker) runBounded(ctx, taskCtx context.Context, abandon context.CancelFunc) error {
	plan, err := w.planBounded(ctx)
	if err != nil {
		return err
	}
	w.applyPlan(plan)

	complete := true
	for {
		task := w.pop()
		if task == nil {
			break
		}
		if !w.admit(ctx, taskCtx, task) {
			complete = false
			break
		}
	}

	// a bounded run waits for every admitted task unless it was stopped
	if complete {
		finished := make(chan struct{})
		go func() {
			w.inflight.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-ctx.Done():
			complete = false
			w.drain(w.cfg.DrainTimeout, abandon)
		}
	} else {
		w.drain(w.cfg.DrainTimeout, abandon)
	}

	st := w.Status()
	if st.Failed > 0 {
		return fmt.Errorf("%w: %d of %d on %s", ErrTasksFailed, st.Failed, st.Planned, w.spec.Node)
	}
	if !complete && st.Done < st.Planned {
		return fmt.Errorf("%w: %s compacted %d of %d regions", ErrStopped, w.spec.Node, st.Done, st.Planned)
	}

	w.logger.Info().Int("regions", st.Planned).Msg("Queue was fully compacted")
	return nil
}

func (w *Worker) runContinuous(ctx, taskCtx context.Context) {
	first := true
	for ctx.Err() == nil {
		if !first && w.deps.Liveness != nil && !w.deps.Liveness.Live(w.spec.Node) {
			w.logger.Error().Msg("Node is no longer live, stopping worker")
			return
		}

		w.setState(types.WorkerStateReplanning)
		plan, err := w.planContinuous(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("Planning failed, retrying later")
			if !sleep(ctx, w.cfg.GateBackoff) {
				return
			}
			continue
		}
		first = false
		w.applyPlan(plan)
		w.logger.Info().Int("cycle", plan.Cycle).Int("queue", len(plan.Tasks)).Msg("Refreshed compaction queue")

		if !w.drainQueue(ctx, taskCtx) {
			return
		}
	}
}

// drainQueue admits queued tasks until a replan is due. It returns false
// when the worker should stop.
func (w *Worker) drainQueue(ctx, taskCtx context.Context) bool {
	var idleSince time.Time
	for {
		if w.cycleDone() >= w.cfg.RecalcRegionCount {
			return true
		}

		task := w.pop()
		if task != nil {
			idleSince = time.Time{}
			if !w.admit(ctx, taskCtx, task) {
				return false
			}
			continue
		}

		if idleSince.IsZero() {
			idleSince = time.Now()
			w.setState(types.WorkerStateIdle)
			w.logger.Info().Dur("wait", w.cfg.IdleTimeout).Msg("No regions for compaction, waiting")
		}

		remaining := w.cfg.IdleTimeout - time.Since(idleSince)
		if remaining <= 0 {
			return true
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
			return true
		case <-w.progressCh:
			timer.Stop()
		}
	}
}

func (w *Worker) runQueued(ctx, taskCtx context.Context) {
	w.mu.Lock()
	w.cycle = 1
	w.mu.Unlock()

	for {
		task := w.pop()
		if task != nil {
			if !w.admit(ctx, taskCtx, task) {
				return
			}
			continue
		}

		w.setState(types.WorkerStateIdle)
		select {
		case <-ctx.Done():
			return
		case <-w.enqueueCh:
		}
	}
}

func (w *Worker) planBounded(ctx context.Context) (planner.Plan, error) {
	if w.spec.Weightless {
		return w.deps.Planner.PlanWeightless(w.spec.Node, w.spec.Regions, 1), nil
	}

	w.setState(types.WorkerStatePlanning)
	timer := metrics.NewTimer()
	m, err := w.deps.Admin.GetRegionMetrics(ctx, w.spec.Node)
	if err != nil {
		return planner.Plan{}, fmt.Errorf("failed to get region metrics of %s: %w", w.spec.Node, err)
	}
	plan := w.deps.Planner.Plan(planner.Input{
		Node:    w.spec.Node,
		Regions: w.spec.Regions,
		Metrics: m,
		Mode:    types.ModeBounded,
		Recent:  w.deps.Cache,
		Cycle:   1,
	})
	timer.ObserveDuration(metrics.PlanningDuration)
	return plan, nil
}

func (w *Worker) planContinuous(ctx context.Context) (planner.Plan, error) {
	timer := metrics.NewTimer()
	regions, err := w.deps.Admin.ListNodeRegions(ctx, w.spec.Node)
	if err != nil {
		return planner.Plan{}, fmt.Errorf("failed to list regions of %s: %w", w.spec.Node, err)
	}
	m, err := w.deps.Admin.GetRegionMetrics(ctx, w.spec.Node)
	if err != nil {
		return planner.Plan{}, fmt.Errorf("failed to get region metrics of %s: %w", w.spec.Node, err)
	}

	w.mu.Lock()
	cycle := w.cycle + 1
	w.mu.Unlock()

	plan := w.deps.Planner.Plan(planner.Input{
		Node:    w.spec.Node,
		Regions: regions,
		Metrics: m,
		Mode:    types.ModeContinuous,
		Recent:  w.deps.Cache,
		Cycle:   cycle,
	})
	timer.ObserveDuration(metrics.PlanningDuration)
	return plan, nil
}

// applyPlan replaces the queue and resets the per-cycle counters
func (w *Worker) applyPlan(plan planner.Plan) {
	w.mu.Lock()
	w.queue = plan.Tasks
	w.scores = plan.Scores
	w.cycle = plan.Cycle
	w.planned = len(plan.Tasks)
	w.done = 0
	w.failed = 0
	w.volumeMB = 0
	w.state = types.WorkerStateDraining
	w.updated = time.Now()
	w.mu.Unlock()

	node := string(w.spec.Node)
	metrics.PlanningCycles.WithLabelValues(node).Inc()
	metrics.RegionsPlanned.WithLabelValues(node).Set(float64(len(plan.Tasks)))
	w.publish(events.EventPlanRefreshed, fmt.Sprintf("%d regions queued", len(plan.Tasks)), map[string]string{
		"cycle":   strconv.Itoa(plan.Cycle),
		"planned": strconv.Itoa(len(plan.Tasks)),
		"skipped": strconv.Itoa(len(plan.Skipped)),
	})
}

func (w *Worker) pop() *types.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	task := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return task
}

func (w *Worker) cycleDone() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Worker) setState(s types.WorkerState) {
	w.mu.Lock()
	w.state = s
	w.updated = time.Now()
	w.mu.Unlock()
}

func (w *Worker) publish(t events.EventType, msg string, meta map[string]string) {
	w.deps.Events.Publish(&events.Event{
		Type:     t,
		Node:     string(w.spec.Node),
		Message:  msg,
		Metadata: meta,
	})
}

// drain waits up to timeout for running compactions, then abandons them
func (w *Worker) drain(timeout time.Duration, abandon context.CancelFunc) {
	finished := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		w.logger.Warn().Int32("active", w.active.Load()).Dur("timeout", timeout).
			Msg("Compactions still running after drain timeout, abandoning")
		abandon()
	}
}

func (w *Worker) teardown() {
	w.setState(types.WorkerStateStopped)
	if err := w.deps.Probe.Close(); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to close telemetry probe")
	}
	w.publish(events.EventWorkerStopped, "", nil)
	w.logger.Info().Msg("Node worker stopped")
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// idleProbe reports empty queues for workers built without telemetry
type idleProbe struct{}

func (idleProbe) Sample(context.Context) telemetry.Reading { return telemetry.Reading{} }
func (idleProbe) Close() error                             { return nil }
