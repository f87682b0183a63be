package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/compactor/pkg/events"
	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/metrics"
	"github.com/cuemby/compactor/pkg/types"
	"github.com/cuemby/compactor/pkg/weight"
)

// minPoolWait bounds the pool-full retry interval when addition_delay is 0
const minPoolWait = 10 * time.Millisecond

var errRequestFailed = errors.New("compaction request failed")

// admit blocks until task enters the pool. It returns false if the worker
// stopped first.
//
// Each attempt samples both node queues; a queue above its border holds
// admission for gate_backoff. With both queues in bounds the task still
// needs a free pool slot and must respect the addition_delay pacing
// interval since the previous admission.
func (w *Worker) admit(ctx, taskCtx context.Context, task *types.Task) bool {
	node := string(w.spec.Node)

	for {
		if ctx.Err() != nil {
			return false
		}

		reading := w.deps.Probe.Sample(ctx)
		if ctx.Err() != nil {
			return false
		}
		cq, fq := reading.CompactionQueueLength, reading.FlushQueueLength
		w.recordQueues(cq, fq)

		switch {
		case cq > w.cfg.MaxCompactionsBorder:
			w.gate("compaction_queue", cq)
			if !sleep(ctx, w.cfg.GateBackoff) {
				return false
			}
			continue
		case fq > w.cfg.MaxFlushesBorder:
			w.gate("flush_queue", fq)
			if !sleep(ctx, w.cfg.GateBackoff) {
				return false
			}
			continue
		}

		if !w.sem.TryAcquire(1) {
			metrics.AdmissionGated.WithLabelValues(node, "pool_full").Inc()
			w.logger.Debug().Int("parallelism", w.cfg.Parallelism).Msg("Compaction pool is full, waiting")
			if !sleep(ctx, max(w.cfg.AdditionDelay, minPoolWait)) {
				return false
			}
			continue
		}

		r := w.limiter.Reserve()
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			w.sem.Release(1)
			if !sleep(ctx, delay) {
				return false
			}
			continue
		}

		// Stop may have landed while this attempt was in flight
		if ctx.Err() != nil {
			r.Cancel()
			w.sem.Release(1)
			return false
		}

		w.submit(taskCtx, task)
		return true
	}
}

func (w *Worker) gate(reason string, length int) {
	w.setState(types.WorkerStateGated)
	metrics.AdmissionGated.WithLabelValues(string(w.spec.Node), reason).Inc()
	w.logger.Info().Str("reason", reason).Int("length", length).Dur("backoff", w.cfg.GateBackoff).
		Msg("Node queue is too long right now")
	w.publish(events.EventAdmissionGated, reason, map[string]string{
		"reason": reason,
		"length": strconv.Itoa(length),
	})
}

func (w *Worker) recordQueues(cq, fq int) {
	w.mu.Lock()
	w.compQueue = cq
	w.flushQueue = fq
	w.mu.Unlock()
}

// submit hands an admitted task to the pool. The caller holds a pool slot.
// The region is marked as recently admitted before the compaction runs so a
// replan cannot queue it again while it is in flight.
func (w *Worker) submit(ctx context.Context, task *types.Task) {
	node := string(w.spec.Node)

	w.deps.Cache.Put(task.Region)
	w.setState(types.WorkerStateDraining)
	w.active.Add(1)
	w.inflight.Add(1)

	metrics.CompactionsAdmitted.WithLabelValues(node).Inc()
	metrics.ActiveCompactions.WithLabelValues(node).Inc()
	w.publish(events.EventCompactionAdmitted, string(task.Region), taskMeta(task))

	go w.execute(ctx, task)
}

func (w *Worker) execute(ctx context.Context, task *types.Task) {
	node := string(w.spec.Node)
	defer w.inflight.Done()
	defer func() {
		w.active.Add(-1)
		metrics.ActiveCompactions.WithLabelValues(node).Dec()
		w.sem.Release(1)
	}()

	rl := log.WithRegion(w.logger, string(task.Region))
	if task.Weight != nil {
		rl.Info().Float64("weight", *task.Weight).Msg("Start compaction")
	} else {
		rl.Info().Msg("Start compaction")
	}

	timer := metrics.NewTimer()
	if err := w.compact(ctx, task); err != nil {
		rl.Error().Err(err).Msg("Compaction failed")
		w.recordFailure(task, err)
		return
	}
	timer.ObserveDuration(metrics.CompactionDuration)

	rl.Info().Dur("took", timer.Duration()).Msg("Compaction done")
	w.recordSuccess(task)
}

func (w *Worker) compact(ctx context.Context, task *types.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during compaction of %s: %v", task.Region, r)
		}
	}()

	if err := w.deps.Admin.RequestMajorCompaction(ctx, task.Region); err != nil {
		return fmt.Errorf("%w: %w", errRequestFailed, err)
	}
	return w.waitUntilSettled(ctx, task.Region)
}

// waitUntilSettled polls IsCompacting every status_delay until it reports
// false
func (w *Worker) waitUntilSettled(ctx context.Context, region types.RegionID) error {
	for {
		compacting, err := w.deps.Admin.IsCompacting(ctx, region)
		if err != nil {
			return fmt.Errorf("failed to read compaction state: %w", err)
		}
		if !compacting {
			return nil
		}
		if !sleep(ctx, w.cfg.StatusDelay) {
			return fmt.Errorf("stopped waiting for compaction: %w", context.Cause(ctx))
		}
	}
}

func (w *Worker) recordSuccess(task *types.Task) {
	node := string(w.spec.Node)

	w.mu.Lock()
	w.done++
	if !task.Weightless() {
		w.volumeMB += task.SizeMB
	}
	w.updated = time.Now()
	w.mu.Unlock()

	metrics.CompactionsCompleted.WithLabelValues(node).Inc()
	if !task.Weightless() {
		metrics.CompactedVolumeMB.WithLabelValues(node).Add(float64(task.SizeMB))
	}
	w.publish(events.EventCompactionCompleted, string(task.Region), taskMeta(task))

	select {
	case w.progressCh <- struct{}{}:
	default:
	}
}

func (w *Worker) recordFailure(task *types.Task, err error) {
	w.mu.Lock()
	w.failed++
	w.updated = time.Now()
	w.mu.Unlock()

	if w.cfg.ForgetOnFailure && errors.Is(err, errRequestFailed) {
		w.deps.Cache.Remove(task.Region)
	}

	metrics.CompactionsFailed.WithLabelValues(string(w.spec.Node)).Inc()
	meta := taskMeta(task)
	meta["error"] = err.Error()
	w.publish(events.EventCompactionFailed, string(task.Region), meta)
}

func taskMeta(task *types.Task) map[string]string {
	meta := map[string]string{
		"task_id": task.ID,
		"region":  string(task.Region),
		"cycle":   strconv.Itoa(task.Cycle),
	}
	if task.Weight != nil {
		meta["weight"] = strconv.FormatFloat(*task.Weight, 'f', 2, 64)
	}
	return meta
}

// Status returns the worker's current progress
func (w *Worker) Status() types.NodeStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := types.NodeStatus{
		Node:            w.spec.Node,
		Mode:            w.spec.Mode,
		State:           w.state,
		Cycle:           w.cycle,
		Planned:         w.planned,
		Done:            w.done,
		Failed:          w.failed,
		Active:          int(w.active.Load()),
		Queued:          len(w.queue),
		CompactedMB:     w.volumeMB,
		Percent:         types.Percent(w.done, w.planned),
		Progress:        types.ProgressString(w.done, w.planned),
		CompactionQueue: w.compQueue,
		FlushQueue:      w.flushQueue,
		Severity:        types.ClassifyCompactionQueue(w.compQueue),
		UpdatedAt:       w.updated,
	}
	if w.spec.Mode == types.ModeQueued {
		st.Statistic = fmt.Sprintf("Current queue: %3d. Already compacted: %3d", len(w.queue), w.done)
	} else {
		st.Statistic = weight.Statistic(w.spec.Node, w.scores)
	}
	return st
}
