package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/compactor/pkg/cluster"
	"github.com/cuemby/compactor/pkg/events"
	"github.com/cuemby/compactor/pkg/metrics"
	"github.com/cuemby/compactor/pkg/types"
	"github.com/cuemby/compactor/pkg/worker"
)

// RunContinuous compacts the whole cluster until ctx is cancelled or Close
// is called. Every live node gets a continuous worker; membership is
// rescanned every refresh interval and newly live nodes get workers too.
// Node-level errors are logged and never end the run.
func (s *Scheduler) RunContinuous(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	defer func() {
		s.shutdownContinuous(&wg)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().Dur("refresh_interval", s.cfg.Scheduler.RefreshInterval).Msg("Starting continuous compaction")
	s.refresh(ctx, &wg)

	ticker := time.NewTicker(s.cfg.Scheduler.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refresh(ctx, &wg)
		}
	}
}

// refresh swaps in a new topology snapshot and starts workers for live
// nodes that have none
func (s *Scheduler) refresh(ctx context.Context, wg *sync.WaitGroup) {
	next, prev, err := s.topology.Refresh(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to refresh cluster membership")
		return
	}
	metrics.NodesLive.Set(float64(next.Len()))

	joined, left := next.Diff(prev)
	for _, node := range left {
		s.logger.Warn().Str("node_id", string(node)).Msg("Node left the cluster")
		s.events.Publish(&events.Event{Type: events.EventNodeLeft, Node: string(node)})
		s.stopContinuous(node)
	}
	for _, node := range joined {
		s.logger.Info().Str("node_id", string(node)).Msg("Node joined the cluster")
		s.events.Publish(&events.Event{Type: events.EventNodeJoined, Node: string(node)})
	}

	for _, node := range next.Nodes() {
		s.ensureContinuous(ctx, wg, node)
	}
}

// ensureContinuous starts a continuous worker for node unless one is
// still running
func (s *Scheduler) ensureContinuous(ctx context.Context, wg *sync.WaitGroup, node types.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.continuous[node]; ok {
		return
	}

	w, err := s.newWorker(worker.Spec{Node: node, Mode: types.ModeContinuous})
	if err != nil {
		return
	}
	s.continuous[node] = w

	if s.markContinuous(node) {
		s.logger.Info().Str("node_id", string(node)).Msg("Node is back, resuming with its recent compactions")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.release(w)
		if err := w.Run(ctx); err != nil {
			s.logger.Error().Err(err).Str("node_id", string(node)).Msg("Node worker failed")
		}
		if !s.topology.Live(node) {
			metrics.ForgetNode(string(node))
		}
	}()
}

// markContinuous records that node has a continuous worker and reports
// whether it had one before. The caller holds mu.
func (s *Scheduler) markContinuous(node types.NodeID) bool {
	resumed := s.seen[node]
	s.seen[node] = true
	return resumed
}

// stopContinuous stops the continuous worker of a node that left. Its
// running compactions are left to finish.
func (s *Scheduler) stopContinuous(node types.NodeID) {
	s.mu.Lock()
	w, ok := s.continuous[node]
	s.mu.Unlock()
	if ok {
		w.Stop()
	}
}

// shutdownContinuous stops every continuous worker and waits for them up
// to the shutdown timeout
func (s *Scheduler) shutdownContinuous(wg *sync.WaitGroup) {
	s.mu.Lock()
	for _, w := range s.continuous {
		w.Stop()
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.logger.Info().Msg("Continuous compaction stopped")
	case <-time.After(s.cfg.Scheduler.ShutdownTimeout):
		s.logger.Warn().Dur("timeout", s.cfg.Scheduler.ShutdownTimeout).
			Msg("Continuous workers did not stop in time")
	}
}

// Enqueue forces compaction of regions without weighting them. Tasks go
// to a queued worker per node, started on first use, and pass the same
// admission gate as planned compactions. Enqueue does not wait for them.
func (s *Scheduler) Enqueue(ctx context.Context, regions []types.RegionLocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	byNode := cluster.PartitionByNode(regions)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for node, locs := range byNode {
		w, ok := s.queued[node]
		if !ok {
			var err error
			w, err = s.newWorker(worker.Spec{Node: node, Mode: types.ModeQueued})
			if err != nil {
				return err
			}
			s.queued[node] = w
			go func() {
				defer s.release(w)
				_ = w.Run(s.ctx)
			}()
		}

		now := time.Now()
		tasks := make([]*types.Task, len(locs))
		for i, loc := range locs {
			tasks[i] = &types.Task{
				ID:        uuid.NewString(),
				Region:    loc.Region,
				Table:     loc.Table,
				Node:      node,
				Cycle:     1,
				CreatedAt: now,
			}
		}
		w.Enqueue(tasks...)
		s.logger.Info().Str("node_id", string(node)).Int("regions", len(tasks)).Msg("Queued forced compactions")
	}
	return nil
}
