package scheduler

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

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
	"github.com/cuemby/compactor/pkg/worker"
)

var (
	// ErrClosed is returned by operations started after Close
	ErrClosed = errors.New("scheduler is closed")
	// ErrAlreadyClosed is returned by a second Close
	ErrAlreadyClosed = errors.New("scheduler already closed")
	// ErrUnknownNode is returned when a node is not live
	ErrUnknownNode = errors.New("node is not live")
	// ErrAlreadyRunning is returned when RunContinuous is already active
	ErrAlreadyRunning = errors.New("continuous run already in progress")
)

// Option configures a Scheduler
type Option func(*Scheduler)

// WithEvents publishes worker and membership events to b
func WithEvents(b *events.Broker) Option {
	return func(s *Scheduler) {
		s.events = b
	}
}

// WithMembership takes the live node list from lister instead of the
// cluster admin
func WithMembership(lister cluster.NodeLister) Option {
	return func(s *Scheduler) {
		s.lister = lister
	}
}

// Scheduler owns the node workers of one cluster
type Scheduler struct {
	cfg      config.Config
	admin    cluster.Admin
	lister   cluster.NodeLister
	probes   telemetry.Factory
	planner  *planner.Planner
	topology *cluster.Topology
	events   *events.Broker
	logger   zerolog.Logger

	// lifetime of queued workers
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	running    bool
	workers    map[*worker.Worker]struct{}
	continuous map[types.NodeID]*worker.Worker
	queued     map[types.NodeID]*worker.Worker
	caches     map[types.NodeID]*dedup.Cache
	// nodes that have had a continuous worker
	seen       map[types.NodeID]bool
	closeCh    chan struct{}
}

// New creates a scheduler for the cluster behind admin. probes opens one
// telemetry probe per worker.
func New(cfg config.Config, admin cluster.Admin, probes telemetry.Factory, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:        cfg,
		admin:      admin,
		probes:     probes,
		planner:    planner.New(weight.New(cfg.Weight), cfg.Planner),
		logger:     log.WithComponent("scheduler"),
		ctx:        ctx,
		cancel:     cancel,
		workers:    make(map[*worker.Worker]struct{}),
		continuous: make(map[types.NodeID]*worker.Worker),
		queued:     make(map[types.NodeID]*worker.Worker),
		caches:     make(map[types.NodeID]*dedup.Cache),
		seen:       make(map[types.NodeID]bool),
		closeCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.lister != nil {
		s.admin = cluster.WithMembership(admin, s.lister)
	}
	s.topology = cluster.NewTopology(s.admin)
	return s
}

// Topology returns the live-node view maintained by RunContinuous
func (s *Scheduler) Topology() *cluster.Topology {
	return s.topology
}

// newWorker builds a worker for spec and registers it. The caller holds mu.
func (s *Scheduler) newWorker(spec worker.Spec) (*worker.Worker, error) {
	if s.closed {
		return nil, ErrClosed
	}

	cache, ok := s.caches[spec.Node]
	if !ok {
		cache = dedup.New(s.cfg.Dedup.Size, s.cfg.Dedup.TTL)
		s.caches[spec.Node] = cache
	}

	w := worker.New(spec, worker.Config{
		WorkerConfig:    s.cfg.Worker,
		ForgetOnFailure: s.cfg.Dedup.ForgetOnFailure,
	}, worker.Deps{
		Admin:    s.admin,
		Probe:    s.probes.Open(spec.Node),
		Planner:  s.planner,
		Cache:    cache,
		Liveness: s.topology,
		Events:   s.events,
	})
	s.workers[w] = struct{}{}
	metrics.NodeWorkers.WithLabelValues(string(spec.Mode)).Inc()
	return w, nil
}

// release forgets a worker whose Run has returned
func (s *Scheduler) release(w *worker.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.workers, w)
	if s.continuous[w.Node()] == w {
		delete(s.continuous, w.Node())
	}
	if s.queued[w.Node()] == w {
		delete(s.queued, w.Node())
	}
	metrics.NodeWorkers.WithLabelValues(string(w.Mode())).Dec()
}

// Close stops every worker and waits up to the shutdown timeout for them
// to finish. Compactions still running afterwards are abandoned.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.closed = true
	close(s.closeCh)
	s.cancel()
	workers := make([]*worker.Worker, 0, len(s.workers))
	for w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	s.logger.Info().Int("workers", len(workers)).Msg("Stopping node workers")
	for _, w := range workers {
		w.Stop()
	}

	deadline := time.NewTimer(s.cfg.Scheduler.ShutdownTimeout)
	defer deadline.Stop()
	for _, w := range workers {
		select {
		case <-w.Done():
		case <-deadline.C:
			s.logger.Warn().Dur("timeout", s.cfg.Scheduler.ShutdownTimeout).
				Msg("Node workers did not stop in time, continuing shutdown")
			return nil
		}
	}

	s.logger.Info().Msg("Scheduler closed")
	return nil
}

// Status returns the progress of every running worker ordered by node
func (s *Scheduler) Status() []types.NodeStatus {
	s.mu.Lock()
	workers := make([]*worker.Worker, 0, len(s.workers))
	for w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	statuses := make([]types.NodeStatus, len(workers))
	for i, w := range workers {
		statuses[i] = w.Status()
	}
	slices.SortFunc(statuses, func(a, b types.NodeStatus) int {
		return cmp.Or(cmp.Compare(a.Node, b.Node), cmp.Compare(a.Mode, b.Mode))
	})
	return statuses
}

// NodeStatus returns the status of node's continuous worker, falling back
// to its queued or bounded worker
func (s *Scheduler) NodeStatus(node types.NodeID) (types.NodeStatus, bool) {
	s.mu.Lock()
	w, ok := s.continuous[node]
	if !ok {
		w, ok = s.queued[node]
	}
	if !ok {
		for candidate := range s.workers {
			if candidate.Node() == node {
				w, ok = candidate, true
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		return types.NodeStatus{}, false
	}
	return w.Status(), true
}
