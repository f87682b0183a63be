package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/compactor/pkg/cluster"
	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/types"
	"github.com/cuemby/compactor/pkg/worker"
)

// CompactRegions compacts an explicit set of regions. It returns after
// every affected node finished; any failed region fails the whole call.
func (s *Scheduler) CompactRegions(ctx context.Context, regions []types.RegionLocation) error {
	return s.runBounded(ctx, "regions", regions)
}

// CompactTables compacts every region of tables
func (s *Scheduler) CompactTables(ctx context.Context, tables []types.TableName) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var regions []types.RegionLocation
	for _, table := range tables {
		locs, err := s.admin.GetRegionsForTable(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to list regions of table %s: %w", table, err)
		}
		regions = append(regions, locs...)
	}
	return s.runBounded(ctx, "tables", regions)
}

// CompactNamespaces compacts every region of every table in namespaces
func (s *Scheduler) CompactNamespaces(ctx context.Context, namespaces []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var regions []types.RegionLocation
	for _, ns := range namespaces {
		locs, err := cluster.GetRegionsForNamespace(ctx, s.admin, ns)
		if err != nil {
			return err
		}
		regions = append(regions, locs...)
	}
	return s.runBounded(ctx, "namespaces", regions)
}

// CompactNode compacts every region served by one live node
func (s *Scheduler) CompactNode(ctx context.Context, node types.NodeID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	live, err := s.admin.ListLiveNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list live nodes: %w", err)
	}
	if !slices.Contains(live, node) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}

	regions, err := s.admin.ListNodeRegions(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to list regions of %s: %w", node, err)
	}
	return s.runBounded(ctx, "node", regions)
}

// runBounded runs one bounded worker per node serving regions and combines
// their errors
func (s *Scheduler) runBounded(ctx context.Context, op string, regions []types.RegionLocation) error {
	opID := uuid.NewString()
	logger := log.WithOperationID(opID).With().Str("operation", op).Logger()

	byNode := cluster.PartitionByNode(regions)
	if len(byNode) == 0 {
		if err := s.checkOpen(); err != nil {
			return err
		}
		logger.Info().Msg("No regions to compact")
		return nil
	}

	s.mu.Lock()
	workers := make([]*worker.Worker, 0, len(byNode))
	for node, locs := range byNode {
		w, err := s.newWorker(worker.Spec{Node: node, Mode: types.ModeBounded, Regions: locs})
		if err != nil {
			s.mu.Unlock()
			for _, w := range workers {
				s.release(w)
			}
			return err
		}
		workers = append(workers, w)
	}
	s.mu.Unlock()

	logger.Info().Int("regions", len(regions)).Int("nodes", len(workers)).Msg("Starting bounded compaction")

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	for _, w := range workers {
		g.Go(func() error {
			defer s.release(w)
			if err := w.Run(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		logger.Error().Err(errs).Msg("Bounded compaction finished with failures")
		return errs
	}
	logger.Info().Msg("Bounded compaction finished")
	return nil
}

func (s *Scheduler) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
