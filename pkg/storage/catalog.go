package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/compactor/pkg/cluster"
	"github.com/cuemby/compactor/pkg/config"
	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/telemetry"
	"github.com/cuemby/compactor/pkg/types"
)

var _ cluster.Admin = (*Catalog)(nil)

// Catalog serves cluster metadata from a BoltStore and implements
// cluster.Admin on top of it. A requested compaction runs for the
// configured duration; once it settles the region is rewritten as a
// single, fully local store file.
type Catalog struct {
	*BoltStore
	duration time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewCatalog wraps store. Compactions requested through the catalog take
// duration to settle.
func NewCatalog(store *BoltStore, duration time.Duration) *Catalog {
	return &Catalog{
		BoltStore: store,
		duration:  duration,
		now:       time.Now,
		logger:    log.WithComponent("catalog"),
	}
}

// OpenCatalog opens the catalog file named in cfg
func OpenCatalog(cfg config.CatalogConfig) (*Catalog, error) {
	store, err := NewBoltStore(cfg.Path)
	if err != nil {
		return nil, err
	}
	return NewCatalog(store, cfg.CompactionDuration), nil
}

// ListLiveNodes returns the live nodes in sorted order
func (c *Catalog) ListLiveNodes(ctx context.Context) ([]types.NodeID, error) {
	nodes, err := c.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	var live []types.NodeID
	for _, n := range nodes {
		if n.Live {
			live = append(live, n.ID)
		}
	}
	slices.Sort(live)
	return live, nil
}

// ListNodeRegions returns the regions served by node
func (c *Catalog) ListNodeRegions(ctx context.Context, node types.NodeID) ([]types.RegionLocation, error) {
	return c.locations(func(r *Region) bool { return r.Node == node })
}

// GetRegionMetrics returns the published metrics of every region on node.
// Regions without published metrics are left out.
func (c *Catalog) GetRegionMetrics(ctx context.Context, node types.NodeID) (map[types.RegionID]types.RegionMetrics, error) {
	regions, err := c.ListRegions()
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}

	now := c.now()
	out := make(map[types.RegionID]types.RegionMetrics)
	for _, r := range regions {
		if r.Node != node || r.Unreported {
			continue
		}
		r.settle(now)
		out[r.ID] = r.Metrics()
	}
	return out, nil
}

// GetRegionsForTable returns every region of table
func (c *Catalog) GetRegionsForTable(ctx context.Context, table types.TableName) ([]types.RegionLocation, error) {
	locs, err := c.locations(func(r *Region) bool { return r.Table == table })
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, fmt.Errorf("table %s: %w", table, ErrNotFound)
	}
	return locs, nil
}

// ListTablesByNamespace returns the tables of namespace in name order
func (c *Catalog) ListTablesByNamespace(ctx context.Context, namespace string) ([]types.TableName, error) {
	regions, err := c.ListRegions()
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}

	var tables []types.TableName
	for _, r := range regions {
		if r.Table.Namespace() == namespace && !slices.Contains(tables, r.Table) {
			tables = append(tables, r.Table)
		}
	}
	slices.Sort(tables)
	return tables, nil
}

// RequestMajorCompaction queues a compaction of region on its node. A
// region that is already compacting is left alone.
func (c *Catalog) RequestMajorCompaction(ctx context.Context, region types.RegionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := c.now()
	return c.db.Update(func(tx *bolt.Tx) error {
		var r Region
		if err := get(tx.Bucket(bucketRegions), []byte(region), &r, "region"); err != nil {
			return err
		}
		var n Node
		if err := get(tx.Bucket(bucketNodes), []byte(r.Node), &n, "node"); err != nil {
			return err
		}
		if !n.Live {
			return fmt.Errorf("node %s is not serving region %s", n.ID, region)
		}
		if r.Compacting(now) {
			return nil
		}

		r.settle(now)
		r.CompactingUntil = now.Add(c.duration)
		if err := put(tx.Bucket(bucketRegions), []byte(region), &r); err != nil {
			return err
		}

		c.logger.Debug().Str("region", string(region)).Str("node_id", string(r.Node)).
			Time("until", r.CompactingUntil).Msg("Major compaction queued")
		return appendCompaction(tx, &Compaction{Region: region, Node: r.Node, RequestedAt: now})
	})
}

// IsCompacting reports whether region is still compacting. A compaction
// that has settled is recorded before returning false.
func (c *Catalog) IsCompacting(ctx context.Context, region types.RegionID) (bool, error) {
	now := c.now()
	compacting := false
	err := c.db.Update(func(tx *bolt.Tx) error {
		var r Region
		if err := get(tx.Bucket(bucketRegions), []byte(region), &r, "region"); err != nil {
			return err
		}
		if r.Compacting(now) {
			compacting = true
			return nil
		}
		if !r.settle(now) {
			return nil
		}
		if err := settleCompaction(tx, &r); err != nil {
			return err
		}
		return put(tx.Bucket(bucketRegions), []byte(region), &r)
	})
	return compacting, err
}

// QueueSource returns a telemetry source reading node queue depths from
// the catalog. Each running compaction adds one to the compaction queue.
func (c *Catalog) QueueSource() telemetry.SourceFunc {
	return func(node types.NodeID) telemetry.Source {
		return &catalogSource{catalog: c, node: node}
	}
}

type catalogSource struct {
	catalog *Catalog
	node    types.NodeID
}

func (s *catalogSource) Read(ctx context.Context) (telemetry.Reading, error) {
	var reading telemetry.Reading
	now := s.catalog.now()
	err := s.catalog.db.View(func(tx *bolt.Tx) error {
		var n Node
		if err := get(tx.Bucket(bucketNodes), []byte(s.node), &n, "node"); err != nil {
			return err
		}
		reading.CompactionQueueLength = n.CompactionQueue
		reading.FlushQueueLength = n.FlushQueue

		return tx.Bucket(bucketRegions).ForEach(func(k, v []byte) error {
			var r Region
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Node == s.node && r.Compacting(now) {
				reading.CompactionQueueLength++
			}
			return nil
		})
	})
	return reading, err
}

func (s *catalogSource) Close() error {
	return nil
}

func (c *Catalog) locations(match func(*Region) bool) ([]types.RegionLocation, error) {
	regions, err := c.ListRegions()
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}

	var locs []types.RegionLocation
	for _, r := range regions {
		if match(r) {
			locs = append(locs, r.Location())
		}
	}
	return locs, nil
}

// settle applies the result of a finished compaction to r. It reports
// whether r changed.
func (r *Region) settle(now time.Time) bool {
	if r.CompactingUntil.IsZero() || r.Compacting(now) || !r.LastCompacted.Before(r.CompactingUntil) {
		return false
	}
	if r.StoreFileCount > 1 {
		r.StoreFileCount = 1
	}
	r.Locality = 1.0
	r.LastCompacted = r.CompactingUntil
	return true
}
