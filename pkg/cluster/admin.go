package cluster

import (
	"context"
	"fmt"

	"github.com/cuemby/compactor/pkg/types"
)

// NodeLister reports which storage nodes are currently live
type NodeLister interface {
	ListLiveNodes(ctx context.Context) ([]types.NodeID, error)
}

// Admin is the cluster metadata and control surface the scheduler drives.
// RequestMajorCompaction only queues the compaction on the node; callers
// observe completion by polling IsCompacting until it reports false.
type Admin interface {
	NodeLister
	ListNodeRegions(ctx context.Context, node types.NodeID) ([]types.RegionLocation, error)
	GetRegionMetrics(ctx context.Context, node types.NodeID) (map[types.RegionID]types.RegionMetrics, error)
	GetRegionsForTable(ctx context.Context, table types.TableName) ([]types.RegionLocation, error)
	ListTablesByNamespace(ctx context.Context, namespace string) ([]types.TableName, error)
	RequestMajorCompaction(ctx context.Context, region types.RegionID) error
	IsCompacting(ctx context.Context, region types.RegionID) (bool, error)
}

// GetRegionsForNamespace resolves every region of every table in namespace
func GetRegionsForNamespace(ctx context.Context, admin Admin, namespace string) ([]types.RegionLocation, error) {
	tables, err := admin.ListTablesByNamespace(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of namespace %s: %w", namespace, err)
	}

	var regions []types.RegionLocation
	for _, table := range tables {
		locs, err := admin.GetRegionsForTable(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to list regions of table %s: %w", table, err)
		}
		regions = append(regions, locs...)
	}
	return regions, nil
}

// PartitionByNode groups region locations by their serving node, keeping
// the input order within each node and dropping duplicates.
func PartitionByNode(regions []types.RegionLocation) map[types.NodeID][]types.RegionLocation {
	byNode := make(map[types.NodeID][]types.RegionLocation)
	seen := make(map[types.RegionID]bool, len(regions))
	for _, r := range regions {
		if seen[r.Region] {
			continue
		}
		seen[r.Region] = true
		byNode[r.Node] = append(byNode[r.Node], r)
	}
	return byNode
}

type membershipAdmin struct {
	Admin
	lister NodeLister
}

func (m *membershipAdmin) ListLiveNodes(ctx context.Context) ([]types.NodeID, error) {
	return m.lister.ListLiveNodes(ctx)
}

// WithMembership returns an Admin whose live node list comes from lister
// instead of admin
func WithMembership(admin Admin, lister NodeLister) Admin {
	return &membershipAdmin{Admin: admin, lister: lister}
}
