package storage

import (
	"errors"
	"time"

	"github.com/cuemby/compactor/pkg/types"
)

// ErrNotFound is returned when a catalog record does not exist
var ErrNotFound = errors.New("not found")

// Node is a storage node as recorded in the catalog
type Node struct {
	ID   types.NodeID `json:"id" yaml:"id"`
	Live bool         `json:"live" yaml:"live"`
	// Base queue depths; running catalog compactions add to CompactionQueue
	CompactionQueue int       `json:"compaction_queue" yaml:"compaction_queue"`
	FlushQueue      int       `json:"flush_queue" yaml:"flush_queue"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"-"`
}

// Region is a region and its last published metrics
type Region struct {
	ID              types.RegionID  `json:"id" yaml:"id"`
	Table           types.TableName `json:"table" yaml:"table"`
	Node            types.NodeID    `json:"node" yaml:"node"`
	StoreFileCount  int             `json:"store_file_count" yaml:"store_file_count"`
	StoreFileSizeMB int64           `json:"store_file_size_mb" yaml:"store_file_size_mb"`
	Locality        float64         `json:"locality" yaml:"locality"`
	// Unreported regions have no published metrics
	Unreported      bool      `json:"unreported,omitempty" yaml:"unreported"`
	CompactingUntil time.Time `json:"compacting_until,omitempty" yaml:"-"`
	LastCompacted   time.Time `json:"last_compacted,omitempty" yaml:"-"`
}

// Location returns where the region is served
func (r *Region) Location() types.RegionLocation {
	return types.RegionLocation{Region: r.ID, Table: r.Table, Node: r.Node}
}

// Metrics returns the region's metrics snapshot
func (r *Region) Metrics() types.RegionMetrics {
	return types.RegionMetrics{
		Region:          r.ID,
		Table:           r.Table,
		StoreFileCount:  r.StoreFileCount,
		StoreFileSizeMB: r.StoreFileSizeMB,
		Locality:        r.Locality,
	}
}

// Compacting reports whether a compaction is running at now
func (r *Region) Compacting(now time.Time) bool {
	return now.Before(r.CompactingUntil)
}

// Compaction is one entry of the compaction history
type Compaction struct {
	Seq         uint64         `json:"seq"`
	Region      types.RegionID `json:"region"`
	Node        types.NodeID   `json:"node"`
	RequestedAt time.Time      `json:"requested_at"`
	SettledAt   time.Time      `json:"settled_at,omitempty"`
}

// Store defines the interface for cluster metadata storage
type Store interface {
	// Nodes
	PutNode(node *Node) error
	GetNode(id types.NodeID) (*Node, error)
	ListNodes() ([]*Node, error)
	DeleteNode(id types.NodeID) error

	// Regions
	PutRegion(region *Region) error
	GetRegion(id types.RegionID) (*Region, error)
	ListRegions() ([]*Region, error)
	DeleteRegion(id types.RegionID) error

	// Compaction history
	ListCompactions() ([]*Compaction, error)

	// Utility
	Close() error
}
