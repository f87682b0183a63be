package types

import (
	"fmt"
	"strings"
	"time"
)

// NodeID identifies a storage node, in host:port form
type NodeID string

// RegionID is the encoded region name. It never changes for the life of a
// region and is the only key used to track regions across planning cycles.
type RegionID string

// TableName is a fully qualified table name (namespace:qualifier)
type TableName string

// DefaultNamespace is assumed for table names without a namespace prefix
const DefaultNamespace = "default"

// Namespace returns the namespace part of the table name
func (t TableName) Namespace() string {
	if i := strings.IndexByte(string(t), ':'); i >= 0 {
		return string(t)[:i]
	}
	return DefaultNamespace
}

// Qualifier returns the table name without its namespace
func (t TableName) Qualifier() string {
	if i := strings.IndexByte(string(t), ':'); i >= 0 {
		return string(t)[i+1:]
	}
	return string(t)
}

// QualifiedTableName adds the default namespace when name has none
func QualifiedTableName(name string) TableName {
	if strings.Contains(name, ":") {
		return TableName(name)
	}
	return TableName(DefaultNamespace + ":" + name)
}

// RegionMetrics is a read-only snapshot of one region's storage state
type RegionMetrics struct {
	Region          RegionID  `json:"region" yaml:"region"`
	Table           TableName `json:"table" yaml:"table"`
	StoreFileCount  int       `json:"store_file_count" yaml:"store_file_count"`
	StoreFileSizeMB int64     `json:"store_file_size_mb" yaml:"store_file_size_mb"`
	Locality        float64   `json:"locality" yaml:"locality"`
}

// RegionLocation maps a region to the node currently serving it
type RegionLocation struct {
	Region RegionID  `json:"region" yaml:"region"`
	Table  TableName `json:"table" yaml:"table"`
	Node   NodeID    `json:"node" yaml:"node"`
}

// Task is a single planned compaction. Weight is nil for forced
// (weightless) tasks that bypass prioritisation.
type Task struct {
	ID        string
	Region    RegionID
	Table     TableName
	Node      NodeID
	Weight    *float64
	SizeMB    int64
	Cycle     int
	CreatedAt time.Time
}

// Weightless reports whether the task was created without scoring
func (t *Task) Weightless() bool {
	return t.Weight == nil
}

func (t *Task) String() string {
	if t.Weight == nil {
		return fmt.Sprintf("%s@%s", t.Region, t.Node)
	}
	return fmt.Sprintf("%s@%s (weight %.2f)", t.Region, t.Node, *t.Weight)
}

// Mode selects how a node worker obtains and finishes its work
type Mode string

const (
	// ModeBounded runs a fixed task list once and stops
	ModeBounded Mode = "bounded"
	// ModeContinuous plans, drains and replans until stopped
	ModeContinuous Mode = "continuous"
	// ModeQueued drains externally enqueued weightless tasks until stopped
	ModeQueued Mode = "queued"
)

// WorkerState is the externally visible state of a node worker
type WorkerState string

const (
	WorkerStateIdle       WorkerState = "idle"
	WorkerStatePlanning   WorkerState = "planning"
	WorkerStateDraining   WorkerState = "draining"
	WorkerStateGated      WorkerState = "gated"
	WorkerStateReplanning WorkerState = "replanning"
	WorkerStateStopped    WorkerState = "stopped"
)

// QueueSeverity classifies a node's compaction backlog for reporting
type QueueSeverity string

const (
	QueueSeverityNone     QueueSeverity = "none"
	QueueSeverityLow      QueueSeverity = "low"
	QueueSeverityNormal   QueueSeverity = "normal"
	QueueSeverityCritical QueueSeverity = "critical"
)

// ClassifyCompactionQueue maps a compaction queue length to a severity
func ClassifyCompactionQueue(length int) QueueSeverity {
	switch {
	case length > 150:
		return QueueSeverityCritical
	case length > 50:
		return QueueSeverityNormal
	case length > 15:
		return QueueSeverityLow
	default:
		return QueueSeverityNone
	}
}

// NodeStatus is a point-in-time view of one node worker's progress
type NodeStatus struct {
	Node            NodeID        `json:"node"`
	Mode            Mode          `json:"mode"`
	State           WorkerState   `json:"state"`
	Cycle           int           `json:"cycle"`
	Planned         int           `json:"planned"`
	Done            int           `json:"done"`
	Failed          int           `json:"failed"`
	Active          int           `json:"active"`
	Queued          int           `json:"queued"`
	CompactedMB     int64         `json:"compacted_mb"`
	Percent         float64       `json:"percent"`
	Progress        string        `json:"progress"`
	Statistic       string        `json:"statistic"`
	CompactionQueue int           `json:"compaction_queue"`
	FlushQueue      int           `json:"flush_queue"`
	Severity        QueueSeverity `json:"severity"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ProgressString renders done/planned the way operators read it in logs
func ProgressString(done, planned int) string {
	if planned == 0 {
		return "no regions for compaction."
	}
	return fmt.Sprintf("%.2f%% (%3d of %3d)", Percent(done, planned), done, planned)
}

// Percent returns done as a percentage of planned, 0 when nothing is planned
func Percent(done, planned int) float64 {
	if planned == 0 {
		return 0
	}
	return float64(done) * 100 / float64(planned)
}
