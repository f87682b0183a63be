package weight

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/cuemby/compactor/pkg/config"
	"github.com/cuemby/compactor/pkg/types"
)

// Model scores regions by how much they would benefit from a major
// compaction. Poor locality and many large store files raise the weight.
type Model struct {
	LocalityFactor  float64
	FileCountFactor float64
	SizeDivisor     float64
	MinSizeMB       int64
}

// New builds a model from configuration
func New(cfg config.WeightConfig) Model {
	return Model{
		LocalityFactor:  cfg.LocalityFactor,
		FileCountFactor: cfg.FileCountFactor,
		SizeDivisor:     cfg.SizeDivisor,
		MinSizeMB:       cfg.MinSizeMB,
	}
}

// Default returns the model with the stock constants
func Default() Model {
	return New(config.Default().Weight)
}

// Score computes the weight of one region. Regions smaller than MinSizeMB
// always score 0.
func (m Model) Score(r types.RegionMetrics) float64 {
	if r.StoreFileSizeMB < m.MinSizeMB {
		return 0
	}
	size := float64(max(0, r.StoreFileSizeMB))
	return (1-r.Locality)*m.LocalityFactor + size/m.SizeDivisor*(float64(r.StoreFileCount)*m.FileCountFactor)
}

// Scored pairs a region with its computed weight
type Scored struct {
	Region types.RegionID
	Weight float64
}

// Compare orders by weight descending, then region ascending
func Compare(a, b Scored) int {
	if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
		return c
	}
	return cmp.Compare(a.Region, b.Region)
}

// Sort orders scores highest weight first
func Sort(scores []Scored) {
	slices.SortFunc(scores, Compare)
}

// Stats summarises the positive weights of one planning cycle
type Stats struct {
	Top     types.RegionID
	Max     float64
	Average float64
	Median  float64
	Count   int
}

// Summarize computes statistics over scores with weight > 0. ok is false
// when no region has a positive weight.
func Summarize(scores []Scored) (Stats, bool) {
	weights := make([]float64, 0, len(scores))
	var top Scored
	for _, s := range scores {
		if s.Weight <= 0 {
			continue
		}
		if len(weights) == 0 || Compare(s, top) < 0 {
			top = s
		}
		weights = append(weights, s.Weight)
	}
	if len(weights) == 0 {
		return Stats{}, false
	}

	slices.Sort(weights)
	var sum float64
	for _, w := range weights {
		sum += w
	}
	n := len(weights)
	median := weights[n/2]
	if n%2 == 0 {
		median = (weights[n/2] + weights[n/2-1]) / 2
	}

	return Stats{
		Top:     top.Region,
		Max:     top.Weight,
		Average: sum / float64(n),
		Median:  median,
		Count:   n,
	}, true
}

// String renders the statistic line used in status output
func (s Stats) String() string {
	return fmt.Sprintf("%s region with max weight: %.2f; average region weight %.2f; median region weight %.2f.",
		s.Top, s.Max, s.Average, s.Median)
}

// Statistic renders the per-node statistic, or "Not calculated" when no
// region scored above zero.
func Statistic(node types.NodeID, scores []Scored) string {
	stats, ok := Summarize(scores)
	if !ok {
		return "Not calculated"
	}
	return fmt.Sprintf("%s: %s", node, stats)
}
