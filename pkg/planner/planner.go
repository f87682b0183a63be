package planner

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/compactor/pkg/config"
	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/types"
	"github.com/cuemby/compactor/pkg/weight"
)

// RecentSet reports regions admitted recently on a node
type RecentSet interface {
	Contains(region types.RegionID) bool
}

// Input is everything needed to plan one node
type Input struct {
	Node    types.NodeID
	Regions []types.RegionLocation
	Metrics map[types.RegionID]types.RegionMetrics
	Mode    types.Mode
	Recent  RecentSet
	Cycle   int
}

// Plan is an ordered task list for one node
type Plan struct {
	Node  types.NodeID
	Cycle int
	Tasks []*types.Task
	// Scores holds the weight of every region with metrics, included or not
	Scores []weight.Scored
	// Skipped lists regions without published metrics
	Skipped []types.RegionID
}

// Statistic renders the weight statistic of the plan's scored regions
func (p Plan) Statistic() string {
	return weight.Statistic(p.Node, p.Scores)
}

// Planner turns region metrics into ordered per-node task lists
type Planner struct {
	model        weight.Model
	sort         bool
	borderWeight float64
	borderSizeMB int64
	logger       zerolog.Logger
}

// New creates a planner
func New(model weight.Model, cfg config.PlannerConfig) *Planner {
	return &Planner{
		model:        model,
		sort:         cfg.Sort,
		borderWeight: cfg.BorderWeight,
		borderSizeMB: cfg.BorderSizeMB,
		logger:       log.WithComponent("planner"),
	}
}

// Plan builds the task list for in.Node.
//
// Bounded plans include every region that has metrics. Continuous plans
// include a region only when its weight is above the border weight, its size
// is above the border size and it is not in the recent set. Continuous plans
// are always ordered by weight; bounded plans only when sorting is enabled.
func (p *Planner) Plan(in Input) Plan {
	plan := Plan{
		Node:  in.Node,
		Cycle: in.Cycle,
	}
	now := time.Now()
	continuous := in.Mode == types.ModeContinuous

	type candidate struct {
		score weight.Scored
		task  *types.Task
	}
	var candidates []candidate

	for _, loc := range in.Regions {
		m, ok := in.Metrics[loc.Region]
		if !ok {
			p.logger.Debug().
				Str("node_id", string(in.Node)).
				Str("region", string(loc.Region)).
				Msg("No region metrics, region may have moved recently")
			plan.Skipped = append(plan.Skipped, loc.Region)
			continue
		}

		w := p.model.Score(m)
		score := weight.Scored{Region: loc.Region, Weight: w}
		plan.Scores = append(plan.Scores, score)

		if continuous && !p.eligible(loc.Region, w, m.StoreFileSizeMB, in.Recent) {
			continue
		}

		table := loc.Table
		if table == "" {
			table = m.Table
		}
		candidates = append(candidates, candidate{
			score: score,
			task: &types.Task{
				ID:        uuid.NewString(),
				Region:    loc.Region,
				Table:     table,
				Node:      in.Node,
				Weight:    &w,
				SizeMB:    m.StoreFileSizeMB,
				Cycle:     in.Cycle,
				CreatedAt: now,
			},
		})
	}

	if continuous || p.sort {
		slices.SortFunc(candidates, func(a, b candidate) int {
			return weight.Compare(a.score, b.score)
		})
	}

	plan.Tasks = make([]*types.Task, len(candidates))
	for i, c := range candidates {
		plan.Tasks[i] = c.task
	}
	return plan
}

// PlanWeightless builds forced tasks in input order without consulting
// metrics or the recent set
func (p *Planner) PlanWeightless(node types.NodeID, regions []types.RegionLocation, cycle int) Plan {
	now := time.Now()
	plan := Plan{Node: node, Cycle: cycle, Tasks: make([]*types.Task, 0, len(regions))}
	for _, loc := range regions {
		plan.Tasks = append(plan.Tasks, &types.Task{
			ID:        uuid.NewString(),
			Region:    loc.Region,
			Table:     loc.Table,
			Node:      node,
			Cycle:     cycle,
			CreatedAt: now,
		})
	}
	return plan
}

func (p *Planner) eligible(region types.RegionID, w float64, sizeMB int64, recent RecentSet) bool {
	if w <= p.borderWeight || sizeMB <= p.borderSizeMB {
		return false
	}
	return recent == nil || !recent.Contains(region)
}
