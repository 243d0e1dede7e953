// Package goal maps memory utilization onto a target node count.
package goal

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/kubeadapt/pool-autoscaler/internal/config"
	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

// Planner computes the goal node count of a cycle.
type Planner struct {
	logger *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(logger *slog.Logger) *Planner {
	return &Planner{logger: logger}
}

// Utilization is the memory requested by eligible pods divided by the
// memory capacity of schedulable nodes. It is 0 when there is no
// schedulable capacity.
func Utilization(snap *model.ClusterSnapshot) float64 {
	var capacity, requested int64
	for _, n := range snap.Nodes {
		if !n.Unschedulable {
			capacity += n.MemoryCapacityBytes
		}
	}
	if capacity <= 0 {
		return 0
	}
	for _, p := range snap.Pods {
		requested += p.MemoryRequestBytes
	}
	return float64(requested) / float64(capacity)
}

// Utilization exposes the package function for the orchestrator's report.
func (p *Planner) Utilization(snap *model.ClusterSnapshot) float64 {
	return Utilization(snap)
}

// Goal returns the target total node count, always within
// [policy.MinNodes, policy.MaxNodes].
//
// Inside the [MinUtilization, MaxUtilization] band the schedulable node
// count is kept. Outside it the count is scaled so that utilization would
// land on OptimalUtilization. With no schedulable capacity the current
// total is kept.
func (p *Planner) Goal(snap *model.ClusterSnapshot, policy config.Policy) (int, error) {
	if policy.MaxNodes < policy.MinNodes || policy.MinNodes < 0 {
		return 0, apperrors.New(apperrors.ErrGoalFailed, "goal",
			fmt.Sprintf("invalid node bounds [%d, %d]", policy.MinNodes, policy.MaxNodes), nil)
	}
	if policy.OptimalUtilization <= 0 {
		return 0, apperrors.New(apperrors.ErrGoalFailed, "goal",
			fmt.Sprintf("optimal utilization must be positive, got %v", policy.OptimalUtilization), nil)
	}

	schedulable := len(snap.Nodes) - snap.NumUnschedulable()
	util := Utilization(snap)

	var goal int
	switch {
	case !hasCapacity(snap):
		goal = len(snap.Nodes)
	case util >= policy.MinUtilization && util <= policy.MaxUtilization:
		goal = schedulable
	default:
		goal = int(math.Round(float64(schedulable) * util / policy.OptimalUtilization))
	}

	clamped := min(max(goal, policy.MinNodes), policy.MaxNodes)

	p.logger.Debug("computed goal",
		"utilization", util,
		"schedulable", schedulable,
		"raw", goal,
		"goal", clamped,
	)
	return clamped, nil
}

func hasCapacity(snap *model.ClusterSnapshot) bool {
	for _, n := range snap.Nodes {
		if !n.Unschedulable && n.MemoryCapacityBytes > 0 {
			return true
		}
	}
	return false
}
