package planner

import (
	"container/heap"
	"fmt"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

// PriorityFunc scores a node for blocking. Lower scores are blocked first.
type PriorityFunc func(model.Node) float64

// ByPodCount is the default priority: emptier nodes are excluded first.
func ByPodCount(n model.Node) float64 {
	return float64(n.PodCount)
}

// NumberUnschedulable is how many non-critical nodes must end the cycle
// unschedulable for the cluster to shrink to goal.
func NumberUnschedulable(totalNodes, goal int) int {
	return max(totalNodes-goal, 0)
}

type candidate struct {
	priority float64
	position int
	node     model.Node
}

type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].position < h[j].position
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(candidate))
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// PlanSchedulability picks which nodes of nonCritical to block or unblock so
// that max(totalNodes-goal, 0) of them end up unschedulable.
//
// nonCritical must already be shuffled; its order breaks priority ties.
// The lowest-priority nodes are popped first: a popped schedulable node is
// blocked, a popped unschedulable node already satisfies the requirement.
// Every node left in the queue that is unschedulable is unblocked. A nil
// priority uses ByPodCount.
func PlanSchedulability(nonCritical []model.Node, totalNodes, goal int, priority PriorityFunc) (model.Plan, error) {
	if totalNodes < 0 || goal < 0 {
		return model.Plan{}, fmt.Errorf("planner: negative input totalNodes=%d goal=%d", totalNodes, goal)
	}
	if priority == nil {
		priority = ByPodCount
	}

	h := make(candidateHeap, 0, len(nonCritical))
	for i, n := range nonCritical {
		if n.Critical {
			return model.Plan{}, apperrors.New(apperrors.ErrInvariantViolation, "planner",
				fmt.Sprintf("critical node %s passed to the schedulability planner", n.Name), nil)
		}
		h = append(h, candidate{priority: priority(n), position: i, node: n})
	}
	heap.Init(&h)

	var plan model.Plan
	for range NumberUnschedulable(totalNodes, goal) {
		if h.Len() == 0 {
			break
		}
		c := heap.Pop(&h).(candidate)
		if !c.node.Unschedulable {
			plan.ToBlock = append(plan.ToBlock, c.node.Name)
		}
	}

	for h.Len() > 0 {
		c := heap.Pop(&h).(candidate)
		if c.node.Unschedulable {
			plan.ToUnblock = append(plan.ToUnblock, c.node.Name)
		}
	}

	return plan, nil
}
