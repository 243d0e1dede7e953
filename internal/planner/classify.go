// Package planner decides which non-critical nodes change schedulability in
// a cycle. Everything here is a pure computation over one ClusterSnapshot.
package planner

import (
	"fmt"
	"math/rand/v2"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

// Classification partitions the nodes of a snapshot.
type Classification struct {
	// Nodes holds every node of the snapshot with Critical set.
	Nodes []model.Node
	// CriticalNames holds the names of nodes hosting at least one pod that
	// matches no preemptible selector.
	CriticalNames sets.Set[string]
	// NonCritical holds the nodes eligible for schedulability changes and
	// retirement, in snapshot order until Shuffle is applied.
	NonCritical []model.Node
}

// ParseSelectors turns label entries into selectors. Each entry is a single
// selector term such as "preemptible", "component=singleuser-server" or
// "tier!=system".
func ParseSelectors(entries []string) ([]labels.Selector, error) {
	out := make([]labels.Selector, 0, len(entries))
	for _, e := range entries {
		sel, err := labels.Parse(e)
		if err != nil {
			return nil, fmt.Errorf("parse label entry %q: %w", e, err)
		}
		out = append(out, sel)
	}
	return out, nil
}

// MatchesAny reports whether podLabels intersect the selector set. An empty
// set matches nothing.
func MatchesAny(selectors []labels.Selector, podLabels map[string]string) bool {
	if len(selectors) == 0 {
		return false
	}
	set := labels.Set(podLabels)
	for _, sel := range selectors {
		if sel.Matches(set) {
			return true
		}
	}
	return false
}

// Classify marks every node hosting a non-preemptible eligible pod as
// critical. It is recomputed from the full pod set each cycle.
func Classify(snap *model.ClusterSnapshot, preemptible []string) (Classification, error) {
	selectors, err := ParseSelectors(preemptible)
	if err != nil {
		return Classification{}, err
	}

	critical := sets.New[string]()
	for _, p := range snap.Pods {
		if p.NodeName == "" {
			continue
		}
		if !MatchesAny(selectors, p.Labels) {
			critical.Insert(p.NodeName)
		}
	}

	c := Classification{
		Nodes:         make([]model.Node, 0, len(snap.Nodes)),
		CriticalNames: critical,
	}
	for _, n := range snap.Nodes {
		n.Critical = critical.Has(n.Name)
		c.Nodes = append(c.Nodes, n)
		if !n.Critical {
			c.NonCritical = append(c.NonCritical, n)
		}
	}
	return c, nil
}

// Shuffle randomizes the order of nodes in place. It runs once per cycle,
// before planning, so equal-priority nodes take turns being chosen.
func Shuffle(nodes []model.Node, rng *rand.Rand) {
	rng.Shuffle(len(nodes), func(i, j int) {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	})
}
