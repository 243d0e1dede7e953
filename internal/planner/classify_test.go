package planner

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

func TestMatchesAny(t *testing.T) {
	selectors, err := ParseSelectors([]string{"preemptible", "component=singleuser-server"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		labels map[string]string
		want   bool
	}{
		{"key present", map[string]string{"preemptible": "yes"}, true},
		{"key=value match", map[string]string{"component": "singleuser-server"}, true},
		{"value mismatch", map[string]string{"component": "hub"}, false},
		{"no labels", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesAny(selectors, tt.labels))
		})
	}

	assert.False(t, MatchesAny(nil, map[string]string{"preemptible": ""}), "empty selector set matches nothing")
}

func TestParseSelectors_Invalid(t *testing.T) {
	_, err := ParseSelectors([]string{"=broken"})
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	snap := &model.ClusterSnapshot{
		Nodes: []model.Node{
			{Name: "hub-node"},
			{Name: "user-node"},
			{Name: "empty-node", Unschedulable: true},
		},
		Pods: []model.Pod{
			{Name: "hub", NodeName: "hub-node", Labels: map[string]string{"component": "hub"}},
			{Name: "jupyter-alice", NodeName: "user-node", Labels: map[string]string{"component": "singleuser-server"}},
			{Name: "jupyter-bob", NodeName: "hub-node", Labels: map[string]string{"component": "singleuser-server"}},
			{Name: "pending", Labels: map[string]string{"component": "hub"}},
		},
	}

	c, err := Classify(snap, []string{"component=singleuser-server"})
	require.NoError(t, err)

	assert.True(t, c.CriticalNames.Equal(sets.New("hub-node")))
	assert.Equal(t, []string{"user-node", "empty-node"}, model.NodeNames(c.NonCritical))
	require.Len(t, c.Nodes, 3)
	assert.True(t, c.Nodes[0].Critical)
	assert.False(t, c.Nodes[1].Critical)
	for _, n := range c.NonCritical {
		assert.False(t, n.Critical)
	}
	assert.False(t, snap.Nodes[0].Critical, "snapshot nodes must not be mutated")
}

func TestClassify_NoPreemptibleLabelsMakesEveryHostCritical(t *testing.T) {
	snap := &model.ClusterSnapshot{
		Nodes: []model.Node{{Name: "a"}, {Name: "b"}},
		Pods:  []model.Pod{{Name: "p", NodeName: "a"}},
	}

	c, err := Classify(snap, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, model.NodeNames(c.NonCritical))
}

func TestClassify_InvalidLabel(t *testing.T) {
	_, err := Classify(&model.ClusterSnapshot{}, []string{"a b"})
	require.Error(t, err)
}

func TestShuffle_PermutesDeterministicallyForSeed(t *testing.T) {
	nodes := []model.Node{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"}}
	first := append([]model.Node(nil), nodes...)
	second := append([]model.Node(nil), nodes...)

	Shuffle(first, rand.New(rand.NewPCG(1, 2)))
	Shuffle(second, rand.New(rand.NewPCG(1, 2)))

	assert.Equal(t, first, second)
	assert.ElementsMatch(t, model.NodeNames(nodes), model.NodeNames(first))
}
