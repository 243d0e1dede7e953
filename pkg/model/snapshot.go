package model

// ClusterSnapshot is the node and eligible pod list captured once at the
// start of a cycle. It is never refreshed while the cycle runs.
type ClusterSnapshot struct {
	CycleID     string `json:"cycle_id"`
	ClusterName string `json:"cluster_name"`
	Provider    string `json:"provider"`
	Timestamp   int64  `json:"timestamp"`

	Nodes []Node `json:"nodes"`
	Pods  []Pod  `json:"pods"`

	// ImageRefs is the sorted, de-duplicated set of image references
	// observed on eligible pods.
	ImageRefs []string `json:"image_refs"`
}

// NumUnschedulable returns how many nodes carry the unschedulable flag.
func (s *ClusterSnapshot) NumUnschedulable() int {
	n := 0
	for _, node := range s.Nodes {
		if node.Unschedulable {
			n++
		}
	}
	return n
}

// PodsOnNode counts eligible pods bound to the named node.
func (s *ClusterSnapshot) PodsOnNode(name string) int {
	n := 0
	for _, p := range s.Pods {
		if p.NodeName == name {
			n++
		}
	}
	return n
}
