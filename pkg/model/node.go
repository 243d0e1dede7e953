package model

// Node is the per-cycle view of a Kubernetes node. PodCount is derived from
// the eligible pods of the snapshot, not from the node object.
type Node struct {
	Name                string            `json:"name"`
	ProviderID          string            `json:"provider_id"`
	Unschedulable       bool              `json:"unschedulable"`
	Ready               bool              `json:"ready"`
	MemoryCapacityBytes int64             `json:"memory_capacity_bytes"`
	PodCount            int               `json:"pod_count"`
	Critical            bool              `json:"critical"`
	Labels              map[string]string `json:"labels"`
}

// NodeNames returns the names of nodes in order.
func NodeNames(nodes []Node) []string {
	if len(nodes) == 0 {
		return nil
	}
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return names
}
