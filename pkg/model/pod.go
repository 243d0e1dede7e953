package model

// Pod phases that count towards cluster demand.
const (
	PodPhaseRunning = "Running"
	PodPhasePending = "Pending"
)

// Pod is the per-cycle view of a Kubernetes pod.
type Pod struct {
	Name               string            `json:"name"`
	Namespace          string            `json:"namespace"`
	NodeName           string            `json:"node_name"`
	Phase              string            `json:"phase"`
	Labels             map[string]string `json:"labels"`
	MemoryRequestBytes int64             `json:"memory_request_bytes"`

	// ImageRef is the image this pod asks nodes to have warm, if any.
	ImageRef string `json:"image_ref,omitempty"`
}

// Pods created by the image populator carry this label. They are never
// eligible, so warming a node never makes it critical.
const (
	ComponentLabel     = "app.kubernetes.io/component"
	PopulatorComponent = "image-populator"
)
