package model

// CycleReport records what one convergence cycle decided and did.
type CycleReport struct {
	CycleID     string `json:"cycle_id"`
	ClusterName string `json:"cluster_name"`
	Provider    string `json:"provider"`
	StartedAt   int64  `json:"started_at"`
	FinishedAt  int64  `json:"finished_at"`

	DryRunKube  bool `json:"dry_run_kube"`
	DryRunCloud bool `json:"dry_run_cloud"`

	TotalNodes          int     `json:"total_nodes"`
	CriticalNodes       int     `json:"critical_nodes"`
	UnschedulableNodes  int     `json:"unschedulable_nodes"`
	Goal                int     `json:"goal"`
	Utilization         float64 `json:"utilization"`
	NumberUnschedulable int     `json:"number_unschedulable"`

	Plan        Plan     `json:"plan"`
	PlanApplied bool     `json:"plan_applied"`
	Blocked     []string `json:"blocked"`
	Unblocked   []string `json:"unblocked"`

	ResizeTarget int  `json:"resize_target,omitempty"`
	Resized      bool `json:"resized"`

	ShutdownCandidates []string `json:"shutdown_candidates"`
	ShutdownCount      int      `json:"shutdown_count"`

	ErrorCodes []string `json:"error_codes,omitempty"`
}
