package kube

import (
	"strings"

	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

// Well-known provider-specific node labels used as confirmation signals.
const (
	labelEKSNodeGroup    = "eks.amazonaws.com/nodegroup"
	labelGKENodePool     = "cloud.google.com/gke-nodepool"
	labelAKSNodepoolName = "kubernetes.azure.com/agentpool"
)

// Provider names.
const (
	ProviderAWS     = "aws"
	ProviderGCP     = "gcp"
	ProviderAzure   = "azure"
	ProviderUnknown = "unknown"
)

// DetectProvider determines the cloud provider from the first node's
// providerID prefix, falling back to provider-specific labels.
func DetectProvider(nodes []model.Node) string {
	if len(nodes) == 0 {
		return ProviderUnknown
	}
	node := nodes[0]

	switch {
	case strings.HasPrefix(node.ProviderID, "gce://"):
		return ProviderGCP
	case strings.HasPrefix(node.ProviderID, "aws://"):
		return ProviderAWS
	case strings.HasPrefix(node.ProviderID, "azure://"):
		return ProviderAzure
	}

	if _, ok := node.Labels[labelGKENodePool]; ok {
		return ProviderGCP
	}
	if _, ok := node.Labels[labelEKSNodeGroup]; ok {
		return ProviderAWS
	}
	if _, ok := node.Labels[labelAKSNodepoolName]; ok {
		return ProviderAzure
	}
	return ProviderUnknown
}
