package kube

import (
	corev1 "k8s.io/api/core/v1"

	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

// nodeToModel converts a Kubernetes Node. PodCount and Critical are left
// for the snapshot to fill.
func nodeToModel(node *corev1.Node) model.Node {
	return model.Node{
		Name:                node.Name,
		ProviderID:          node.Spec.ProviderID,
		Unschedulable:       node.Spec.Unschedulable,
		Ready:               nodeReady(node.Status.Conditions),
		MemoryCapacityBytes: quantityValue(node.Status.Capacity, corev1.ResourceMemory),
		Labels:              node.Labels,
	}
}

// podToModel converts a Kubernetes Pod. The memory request is the sum over
// regular containers. The image reference is read from the imageEnv
// variable of the first container, or is the first container's image when
// imageEnv is empty.
func podToModel(pod *corev1.Pod, imageEnv string) model.Pod {
	p := model.Pod{
		Name:      pod.Name,
		Namespace: pod.Namespace,
		NodeName:  pod.Spec.NodeName,
		Phase:     string(pod.Status.Phase),
		Labels:    pod.Labels,
	}

	for _, c := range pod.Spec.Containers {
		p.MemoryRequestBytes += quantityValue(c.Resources.Requests, corev1.ResourceMemory)
	}

	if len(pod.Spec.Containers) > 0 {
		first := pod.Spec.Containers[0]
		if imageEnv == "" {
			p.ImageRef = first.Image
		} else {
			for _, e := range first.Env {
				if e.Name == imageEnv && e.Value != "" {
					p.ImageRef = e.Value
					break
				}
			}
		}
	}

	return p
}

// nodeReady returns true if the node has a Ready condition with status True.
func nodeReady(conditions []corev1.NodeCondition) bool {
	for _, c := range conditions {
		if c.Type == corev1.NodeReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

// quantityValue extracts the int64 Value() from a resource in a ResourceList.
func quantityValue(rl corev1.ResourceList, name corev1.ResourceName) int64 {
	q, ok := rl[name]
	if !ok {
		return 0
	}
	return q.Value()
}
