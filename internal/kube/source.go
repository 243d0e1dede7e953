// Package kube reads cluster state from and writes node schedulability to
// the Kubernetes API.
package kube

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	"github.com/kubeadapt/pool-autoscaler/internal/config"
	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
	"github.com/kubeadapt/pool-autoscaler/internal/planner"
	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

const defaultReadyPollInterval = 5 * time.Second

// Source captures cluster snapshots and patches node schedulability.
type Source struct {
	client      kubernetes.Interface
	clusterName string
	policy      config.Policy
	imageEnv    string
	logger      *slog.Logger

	omit              []labels.Selector
	omitNamespaces    sets.Set[string]
	readyPollInterval time.Duration

	mu       sync.Mutex
	critical sets.Set[string]
}

// NewSource creates a Source. Label entries in policy must parse as
// single-term selectors.
func NewSource(client kubernetes.Interface, clusterName string, policy config.Policy, imageEnv string, logger *slog.Logger) (*Source, error) {
	omit, err := planner.ParseSelectors(policy.OmitLabels)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrConfigInvalid, "kube", "omit labels", err)
	}
	if _, err := planner.ParseSelectors(policy.PreemptibleLabels); err != nil {
		return nil, apperrors.New(apperrors.ErrConfigInvalid, "kube", "preemptible labels", err)
	}
	return &Source{
		client:            client,
		clusterName:       clusterName,
		policy:            policy,
		imageEnv:          imageEnv,
		logger:            logger,
		omit:              omit,
		omitNamespaces:    sets.New(policy.OmitNamespaces...),
		readyPollInterval: defaultReadyPollInterval,
		critical:          sets.New[string](),
	}, nil
}

// ListNodes returns every node in the cluster. PodCount is not filled.
func (s *Source) ListNodes(ctx context.Context) ([]model.Node, error) {
	list, err := s.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrSnapshotFailed, "kube", "list nodes", err)
	}
	nodes := make([]model.Node, 0, len(list.Items))
	for i := range list.Items {
		nodes = append(nodes, nodeToModel(&list.Items[i]))
	}
	return nodes, nil
}

// ListEligiblePods returns the Running and Pending pods that are not in an
// omitted namespace, match no omit label and were not created by the image
// populator.
func (s *Source) ListEligiblePods(ctx context.Context) ([]model.Pod, error) {
	list, err := s.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrSnapshotFailed, "kube", "list pods", err)
	}

	pods := make([]model.Pod, 0, len(list.Items))
	for i := range list.Items {
		pod := &list.Items[i]
		if !s.eligible(pod) {
			continue
		}
		pods = append(pods, podToModel(pod, s.imageEnv))
	}
	return pods, nil
}

func (s *Source) eligible(pod *corev1.Pod) bool {
	switch pod.Status.Phase {
	case corev1.PodRunning, corev1.PodPending:
	default:
		return false
	}
	if s.omitNamespaces.Has(pod.Namespace) {
		return false
	}
	if pod.Labels[model.ComponentLabel] == model.PopulatorComponent {
		return false
	}
	return !planner.MatchesAny(s.omit, pod.Labels)
}

// Snapshot captures nodes and eligible pods once for a cycle. It also
// records which nodes are critical so WriteUnschedulable can refuse them.
func (s *Source) Snapshot(ctx context.Context) (*model.ClusterSnapshot, error) {
	nodes, err := s.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	pods, err := s.ListEligiblePods(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(nodes))
	images := sets.New[string]()
	for _, p := range pods {
		if p.NodeName != "" {
			counts[p.NodeName]++
		}
		if p.ImageRef != "" {
			images.Insert(p.ImageRef)
		}
	}
	for i := range nodes {
		nodes[i].PodCount = counts[nodes[i].Name]
	}

	snap := &model.ClusterSnapshot{
		CycleID:     uuid.New().String(),
		ClusterName: s.clusterName,
		Provider:    DetectProvider(nodes),
		Timestamp:   time.Now().UnixMilli(),
		Nodes:       nodes,
		Pods:        pods,
		ImageRefs:   sets.List(images),
	}

	classification, err := planner.Classify(snap, s.policy.PreemptibleLabels)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrConfigInvalid, "kube", "classify nodes", err)
	}
	s.mu.Lock()
	s.critical = classification.CriticalNames
	s.mu.Unlock()

	s.logger.Debug("captured cluster snapshot",
		"cycle_id", snap.CycleID,
		"nodes", len(nodes),
		"eligible_pods", len(pods),
		"images", len(snap.ImageRefs),
		"provider", snap.Provider,
	)
	return snap, nil
}

// IsCritical reports whether the last snapshot classified name as critical.
func (s *Source) IsCritical(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.critical.Has(name)
}

// WriteUnschedulable patches spec.unschedulable on a node. With dryRun the
// patch is validated server-side but not persisted. Critical nodes from the
// last snapshot are refused with INVARIANT_VIOLATION.
func (s *Source) WriteUnschedulable(ctx context.Context, name string, value, dryRun bool) error {
	if s.IsCritical(name) {
		return apperrors.New(apperrors.ErrInvariantViolation, "kube",
			fmt.Sprintf("refusing to change schedulability of critical node %s", name), nil)
	}

	s.logger.Debug("setting node unschedulable property", "node", name, "value", value, "dry_run", dryRun)

	patch := fmt.Appendf(nil, `{"spec":{"unschedulable":%t}}`, value)
	opts := metav1.PatchOptions{}
	if dryRun {
		opts.DryRun = []string{metav1.DryRunAll}
	}

	_, err := s.client.CoreV1().Nodes().Patch(ctx, name, types.StrategicMergePatchType, patch, opts)
	if err != nil {
		return apperrors.New(apperrors.ErrPatchFailed, "kube",
			fmt.Sprintf("patch node %s unschedulable=%t", name, value), err)
	}
	return nil
}

// WaitForReadyNodes polls until at least want nodes report Ready, the
// timeout elapses or ctx is cancelled.
func (s *Source) WaitForReadyNodes(ctx context.Context, want int, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, s.readyPollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		nodes, err := s.ListNodes(ctx)
		if err != nil {
			s.logger.Warn("listing nodes while waiting for readiness", "error", err)
			return false, nil
		}
		ready := 0
		for _, n := range nodes {
			if n.Ready {
				ready++
			}
		}
		s.logger.Debug("waiting for ready nodes", "ready", ready, "want", want)
		return ready >= want, nil
	})
	if err != nil {
		return fmt.Errorf("wait for %d ready nodes: %w", want, err)
	}
	return nil
}
