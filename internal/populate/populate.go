// Package populate pre-pulls container images onto every node so that pods
// landing on freshly added or unblocked capacity start quickly.
package populate

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

const (
	namePrefix          = "image-populator-"
	annotationImage     = "pool-autoscaler.kubeadapt.io/image"
	annotationCluster   = "pool-autoscaler.kubeadapt.io/cluster"
	annotationRequested = "pool-autoscaler.kubeadapt.io/requested-at"
	labelManagedBy      = "app.kubernetes.io/managed-by"
	managedByValue      = "pool-autoscaler"
)

// DaemonSetPopulator keeps one DaemonSet per image. Its init container runs
// the image once, which makes the kubelet pull it, and a pause container
// keeps the pod alive so that new nodes are warmed as they join.
type DaemonSetPopulator struct {
	client     kubernetes.Interface
	namespace  string
	pauseImage string
	logger     *slog.Logger
	now        func() time.Time
}

// NewDaemonSetPopulator creates a populator writing to namespace.
func NewDaemonSetPopulator(client kubernetes.Interface, namespace, pauseImage string, logger *slog.Logger) *DaemonSetPopulator {
	return &DaemonSetPopulator{
		client:     client,
		namespace:  namespace,
		pauseImage: pauseImage,
		logger:     logger,
		now:        time.Now,
	}
}

// DaemonSetName returns the DaemonSet name used for image.
func DaemonSetName(image string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(image))
	return fmt.Sprintf("%s%08x", namePrefix, h.Sum32())
}

// Populate creates or updates the DaemonSet warming image.
func (p *DaemonSetPopulator) Populate(ctx context.Context, clusterID, image string) error {
	desired := p.daemonSet(clusterID, image)
	dsClient := p.client.AppsV1().DaemonSets(p.namespace)

	_, err := dsClient.Create(ctx, desired, metav1.CreateOptions{})
	if err == nil {
		p.logger.Info("populating image", "image", image, "daemonset", desired.Name)
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return apperrors.New(apperrors.ErrPopulateFailed, "populate",
			fmt.Sprintf("create daemonset for %s", image), err)
	}

	existing, err := dsClient.Get(ctx, desired.Name, metav1.GetOptions{})
	if err != nil {
		return apperrors.New(apperrors.ErrPopulateFailed, "populate",
			fmt.Sprintf("get daemonset %s", desired.Name), err)
	}
	existing.Labels = desired.Labels
	existing.Annotations = desired.Annotations
	existing.Spec.Template = desired.Spec.Template

	if _, err := dsClient.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		return apperrors.New(apperrors.ErrPopulateFailed, "populate",
			fmt.Sprintf("update daemonset %s", desired.Name), err)
	}
	p.logger.Info("re-populating image", "image", image, "daemonset", desired.Name)
	return nil
}

func (p *DaemonSetPopulator) daemonSet(clusterID, image string) *appsv1.DaemonSet {
	name := DaemonSetName(image)
	selector := map[string]string{
		model.ComponentLabel: model.PopulatorComponent,
		"name":               name,
	}
	labels := map[string]string{
		model.ComponentLabel: model.PopulatorComponent,
		"name":               name,
		labelManagedBy:       managedByValue,
	}
	annotations := map[string]string{
		annotationImage:   image,
		annotationCluster: clusterID,
	}

	small := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse("1m"),
			corev1.ResourceMemory: resource.MustParse("8Mi"),
		},
	}

	return &appsv1.DaemonSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   p.namespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: appsv1.DaemonSetSpec{
			Selector:             &metav1.LabelSelector{MatchLabels: selector},
			RevisionHistoryLimit: ptr.To[int32](1),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
					Annotations: map[string]string{
						annotationImage:     image,
						annotationRequested: p.now().UTC().Format(time.RFC3339),
					},
				},
				Spec: corev1.PodSpec{
					TerminationGracePeriodSeconds: ptr.To[int64](0),
					AutomountServiceAccountToken:  ptr.To(false),
					InitContainers: []corev1.Container{{
						Name:            "pull",
						Image:           image,
						Command:         []string{"sh", "-c", "exit 0"},
						ImagePullPolicy: corev1.PullIfNotPresent,
						Resources:       small,
					}},
					Containers: []corev1.Container{{
						Name:      "pause",
						Image:     p.pauseImage,
						Resources: small,
					}},
					Tolerations: []corev1.Toleration{{Operator: corev1.TolerationOpExists}},
				},
			},
		},
	}
}
