package populate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	"k8s.io/utils/ptr"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

func newTestPopulator(client *fake.Clientset) *DaemonSetPopulator {
	p := NewDaemonSetPopulator(client, "kube-system", "registry.k8s.io/pause:3.10",
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestDaemonSetName_StablePerImage(t *testing.T) {
	a := DaemonSetName("gcr.io/jhub/lab:1")
	assert.Equal(t, a, DaemonSetName("gcr.io/jhub/lab:1"))
	assert.NotEqual(t, a, DaemonSetName("gcr.io/jhub/lab:2"))
	assert.Len(t, a, len(namePrefix)+8)
}

func TestPopulate_CreatesDaemonSet(t *testing.T) {
	client := fake.NewSimpleClientset()
	p := newTestPopulator(client)
	ctx := context.Background()

	require.NoError(t, p.Populate(ctx, "prod", "gcr.io/jhub/lab:1"))

	ds, err := client.AppsV1().DaemonSets("kube-system").Get(ctx, DaemonSetName("gcr.io/jhub/lab:1"), metav1.GetOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.PopulatorComponent, ds.Spec.Template.Labels[model.ComponentLabel])
	assert.Equal(t, "prod", ds.Annotations[annotationCluster])

	spec := ds.Spec.Template.Spec
	require.Len(t, spec.InitContainers, 1)
	assert.Equal(t, "gcr.io/jhub/lab:1", spec.InitContainers[0].Image)
	assert.Equal(t, []string{"sh", "-c", "exit 0"}, spec.InitContainers[0].Command)
	require.Len(t, spec.Containers, 1)
	assert.Equal(t, "registry.k8s.io/pause:3.10", spec.Containers[0].Image)
	assert.Equal(t, ptr.To[int64](0), spec.TerminationGracePeriodSeconds)
	assert.Equal(t, ptr.To[int32](1), ds.Spec.RevisionHistoryLimit)
}

func TestPopulate_UpdatesExistingDaemonSet(t *testing.T) {
	client := fake.NewSimpleClientset()
	p := newTestPopulator(client)
	ctx := context.Background()
	image := "gcr.io/jhub/lab:1"

	require.NoError(t, p.Populate(ctx, "prod", image))
	p.now = func() time.Time { return time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC) }
	require.NoError(t, p.Populate(ctx, "prod", image))

	list, err := client.AppsV1().DaemonSets("kube-system").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "2026-03-02T08:30:00Z", list.Items[0].Spec.Template.Annotations[annotationRequested])
}

func TestPopulate_CreateFailure(t *testing.T) {
	client := fake.NewSimpleClientset()
	client.PrependReactor("create", "daemonsets", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, fmt.Errorf("quota exceeded")
	})
	p := newTestPopulator(client)

	err := p.Populate(context.Background(), "prod", "gcr.io/jhub/lab:1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrPopulateFailed))
}
