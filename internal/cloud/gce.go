// Package cloud drives the managed instance group behind the node pool.
package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
)

// GCEController resizes and shrinks the managed instance group whose name
// contains a configured segment. Requests are fire-and-forget: success
// means Compute Engine accepted the operation.
type GCEController struct {
	svc     *compute.Service
	project string
	zone    string
	segment string
	logger  *slog.Logger

	mu      sync.Mutex
	manager string
}

// NewGCEController creates a controller using Application Default
// Credentials unless opts say otherwise.
func NewGCEController(ctx context.Context, project, zone, segment string, logger *slog.Logger, opts ...option.ClientOption) (*GCEController, error) {
	if project == "" || zone == "" {
		return nil, apperrors.New(apperrors.ErrConfigInvalid, "cloud",
			fmt.Sprintf("project and zone are required, got project=%q zone=%q", project, zone), nil)
	}
	svc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrConfigInvalid, "cloud", "create compute client", err)
	}
	return &GCEController{
		svc:     svc,
		project: project,
		zone:    zone,
		segment: segment,
		logger:  logger,
	}, nil
}

// ManagerName returns the instance group manager matching the segment,
// looking it up on first use.
func (c *GCEController) ManagerName(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manager != "" {
		return c.manager, nil
	}

	var matches []string
	err := c.svc.InstanceGroupManagers.List(c.project, c.zone).Pages(ctx, func(page *compute.InstanceGroupManagerList) error {
		for _, igm := range page.Items {
			if strings.Contains(igm.Name, c.segment) {
				matches = append(matches, igm.Name)
			}
		}
		return nil
	})
	if err != nil {
		return "", apperrors.New(apperrors.ErrResizeFailed, "cloud", "list instance group managers", err)
	}

	switch len(matches) {
	case 0:
		return "", apperrors.New(apperrors.ErrContextNotFound, "cloud",
			fmt.Sprintf("no instance group manager in %s/%s matches %q", c.project, c.zone, c.segment), nil)
	case 1:
		c.manager = matches[0]
		c.logger.Info("using instance group manager", "name", c.manager, "zone", c.zone)
		return c.manager, nil
	default:
		return "", apperrors.New(apperrors.ErrContextAmbiguous, "cloud",
			fmt.Sprintf("cloud context %q is ambiguous, matches %s", c.segment, strings.Join(matches, ", ")), nil)
	}
}

// ResizeTo sets the target size of the instance group.
func (c *GCEController) ResizeTo(ctx context.Context, target int) error {
	igm, err := c.ManagerName(ctx)
	if err != nil {
		return err
	}

	op, err := c.svc.InstanceGroupManagers.Resize(c.project, c.zone, igm, int64(target)).Context(ctx).Do()
	if err != nil {
		return apperrors.New(apperrors.ErrResizeFailed, "cloud",
			fmt.Sprintf("resize %s to %d", igm, target), err)
	}
	c.logger.Info("resize requested", "manager", igm, "target", target, "operation", op.Name)
	return nil
}

// ShutdownNode deletes the instance backing a node. The group shrinks by
// one instead of recreating it.
func (c *GCEController) ShutdownNode(ctx context.Context, name string) error {
	igm, err := c.ManagerName(ctx)
	if err != nil {
		return err
	}

	req := &compute.InstanceGroupManagersDeleteInstancesRequest{
		Instances: []string{fmt.Sprintf("zones/%s/instances/%s", c.zone, name)},
	}
	op, err := c.svc.InstanceGroupManagers.DeleteInstances(c.project, c.zone, igm, req).Context(ctx).Do()
	if err != nil {
		return apperrors.New(apperrors.ErrShutdownFailed, "cloud",
			fmt.Sprintf("delete instance %s from %s", name, igm), err)
	}
	c.logger.Info("shutdown requested", "node", name, "manager", igm, "operation", op.Name)
	return nil
}
