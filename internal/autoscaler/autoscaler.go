// Package autoscaler runs one convergence cycle: observe the cluster, pick
// the schedulability plan, grow the pool when demand exceeds it and shut down
// nodes that have drained.
package autoscaler

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubeadapt/pool-autoscaler/internal/config"
	"github.com/kubeadapt/pool-autoscaler/internal/confirm"
	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
	"github.com/kubeadapt/pool-autoscaler/internal/observability"
	"github.com/kubeadapt/pool-autoscaler/internal/planner"
	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

// SnapshotSource observes the cluster and writes node schedulability.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*model.ClusterSnapshot, error)
	WriteUnschedulable(ctx context.Context, name string, value, dryRun bool) error
}

// GoalPlanner computes the target node count for a snapshot.
type GoalPlanner interface {
	Goal(snap *model.ClusterSnapshot, policy config.Policy) (int, error)
}

// UtilizationReporter is optionally implemented by a GoalPlanner to expose
// the utilization behind its goal.
type UtilizationReporter interface {
	Utilization(snap *model.ClusterSnapshot) float64
}

// ClusterController changes the size of the managed node pool.
type ClusterController interface {
	ResizeTo(ctx context.Context, target int) error
	ShutdownNode(ctx context.Context, name string) error
}

// ImagePopulator pre-pulls an image on every node.
type ImagePopulator interface {
	Populate(ctx context.Context, clusterID, image string) error
}

// Notifier posts human-readable summaries.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// ReadinessWaiter blocks until enough nodes report Ready.
type ReadinessWaiter interface {
	WaitForReadyNodes(ctx context.Context, want int, timeout time.Duration) error
}

// Mode selects which side effects are simulated.
type Mode struct {
	DryRunKube  bool
	DryRunCloud bool
}

// Options tune a cycle.
type Options struct {
	Policy       config.Policy
	Mode         Mode
	WarmUp       time.Duration
	ReadyTimeout time.Duration
}

// Deps are the collaborators of an Autoscaler. Source, Goals and Gate are
// required. A nil Cluster behaves as a simulated cloud; nil Populator,
// Notifier and Waiter skip their steps.
type Deps struct {
	Source    SnapshotSource
	Goals     GoalPlanner
	Cluster   ClusterController
	Populator ImagePopulator
	Notifier  Notifier
	Waiter    ReadinessWaiter
	Gate      confirm.Gate
	Metrics   *observability.Metrics
}

// Autoscaler drives the cluster towards its goal one cycle at a time.
type Autoscaler struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	errs   *apperrors.ErrorCollector
	clock  apperrors.Clock

	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Autoscaler.
func New(deps Deps, opts Options, logger *slog.Logger) *Autoscaler {
	if deps.Gate == nil {
		deps.Gate = confirm.Unattended{}
	}
	clock := apperrors.RealClock{}
	return &Autoscaler{
		deps:   deps,
		opts:   opts,
		logger: logger,
		errs:   apperrors.NewErrorCollector(clock),
		clock:  clock,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep:  sleepContext,
	}
}

// Errors returns the non-fatal failures recorded by the last cycle.
func (a *Autoscaler) Errors() []apperrors.AutoscalerError {
	return a.errs.Errors()
}

// RunCycle performs one observe, plan, grow and shrink pass. Per-node and
// per-call failures are recorded on the report and do not stop the cycle.
// Invariant violations, configuration errors and cancellation do; the
// partial report is returned alongside the error.
func (a *Autoscaler) RunCycle(ctx context.Context) (*model.CycleReport, error) {
	a.errs.Clear()
	report := &model.CycleReport{
		StartedAt:   a.clock.Now().UnixMilli(),
		DryRunKube:  a.opts.Mode.DryRunKube,
		DryRunCloud: a.opts.Mode.DryRunCloud,
	}
	defer func() {
		report.FinishedAt = a.clock.Now().UnixMilli()
		report.ErrorCodes = a.errs.Codes()
	}()

	// Observe
	snap, err := a.deps.Source.Snapshot(ctx)
	if err != nil {
		return report, err
	}
	report.CycleID = snap.CycleID
	report.ClusterName = snap.ClusterName
	report.Provider = snap.Provider

	a.logger.Info("scaling cluster", "cluster", snap.ClusterName, "cycle_id", snap.CycleID)

	goal, err := a.deps.Goals.Goal(snap, a.opts.Policy)
	if err != nil {
		return report, err
	}
	if goal < a.opts.Policy.MinNodes || goal > a.opts.Policy.MaxNodes {
		return report, apperrors.New(apperrors.ErrInvariantViolation, "autoscaler",
			fmt.Sprintf("goal %d outside [%d, %d]", goal, a.opts.Policy.MinNodes, a.opts.Policy.MaxNodes), nil)
	}

	class, err := planner.Classify(snap, a.opts.Policy.PreemptibleLabels)
	if err != nil {
		return report, apperrors.New(apperrors.ErrConfigInvalid, "autoscaler", "classify nodes", err)
	}
	planner.Shuffle(class.NonCritical, a.rng)

	total := len(snap.Nodes)
	report.TotalNodes = total
	report.CriticalNodes = class.CriticalNames.Len()
	report.UnschedulableNodes = snap.NumUnschedulable()
	report.Goal = goal
	report.NumberUnschedulable = planner.NumberUnschedulable(total, goal)
	if u, ok := a.deps.Goals.(UtilizationReporter); ok {
		report.Utilization = u.Utilization(snap)
	}

	a.logger.Info("observed cluster",
		"total_nodes", total,
		"unschedulable", report.UnschedulableNodes,
		"critical", report.CriticalNodes,
	)
	a.logger.Info(fmt.Sprintf("Recommending total %d nodes for service", goal))

	// Plan and apply
	plan, err := planner.PlanSchedulability(class.NonCritical, total, goal, nil)
	if err != nil {
		return report, err
	}
	report.Plan = plan

	if err := a.applyPlan(ctx, snap, plan, report); err != nil {
		return report, err
	}

	// Grow
	if goal > total {
		if err := a.grow(ctx, snap, goal, report); err != nil {
			return report, err
		}
	}

	// Shrink
	restored := sets.New(report.Unblocked...)
	if err := a.shrink(ctx, class.NonCritical, restored, report); err != nil {
		return report, err
	}

	return report, nil
}

func (a *Autoscaler) applyPlan(ctx context.Context, snap *model.ClusterSnapshot, plan model.Plan, report *model.CycleReport) error {
	prompt := fmt.Sprintf("Updating unschedulable flags to ensure %d nodes are unschedulable", report.NumberUnschedulable)
	ok, err := a.deps.Gate.Confirm(ctx, prompt, true)
	if err != nil {
		return err
	}
	if !ok {
		a.logger.Info("schedulability update declined")
		return nil
	}
	report.PlanApplied = true

	report.Blocked, err = a.writeAll(ctx, plan.ToBlock, true)
	if err != nil {
		return err
	}
	report.Unblocked, err = a.writeAll(ctx, plan.ToUnblock, false)
	if err != nil {
		return err
	}

	blocked, unblocked := len(report.Blocked), len(report.Unblocked)
	a.logger.Info("updated schedulability", "blocked", blocked, "unblocked", unblocked)
	if blocked != unblocked && !a.opts.Mode.DryRunKube {
		a.notify(ctx, fmt.Sprintf("%d nodes newly blocked, %d nodes newly unblocked", blocked, unblocked))
	}

	if unblocked > 0 && !a.opts.Mode.DryRunKube {
		a.populateAll(ctx, snap)
	}
	return nil
}

// writeAll returns the names that were written successfully.
func (a *Autoscaler) writeAll(ctx context.Context, names []string, unschedulable bool) ([]string, error) {
	done := make([]string, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return done, cancelled(err)
		}
		err := a.deps.Source.WriteUnschedulable(ctx, name, unschedulable, a.opts.Mode.DryRunKube)
		if err != nil {
			if apperrors.IsFatal(err) {
				return done, err
			}
			a.record(err, apperrors.ErrPatchFailed, "kube")
			a.logger.Warn("failed to update node", "node", name, "unschedulable", unschedulable, "error", err)
			continue
		}
		a.logger.Debug("updated node", "node", name, "unschedulable", unschedulable)
		done = append(done, name)
	}
	return done, nil
}

func (a *Autoscaler) grow(ctx context.Context, snap *model.ClusterSnapshot, goal int, report *model.CycleReport) error {
	a.logger.Info(fmt.Sprintf("Resize the cluster to %d nodes to satisfy the demand", goal))

	ok, err := a.deps.Gate.Confirm(ctx, fmt.Sprintf("Resizing up to: %d nodes", goal), true)
	if err != nil {
		return err
	}
	if !ok {
		a.logger.Info("resize declined")
		return nil
	}
	report.ResizeTarget = goal

	if a.opts.Mode.DryRunCloud || a.deps.Cluster == nil {
		a.logger.Info("dry run: skipping resize", "target", goal)
		return nil
	}

	if err := a.deps.Cluster.ResizeTo(ctx, goal); err != nil {
		if apperrors.IsFatal(err) {
			return err
		}
		a.record(err, apperrors.ErrResizeFailed, "cloud")
		a.logger.Error("resize failed", "target", goal, "error", err)
		return nil
	}
	report.Resized = true
	a.notify(ctx, fmt.Sprintf("Cluster resized to %d nodes to satisfy the demand", goal))

	a.logger.Info("waiting for new nodes before populating", "warm_up", a.opts.WarmUp)
	if err := a.sleep(ctx, a.opts.WarmUp); err != nil {
		return cancelled(err)
	}

	if a.deps.Waiter != nil && a.opts.ReadyTimeout > 0 {
		if err := a.deps.Waiter.WaitForReadyNodes(ctx, goal, a.opts.ReadyTimeout); err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			a.logger.Warn("nodes not ready after warm-up, populating anyway", "want", goal, "error", err)
		}
	}

	if !a.opts.Mode.DryRunKube {
		a.populateAll(ctx, snap)
	}
	return nil
}

// shrink shuts down unschedulable nodes with no eligible pods. Nodes restored
// to scheduling earlier in the cycle are skipped.
func (a *Autoscaler) shrink(ctx context.Context, nonCritical []model.Node, restored sets.Set[string], report *model.CycleReport) error {
	count := 0
	for _, n := range nonCritical {
		if !n.Unschedulable || n.PodCount != 0 || restored.Has(n.Name) {
			continue
		}
		report.ShutdownCandidates = append(report.ShutdownCandidates, n.Name)

		ok, err := a.deps.Gate.Confirm(ctx, fmt.Sprintf("Shutting down empty node: %s", n.Name), true)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if a.opts.Mode.DryRunCloud || a.deps.Cluster == nil {
			a.logger.Info("dry run: skipping shutdown", "node", n.Name)
			continue
		}
		a.logger.Info(fmt.Sprintf("Shutting down empty node: %s", n.Name))
		if err := a.deps.Cluster.ShutdownNode(ctx, n.Name); err != nil {
			if apperrors.IsFatal(err) {
				return err
			}
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			a.record(err, apperrors.ErrShutdownFailed, "cloud")
			a.logger.Error("shutdown failed", "node", n.Name, "error", err)
			continue
		}
		count++
	}

	report.ShutdownCount = count
	if count > 0 {
		msg := fmt.Sprintf("Shut down %d empty nodes", count)
		a.logger.Info(msg)
		a.notify(ctx, msg)
	}
	return nil
}

func (a *Autoscaler) populateAll(ctx context.Context, snap *model.ClusterSnapshot) {
	if a.deps.Populator == nil || len(snap.ImageRefs) == 0 {
		return
	}
	start := time.Now()
	for _, image := range snap.ImageRefs {
		if err := a.deps.Populator.Populate(ctx, snap.ClusterName, image); err != nil {
			a.record(err, apperrors.ErrPopulateFailed, "populate")
			a.logger.Warn("populate failed", "image", image, "error", err)
		}
	}
	if a.deps.Metrics != nil {
		a.deps.Metrics.PopulateDuration.Observe(time.Since(start).Seconds())
	}
}

// notify failures never affect the cycle.
func (a *Autoscaler) notify(ctx context.Context, text string) {
	if a.deps.Notifier == nil {
		return
	}
	if err := a.deps.Notifier.Notify(ctx, text); err != nil {
		a.record(err, apperrors.ErrNotifyFailed, "notify")
		a.logger.Warn("notification failed", "error", err)
	}
}

// record keeps err on the cycle's error list. Untyped errors are filed under
// fallback.
func (a *Autoscaler) record(err error, fallback apperrors.Code, component string) {
	var ae *apperrors.AutoscalerError
	if !stderrors.As(err, &ae) {
		ae = apperrors.New(fallback, component, err.Error(), err)
	}
	a.errs.Report(*ae)
	if a.deps.Metrics != nil {
		a.deps.Metrics.ExternalCallErrorsTotal.WithLabelValues(ae.Component).Inc()
	}
}

func cancelled(err error) error {
	return apperrors.New(apperrors.ErrCancelledCode, "autoscaler", "cycle interrupted", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
