// Package runner schedules convergence cycles and publishes their results.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
	"github.com/kubeadapt/pool-autoscaler/internal/observability"
	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

// Cycler runs one convergence cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (*model.CycleReport, error)
}

// ReportSender delivers a finished cycle report.
type ReportSender interface {
	Send(ctx context.Context, report *model.CycleReport) error
}

// Options configure a Runner.
type Options struct {
	// Interval between cycles. Zero runs a single cycle.
	Interval       time.Duration
	PushgatewayURL string
	ClusterName    string
}

// Runner executes cycles once or on an interval, and publishes each report
// to the metrics registry, the report sink and the Pushgateway.
type Runner struct {
	cycler  Cycler
	sender  ReportSender
	metrics *observability.Metrics
	state   *StateMachine
	opts    Options
	logger  *slog.Logger

	latest atomic.Pointer[model.CycleReport]
	ready  atomic.Bool
}

// New creates a Runner. sender may be nil.
func New(cycler Cycler, sender ReportSender, metrics *observability.Metrics, state *StateMachine, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		cycler:  cycler,
		sender:  sender,
		metrics: metrics,
		state:   state,
		opts:    opts,
		logger:  logger,
	}
}

// IsReady reports whether a cycle has completed successfully.
func (r *Runner) IsReady() bool {
	return r.ready.Load()
}

// LatestReport returns the most recent cycle report, or nil.
func (r *Runner) LatestReport() *model.CycleReport {
	return r.latest.Load()
}

// Run executes one cycle when Interval is zero. Otherwise it loops until
// ctx is done or a cycle fails fatally; failed cycles back off.
func (r *Runner) Run(ctx context.Context) error {
	r.transition(StateRunning, "started")

	if r.opts.Interval <= 0 {
		return r.doCycle(ctx)
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	err := r.doCycle(ctx)
	for {
		if r.state.State() == StateStopped {
			r.logger.Info("runner stopping", "reason", r.state.StateReason())
			return err
		}
		if ctx.Err() != nil {
			r.transition(StateStopped, "context done")
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			r.transition(StateStopped, "context done")
			return ctx.Err()
		case <-ticker.C:
		}

		switch r.state.State() {
		case StateRunning:
			err = r.doCycle(ctx)
		case StateBackoff:
			if r.state.IsBackoffExpired() {
				err = r.doCycle(ctx)
			} else {
				r.logger.Debug("in backoff, skipping cycle",
					"remaining", r.state.BackoffRemaining(),
					"failures", r.state.Failures())
			}
		}
	}
}

func (r *Runner) doCycle(ctx context.Context) error {
	start := time.Now()
	report, err := r.cycler.RunCycle(ctx)
	elapsed := time.Since(start)

	result := "success"
	switch {
	case err != nil:
		result = "error"
	case report != nil && len(report.ErrorCodes) > 0:
		result = "partial"
	}

	if report != nil {
		r.latest.Store(report)
	}
	if r.metrics != nil {
		observed := report
		if err != nil {
			observed = nil
		}
		r.metrics.ObserveCycle(observed, elapsed, result)
	}

	if err != nil {
		if errors.Is(err, apperrors.ErrCancelled) || errors.Is(err, context.Canceled) {
			r.logger.Info("cycle cancelled", "error", err)
		} else {
			r.logger.Error("cycle failed", "error", err, "duration", elapsed.Round(time.Millisecond))
		}
	} else if report != nil {
		r.ready.Store(true)
		r.logger.Info("cycle completed",
			"cycle_id", report.CycleID,
			"goal", report.Goal,
			"blocked", len(report.Blocked),
			"unblocked", len(report.Unblocked),
			"shutdown", report.ShutdownCount,
			"resized", report.Resized,
			"duration", elapsed.Round(time.Millisecond),
		)
	}

	if report != nil && ctx.Err() == nil {
		r.publish(ctx, report)
	}

	r.state.HandleCycleResult(err)
	r.publishState()
	return err
}

// publish failures are logged and never fail the cycle.
func (r *Runner) publish(ctx context.Context, report *model.CycleReport) {
	if r.sender != nil {
		if err := r.sender.Send(ctx, report); err != nil {
			r.logger.Warn("failed to deliver cycle report", "error", err)
		}
	}
	if r.opts.PushgatewayURL != "" && r.metrics != nil {
		if err := r.metrics.Push(ctx, r.opts.PushgatewayURL, "pool_autoscaler", r.opts.ClusterName); err != nil {
			r.logger.Warn("failed to push metrics", "error", err)
		}
	}
}

func (r *Runner) transition(state State, reason string) {
	r.state.TransitionTo(state, reason)
	r.publishState()
}

func (r *Runner) publishState() {
	if r.metrics == nil {
		return
	}
	current := r.state.State()
	for _, s := range States {
		v := 0.0
		if s == current {
			v = 1
		}
		r.metrics.RunnerState.WithLabelValues(string(s)).Set(v)
	}
}
