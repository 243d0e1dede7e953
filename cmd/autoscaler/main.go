package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"
	"k8s.io/client-go/kubernetes"

	"github.com/kubeadapt/pool-autoscaler/internal/autoscaler"
	"github.com/kubeadapt/pool-autoscaler/internal/cloud"
	"github.com/kubeadapt/pool-autoscaler/internal/config"
	"github.com/kubeadapt/pool-autoscaler/internal/confirm"
	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
	"github.com/kubeadapt/pool-autoscaler/internal/goal"
	"github.com/kubeadapt/pool-autoscaler/internal/health"
	"github.com/kubeadapt/pool-autoscaler/internal/kube"
	"github.com/kubeadapt/pool-autoscaler/internal/notify"
	"github.com/kubeadapt/pool-autoscaler/internal/observability"
	"github.com/kubeadapt/pool-autoscaler/internal/planner"
	"github.com/kubeadapt/pool-autoscaler/internal/populate"
	"github.com/kubeadapt/pool-autoscaler/internal/runner"
	"github.com/kubeadapt/pool-autoscaler/internal/transport"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Configuration: environment first, flags override.
	cfg := config.Load()
	cfg.Version = version

	fs := pflag.NewFlagSet("pool-autoscaler", pflag.ContinueOnError)
	config.BindFlags(fs, &cfg)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	cfg.Finalize()

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	// 2. Context with signal handling.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Kubernetes access.
	restCfg, clusterName, err := kube.BuildConfig(cfg.Kubeconfig, cfg.Context, cfg.InCluster, logger)
	if err != nil {
		logger.Error("failed to select cluster", "error", err)
		return 1
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		logger.Error("failed to create kubernetes client", "error", err)
		return 1
	}
	source, err := kube.NewSource(client, clusterName, cfg.Policy, cfg.ImageEnvVar, logger)
	if err != nil {
		logger.Error("invalid workload filters", "error", err)
		return 1
	}

	if cfg.ShowStatus {
		return showStatus(ctx, source, cfg.PreemptibleLabels, logger)
	}

	logger.Info("pool-autoscaler starting",
		"version", cfg.Version,
		"cluster", clusterName,
		"dry_run_kube", cfg.DryRunKube,
		"dry_run_cloud", cfg.DryRunCloud,
		"interval", cfg.Interval,
		"min_nodes", cfg.MinNodes,
		"max_nodes", cfg.MaxNodes,
	)

	// 4. Shared infrastructure.
	metrics := observability.NewMetrics()

	deps := autoscaler.Deps{
		Source:    source,
		Goals:     goal.NewPlanner(logger),
		Populator: populate.NewDaemonSetPopulator(client, cfg.PopulatorNamespace, cfg.PopulatorPauseImage, logger),
		Notifier: notify.New(notify.SlackOptions{
			Token:      cfg.SlackToken,
			Channel:    cfg.SlackChannel,
			WebhookURL: cfg.SlackWebhookURL,
			Prefix:     clusterName,
		}, logger),
		Waiter:  source,
		Gate:    confirm.Unattended{},
		Metrics: metrics,
	}
	if !cfg.AssumeYes {
		deps.Gate = confirm.NewInteractive(os.Stdin, os.Stdout)
	}

	// 5. Cloud control. The managed pool is resolved before any mutation so
	// a bad --context-for-cloud aborts the run up front.
	if !cfg.DryRunCloud {
		zoneSet := fs.Changed("zone") || os.Getenv("AUTOSCALER_ZONE") != ""
		controller, err := newCloudController(ctx, &cfg, zoneSet, logger)
		if err != nil {
			logger.Error("failed to set up cloud control", "error", err)
			return 1
		}
		deps.Cluster = controller
	}

	as := autoscaler.New(deps, autoscaler.Options{
		Policy:       cfg.Policy,
		Mode:         autoscaler.Mode{DryRunKube: cfg.DryRunKube, DryRunCloud: cfg.DryRunCloud},
		WarmUp:       cfg.WarmUp,
		ReadyTimeout: cfg.ReadyTimeout,
	}, logger)

	// 6. Report delivery and runner.
	var sender runner.ReportSender
	if cfg.ReportURL != "" {
		sender = transport.NewClient(transport.Options{
			URL:            cfg.ReportURL,
			Token:          cfg.ReportToken,
			MaxRetries:     cfg.MaxRetries,
			RequestTimeout: cfg.RequestTimeout,
			Version:        cfg.Version,
		}, metrics, logger)
	}

	state := runner.NewStateMachine(apperrors.RealClock{}, cfg.Interval)
	r := runner.New(as, sender, metrics, state, runner.Options{
		Interval:       cfg.Interval,
		PushgatewayURL: cfg.PushgatewayURL,
		ClusterName:    clusterName,
	}, logger)

	// 7. Health server, loop mode only.
	if cfg.Interval > 0 {
		healthSrv := health.NewServer(cfg.HealthPort, metrics, r, r, as, cfg.DebugEndpoints, logger)
		if err := healthSrv.Start(); err != nil {
			logger.Error("failed to start health server", "error", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := healthSrv.Stop(shutdownCtx); err != nil {
				logger.Error("health server shutdown error", "error", err)
			}
		}()
	}

	// 8. Run.
	err = r.Run(ctx)
	switch {
	case err == nil:
		logger.Info("pool-autoscaler finished")
		return 0
	case errors.Is(err, apperrors.ErrCancelled), errors.Is(err, context.Canceled):
		logger.Info("pool-autoscaler cancelled")
		return 0
	default:
		logger.Error("pool-autoscaler failed", "error", err)
		return 1
	}
}

// newCloudController fills in the project, and the zone unless zoneSet, from
// the metadata server when no project is configured. It then resolves the
// managed pool.
func newCloudController(ctx context.Context, cfg *config.Config, zoneSet bool, logger *slog.Logger) (*cloud.GCEController, error) {
	if cfg.Project == "" {
		md, err := cloud.DetectMetadata(ctx, cfg.MetadataTimeout)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrConfigInvalid, "cloud",
				"--project is not set and the metadata server is unreachable", err)
		}
		cfg.Project = md.Project
		if md.Zone != "" && !zoneSet {
			cfg.Zone = md.Zone
		}
		logger.Info("detected cloud metadata", "project", md.Project, "zone", md.Zone)
	}

	controller, err := cloud.NewGCEController(ctx, cfg.Project, cfg.Zone, cfg.CloudContext, logger)
	if err != nil {
		return nil, err
	}
	name, err := controller.ManagerName(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("managing node pool", "instance_group_manager", name, "project", cfg.Project, "zone", cfg.Zone)
	return controller, nil
}

// showStatus prints one row per node and exits.
func showStatus(ctx context.Context, source *kube.Source, preemptible []string, logger *slog.Logger) int {
	snap, err := source.Snapshot(ctx)
	if err != nil {
		logger.Error("failed to read cluster state", "error", err)
		return 1
	}
	class, err := planner.Classify(snap, preemptible)
	if err != nil {
		logger.Error("invalid preemptible labels", "error", err)
		return 1
	}
	if err := kube.WriteStatus(os.Stdout, class.Nodes); err != nil {
		logger.Error("failed to write status", "error", err)
		return 1
	}
	return 0
}
