package config

import (
	"github.com/spf13/pflag"
)

// BindFlags registers the command-line flags on fs, using the values already
// in cfg (from Load) as defaults so that flags override the environment.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Show verbose output (debug)")
	fs.BoolVarP(&cfg.DryRun, "test", "T", cfg.DryRun,
		"Run in test mode: log expected behavior, no real action will be taken")
	fs.BoolVar(&cfg.DryRunKube, "test-k8s", cfg.DryRunKube,
		"Test kubernetes actions: node spec patches are sent as server-side dry runs")
	fs.BoolVar(&cfg.DryRunCloud, "test-cloud", cfg.DryRunCloud,
		"Test cloud actions: log expected commands to the cloud provider, no action on the VM pool")
	fs.BoolVarP(&cfg.AssumeYes, "yes", "y", cfg.AssumeYes, "Run without interactive confirmation")
	fs.StringVarP(&cfg.Context, "context", "c", cfg.Context,
		"A unique segment of the kube context name that selects the cluster")
	fs.StringVar(&cfg.CloudContext, "context-for-cloud", cfg.CloudContext,
		"A unique segment of the managed pool name used for resizing, if different from --context")
	fs.StringVar(&cfg.Kubeconfig, "kubeconfig", cfg.Kubeconfig, "Path to the kubeconfig file")
	fs.StringVar(&cfg.Project, "project", cfg.Project, "Cloud project that owns the node pool")
	fs.StringVar(&cfg.Zone, "zone", cfg.Zone, "Cloud zone of the node pool")
	fs.DurationVar(&cfg.WarmUp, "warm-up", cfg.WarmUp,
		"How long new capacity is given before images are populated onto it")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval,
		"Run a cycle every interval instead of once; 0 runs a single cycle")
	fs.BoolVar(&cfg.ShowStatus, "status", cfg.ShowStatus, "Print the node status table and exit")
}
