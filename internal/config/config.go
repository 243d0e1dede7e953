package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Policy holds the scaling thresholds and workload filters for one cycle.
type Policy struct {
	MinUtilization     float64 // AUTOSCALER_MIN_UTILIZATION, default: 0.65
	MaxUtilization     float64 // AUTOSCALER_MAX_UTILIZATION, default: 0.85
	OptimalUtilization float64 // AUTOSCALER_OPTIMAL_UTILIZATION, default: 0.75
	MinNodes           int     // AUTOSCALER_MIN_NODES, default: 15
	MaxNodes           int     // AUTOSCALER_MAX_NODES, default: 75

	// Label entries are single-term selectors: "key", "key=value" or "key!=value".
	PreemptibleLabels []string // AUTOSCALER_PREEMPTIBLE_LABELS, comma-separated
	OmitLabels        []string // AUTOSCALER_OMIT_LABELS, comma-separated
	OmitNamespaces    []string // AUTOSCALER_OMIT_NAMESPACES, default: kube-system
}

// Config holds all autoscaler configuration values.
type Config struct {
	Policy

	// Cluster selection
	Context      string // AUTOSCALER_CONTEXT, unique segment of the kube context name
	CloudContext string // AUTOSCALER_CLOUD_CONTEXT, unique segment of the managed pool name; default: Context
	Kubeconfig   string // KUBECONFIG, default: ~/.kube/config
	InCluster    bool   // AUTOSCALER_IN_CLUSTER, default: false

	// Cloud
	Project string // AUTOSCALER_PROJECT, default: detected from the metadata server
	Zone    string // AUTOSCALER_ZONE, default: us-central1-a

	// Modes
	DryRun      bool // -T/--test: both kube and cloud actions are simulated
	DryRunKube  bool // --test-k8s
	DryRunCloud bool // --test-cloud
	AssumeYes   bool // -y
	Verbose     bool // -v
	ShowStatus  bool // --status

	// Convergence
	WarmUp       time.Duration // AUTOSCALER_WARM_UP, default: 130s
	ReadyTimeout time.Duration // AUTOSCALER_READY_TIMEOUT, default: 0 (no readiness poll)
	Interval     time.Duration // AUTOSCALER_INTERVAL, default: 0 (run one cycle and exit)

	// Image warm-up
	ImageEnvVar         string // AUTOSCALER_IMAGE_ENV, default: SINGLEUSER_IMAGE
	PopulatorNamespace  string // AUTOSCALER_POPULATOR_NAMESPACE, default: kube-system
	PopulatorPauseImage string // AUTOSCALER_POPULATOR_PAUSE_IMAGE

	// Notifications
	SlackToken      string // AUTOSCALER_SLACK_TOKEN
	SlackChannel    string // AUTOSCALER_SLACK_CHANNEL, default: #autoscaler
	SlackWebhookURL string // AUTOSCALER_SLACK_WEBHOOK_URL

	// Reporting
	HealthPort       int           // AUTOSCALER_HEALTH_PORT, default: 8080 (loop mode only)
	DebugEndpoints   bool          // AUTOSCALER_DEBUG_ENDPOINTS, default: false
	PushgatewayURL   string        // AUTOSCALER_PUSHGATEWAY_URL
	ReportURL        string        // AUTOSCALER_REPORT_URL
	ReportToken      string        // AUTOSCALER_REPORT_TOKEN
	MaxRetries       int           // AUTOSCALER_MAX_RETRIES, default: 3
	RequestTimeout   time.Duration // AUTOSCALER_REQUEST_TIMEOUT, default: 30s
	MetadataTimeout  time.Duration // AUTOSCALER_METADATA_TIMEOUT, default: 2s

	Version string
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values.
func Load() Config {
	cfg := Config{
		Policy: Policy{
			MinUtilization:     parseFloat("AUTOSCALER_MIN_UTILIZATION", 0.65),
			MaxUtilization:     parseFloat("AUTOSCALER_MAX_UTILIZATION", 0.85),
			OptimalUtilization: parseFloat("AUTOSCALER_OPTIMAL_UTILIZATION", 0.75),
			MinNodes:           parseInt("AUTOSCALER_MIN_NODES", 15),
			MaxNodes:           parseInt("AUTOSCALER_MAX_NODES", 75),
			PreemptibleLabels:  parseStringSlice("AUTOSCALER_PREEMPTIBLE_LABELS"),
			OmitLabels:         parseStringSlice("AUTOSCALER_OMIT_LABELS"),
			OmitNamespaces:     parseStringSliceOrDefault("AUTOSCALER_OMIT_NAMESPACES", []string{"kube-system"}),
		},

		Context:      os.Getenv("AUTOSCALER_CONTEXT"),
		CloudContext: os.Getenv("AUTOSCALER_CLOUD_CONTEXT"),
		Kubeconfig:   os.Getenv("KUBECONFIG"),
		InCluster:    parseBool("AUTOSCALER_IN_CLUSTER", false),

		Project: os.Getenv("AUTOSCALER_PROJECT"),
		Zone:    envOrDefault("AUTOSCALER_ZONE", "us-central1-a"),

		WarmUp:       parseDuration("AUTOSCALER_WARM_UP", 130*time.Second),
		ReadyTimeout: parseDuration("AUTOSCALER_READY_TIMEOUT", 0),
		Interval:     parseDuration("AUTOSCALER_INTERVAL", 0),

		ImageEnvVar:         envOrDefault("AUTOSCALER_IMAGE_ENV", "SINGLEUSER_IMAGE"),
		PopulatorNamespace:  envOrDefault("AUTOSCALER_POPULATOR_NAMESPACE", "kube-system"),
		PopulatorPauseImage: envOrDefault("AUTOSCALER_POPULATOR_PAUSE_IMAGE", "registry.k8s.io/pause:3.10"),

		SlackToken:      os.Getenv("AUTOSCALER_SLACK_TOKEN"),
		SlackChannel:    envOrDefault("AUTOSCALER_SLACK_CHANNEL", "#autoscaler"),
		SlackWebhookURL: os.Getenv("AUTOSCALER_SLACK_WEBHOOK_URL"),

		HealthPort:      parseInt("AUTOSCALER_HEALTH_PORT", 8080),
		DebugEndpoints:  parseBool("AUTOSCALER_DEBUG_ENDPOINTS", false),
		PushgatewayURL:  os.Getenv("AUTOSCALER_PUSHGATEWAY_URL"),
		ReportURL:       os.Getenv("AUTOSCALER_REPORT_URL"),
		ReportToken:     os.Getenv("AUTOSCALER_REPORT_TOKEN"),
		MaxRetries:      parseInt("AUTOSCALER_MAX_RETRIES", 3),
		RequestTimeout:  parseDuration("AUTOSCALER_REQUEST_TIMEOUT", 30*time.Second),
		MetadataTimeout: parseDuration("AUTOSCALER_METADATA_TIMEOUT", 2*time.Second),
	}

	cfg.DryRunKube = parseBool("AUTOSCALER_TEST_K8S", false)
	cfg.DryRunCloud = parseBool("AUTOSCALER_TEST_CLOUD", false)

	return cfg
}

// Finalize resolves values that depend on other fields. It must run after
// flags are parsed and before Validate.
func (c *Config) Finalize() {
	if c.CloudContext == "" {
		c.CloudContext = c.Context
	}
	if c.DryRun {
		c.DryRunKube = true
		c.DryRunCloud = true
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func parseStringSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func parseStringSliceOrDefault(key string, defaultVal []string) []string {
	if _, ok := os.LookupEnv(key); !ok {
		return defaultVal
	}
	return parseStringSlice(key)
}
