package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// helper to clear all AUTOSCALER_ env vars before each test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "AUTOSCALER_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

// validConfig expects the environment to be cleared by the caller.
func validConfig() Config {
	cfg := Load()
	cfg.Context = "prod"
	cfg.Finalize()
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.MinUtilization != 0.65 {
		t.Errorf("MinUtilization = %v, want 0.65", cfg.MinUtilization)
	}
	if cfg.MaxUtilization != 0.85 {
		t.Errorf("MaxUtilization = %v, want 0.85", cfg.MaxUtilization)
	}
	if cfg.OptimalUtilization != 0.75 {
		t.Errorf("OptimalUtilization = %v, want 0.75", cfg.OptimalUtilization)
	}
	if cfg.MinNodes != 15 || cfg.MaxNodes != 75 {
		t.Errorf("MinNodes/MaxNodes = %d/%d, want 15/75", cfg.MinNodes, cfg.MaxNodes)
	}
	if cfg.Zone != "us-central1-a" {
		t.Errorf("Zone = %q, want us-central1-a", cfg.Zone)
	}
	if len(cfg.OmitNamespaces) != 1 || cfg.OmitNamespaces[0] != "kube-system" {
		t.Errorf("OmitNamespaces = %v, want [kube-system]", cfg.OmitNamespaces)
	}
	if cfg.PreemptibleLabels != nil || cfg.OmitLabels != nil {
		t.Errorf("label lists should default to nil, got %v / %v", cfg.PreemptibleLabels, cfg.OmitLabels)
	}
	if cfg.WarmUp != 130*time.Second {
		t.Errorf("WarmUp = %v, want 130s", cfg.WarmUp)
	}
	if cfg.Interval != 0 {
		t.Errorf("Interval = %v, want 0", cfg.Interval)
	}
	if cfg.ImageEnvVar != "SINGLEUSER_IMAGE" {
		t.Errorf("ImageEnvVar = %q, want SINGLEUSER_IMAGE", cfg.ImageEnvVar)
	}
	if cfg.DryRunKube || cfg.DryRunCloud || cfg.DryRun {
		t.Error("dry-run modes should default to false")
	}
	if cfg.HealthPort != 8080 {
		t.Errorf("HealthPort = %d, want 8080", cfg.HealthPort)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTOSCALER_MIN_UTILIZATION", "0.2")
	t.Setenv("AUTOSCALER_MAX_UTILIZATION", "0.5")
	t.Setenv("AUTOSCALER_OPTIMAL_UTILIZATION", "0.35")
	t.Setenv("AUTOSCALER_MIN_NODES", "1")
	t.Setenv("AUTOSCALER_PREEMPTIBLE_LABELS", "component=singleuser-server, preemptible")
	t.Setenv("AUTOSCALER_OMIT_NAMESPACES", "")
	t.Setenv("AUTOSCALER_WARM_UP", "45")
	t.Setenv("AUTOSCALER_INTERVAL", "5m")
	t.Setenv("AUTOSCALER_TEST_CLOUD", "true")

	cfg := Load()

	if cfg.MinUtilization != 0.2 || cfg.MaxUtilization != 0.5 || cfg.OptimalUtilization != 0.35 {
		t.Errorf("utilization = %v/%v/%v", cfg.MinUtilization, cfg.OptimalUtilization, cfg.MaxUtilization)
	}
	if cfg.MinNodes != 1 {
		t.Errorf("MinNodes = %d, want 1", cfg.MinNodes)
	}
	want := []string{"component=singleuser-server", "preemptible"}
	if strings.Join(cfg.PreemptibleLabels, "|") != strings.Join(want, "|") {
		t.Errorf("PreemptibleLabels = %v, want %v", cfg.PreemptibleLabels, want)
	}
	if len(cfg.OmitNamespaces) != 0 {
		t.Errorf("explicitly empty OmitNamespaces should stay empty, got %v", cfg.OmitNamespaces)
	}
	if cfg.WarmUp != 45*time.Second {
		t.Errorf("WarmUp = %v, want 45s (integer seconds fallback)", cfg.WarmUp)
	}
	if cfg.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want 5m", cfg.Interval)
	}
	if !cfg.DryRunCloud {
		t.Error("DryRunCloud should be true")
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTOSCALER_MIN_NODES", "many")
	t.Setenv("AUTOSCALER_MAX_UTILIZATION", "high")
	t.Setenv("AUTOSCALER_WARM_UP", "soon")

	cfg := Load()

	if cfg.MinNodes != 15 {
		t.Errorf("MinNodes = %d, want default 15", cfg.MinNodes)
	}
	if cfg.MaxUtilization != 0.85 {
		t.Errorf("MaxUtilization = %v, want default 0.85", cfg.MaxUtilization)
	}
	if cfg.WarmUp != 130*time.Second {
		t.Errorf("WarmUp = %v, want default 130s", cfg.WarmUp)
	}
}

func TestBindFlags_OverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTOSCALER_CONTEXT", "staging")

	cfg := Load()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &cfg)

	err := fs.Parse([]string{"-c", "prod", "-y", "--test-k8s", "--warm-up", "10s"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.Finalize()

	if cfg.Context != "prod" {
		t.Errorf("Context = %q, want prod", cfg.Context)
	}
	if cfg.CloudContext != "prod" {
		t.Errorf("CloudContext = %q, want it to default to the kube context", cfg.CloudContext)
	}
	if !cfg.AssumeYes || !cfg.DryRunKube || cfg.DryRunCloud {
		t.Errorf("modes = yes:%v k8s:%v cloud:%v", cfg.AssumeYes, cfg.DryRunKube, cfg.DryRunCloud)
	}
	if cfg.WarmUp != 10*time.Second {
		t.Errorf("WarmUp = %v, want 10s", cfg.WarmUp)
	}
}

func TestFinalize_TestModeImpliesBothDryRuns(t *testing.T) {
	clearEnv(t)
	cfg := Load()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &cfg)

	if err := fs.Parse([]string{"-T", "-c", "prod", "--context-for-cloud", "pool-a"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.Finalize()

	if !cfg.DryRunKube || !cfg.DryRunCloud {
		t.Error("-T should enable both kube and cloud dry runs")
	}
	if cfg.CloudContext != "pool-a" {
		t.Errorf("CloudContext = %q, want pool-a", cfg.CloudContext)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing context", func(c *Config) { c.Context = "" }, "--context"},
		{"min above optimal", func(c *Config) { c.MinUtilization = 0.8 }, "min <= optimal <= max"},
		{"max above one", func(c *Config) { c.MaxUtilization = 1.5 }, "(0, 1]"},
		{"max nodes below min", func(c *Config) { c.MaxNodes = 3 }, "MaxNodes"},
		{"negative min nodes", func(c *Config) { c.MinNodes = -1 }, "MinNodes"},
		{"bad label", func(c *Config) { c.PreemptibleLabels = []string{"=oops"} }, "invalid label entry"},
		{"negative warm-up", func(c *Config) { c.WarmUp = -time.Second }, "WarmUp"},
		{"interval too short", func(c *Config) { c.Interval = time.Second; c.AssumeYes = true }, "Interval"},
		{"interval needs -y", func(c *Config) { c.Interval = time.Minute }, "requires -y"},
		{"loop mode port", func(c *Config) { c.Interval = time.Minute; c.AssumeYes = true; c.HealthPort = 0 }, "HealthPort"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "MaxRetries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
