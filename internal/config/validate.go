package config

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/labels"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if c.Context == "" {
		return fmt.Errorf("config: --context (AUTOSCALER_CONTEXT) is required")
	}

	if c.MinUtilization <= 0 || c.MaxUtilization > 1 {
		return fmt.Errorf("config: utilization thresholds must lie in (0, 1], got min=%v max=%v",
			c.MinUtilization, c.MaxUtilization)
	}
	if c.MinUtilization > c.OptimalUtilization || c.OptimalUtilization > c.MaxUtilization {
		return fmt.Errorf("config: utilization thresholds must satisfy min <= optimal <= max, got %v/%v/%v",
			c.MinUtilization, c.OptimalUtilization, c.MaxUtilization)
	}

	if c.MinNodes < 0 {
		return fmt.Errorf("config: MinNodes must be >= 0, got %d", c.MinNodes)
	}
	if c.MaxNodes < c.MinNodes {
		return fmt.Errorf("config: MaxNodes (%d) must be >= MinNodes (%d)", c.MaxNodes, c.MinNodes)
	}

	for _, group := range [][]string{c.PreemptibleLabels, c.OmitLabels} {
		for _, entry := range group {
			if _, err := labels.Parse(entry); err != nil {
				return fmt.Errorf("config: invalid label entry %q: %w", entry, err)
			}
		}
	}

	if c.WarmUp < 0 {
		return fmt.Errorf("config: WarmUp must be >= 0, got %v", c.WarmUp)
	}
	if c.ReadyTimeout < 0 {
		return fmt.Errorf("config: ReadyTimeout must be >= 0, got %v", c.ReadyTimeout)
	}
	if c.Interval != 0 && c.Interval < 10*time.Second {
		return fmt.Errorf("config: Interval must be 0 or >= 10s, got %v", c.Interval)
	}
	if c.Interval > 0 && !c.AssumeYes {
		return fmt.Errorf("config: --interval requires -y, interactive confirmation cannot run unattended")
	}

	if c.Interval > 0 && (c.HealthPort < 1 || c.HealthPort > 65535) {
		return fmt.Errorf("config: HealthPort must be 1-65535, got %d", c.HealthPort)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("config: MaxRetries must be >= 0, got %d", c.MaxRetries)
	}

	if c.PopulatorNamespace == "" {
		return fmt.Errorf("config: AUTOSCALER_POPULATOR_NAMESPACE must not be empty")
	}

	return nil
}
