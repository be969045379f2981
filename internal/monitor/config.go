package monitor

import (
	"fmt"
	"time"

	"github.com/failsafe-dev/failsafe/internal/probe"
)

// Config carries everything a monitoring session needs at construction.
type Config struct {
	// Environment is the deployment environment under watch.
	Environment string
	// Duration bounds the session; zero means run until stopped.
	Duration time.Duration
	// Interval is the pause between check cycles.
	Interval time.Duration
	// FailureThreshold is the consecutive-failure count that declares a
	// breach.
	FailureThreshold int
	// LatencyThresholdMs marks successful responses slower than this as
	// slow without counting them as failures.
	LatencyThresholdMs int64
	// AutoRollback allows the session to hand control to the rollback
	// controller on breach. When false a breach only warns.
	AutoRollback bool
	// Force is carried into the rollback request.
	Force bool
	// ResourceThresholds bound host utilization warnings.
	ResourceThresholds probe.ResourceThresholds
}

// DefaultConfig returns the standard monitoring thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:           30 * time.Second,
		FailureThreshold:   3,
		LatencyThresholdMs: 2000,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.LatencyThresholdMs <= 0 {
		return fmt.Errorf("latency threshold must be positive, got %d", c.LatencyThresholdMs)
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration must not be negative, got %s", c.Duration)
	}
	return nil
}
