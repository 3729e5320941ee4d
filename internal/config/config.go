// Package config loads the fieldledger policy configuration.
//
// Policy knobs the source material leaves open (conversion epsilon, count
// variance thresholds) are configuration here, not hardcoded constants.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full policy configuration.
type Config struct {
	// ConversionEpsilon bounds the base-unit imbalance a convert event may
	// carry and still validate.
	ConversionEpsilon decimal.Decimal `yaml:"conversion_epsilon"`

	// Variance controls count reconciliation policy.
	Variance VarianceConfig `yaml:"variance"`

	// Sync controls the per-device sync cycle.
	Sync SyncConfig `yaml:"sync"`

	// Workflow enables or disables individual request steps.
	Workflow WorkflowConfig `yaml:"workflow"`
}

// VarianceConfig sets the count variance thresholds, as fractions of the
// expected quantity (0.05 = 5%).
type VarianceConfig struct {
	// AutoAdjustBelow: variances at or below this fraction produce a
	// compensating adjust with reason count_variance.
	AutoAdjustBelow decimal.Decimal `yaml:"auto_adjust_below"`

	// DisputeAbove: variances above this fraction open a dispute.
	DisputeAbove decimal.Decimal `yaml:"dispute_above"`
}

// SyncConfig sets retry and batching behavior for device sync.
type SyncConfig struct {
	// RetryBase is the first backoff delay; each retry doubles it.
	RetryBase time.Duration `yaml:"retry_base"`

	// RetryAttempts bounds transient-error retries before the failure is
	// surfaced to the user.
	RetryAttempts int `yaml:"retry_attempts"`

	// DownloadBatch bounds the number of events fetched per download page.
	DownloadBatch int `yaml:"download_batch"`
}

// UnmarshalYAML decodes retry_base from a duration string ("500ms", "2s").
func (c *SyncConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		RetryBase     string `yaml:"retry_base"`
		RetryAttempts *int   `yaml:"retry_attempts"`
		DownloadBatch *int   `yaml:"download_batch"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.RetryBase != "" {
		d, err := time.ParseDuration(raw.RetryBase)
		if err != nil {
			return fmt.Errorf("sync.retry_base: %w", err)
		}
		c.RetryBase = d
	}
	if raw.RetryAttempts != nil {
		c.RetryAttempts = *raw.RetryAttempts
	}
	if raw.DownloadBatch != nil {
		c.DownloadBatch = *raw.DownloadBatch
	}
	return nil
}

// WorkflowConfig toggles the ordered request steps. Disabled steps are
// skipped by the transition function.
type WorkflowConfig struct {
	Approval       bool `yaml:"approval"`
	Fulfillment    bool `yaml:"fulfillment"`
	Pickup         bool `yaml:"pickup"`
	Acknowledgment bool `yaml:"acknowledgment"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ConversionEpsilon: decimal.RequireFromString("0.0001"),
		Variance: VarianceConfig{
			AutoAdjustBelow: decimal.RequireFromString("0.05"),
			DisputeAbove:    decimal.RequireFromString("0.10"),
		},
		Sync: SyncConfig{
			RetryBase:     2 * time.Second,
			RetryAttempts: 4,
			DownloadBatch: 200,
		},
		Workflow: WorkflowConfig{
			Approval:       true,
			Fulfillment:    true,
			Pickup:         true,
			Acknowledgment: true,
		},
	}
}

// Load reads a yaml config file, filling unset fields from Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes yaml config bytes over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c Config) Validate() error {
	if c.ConversionEpsilon.IsNegative() {
		return fmt.Errorf("config: conversion_epsilon must be >= 0")
	}
	if c.Variance.AutoAdjustBelow.IsNegative() || c.Variance.DisputeAbove.IsNegative() {
		return fmt.Errorf("config: variance thresholds must be >= 0")
	}
	if c.Variance.DisputeAbove.LessThan(c.Variance.AutoAdjustBelow) {
		return fmt.Errorf("config: variance.dispute_above must be >= variance.auto_adjust_below")
	}
	if c.Sync.RetryAttempts < 1 {
		return fmt.Errorf("config: sync.retry_attempts must be >= 1")
	}
	if c.Sync.DownloadBatch < 1 {
		return fmt.Errorf("config: sync.download_batch must be >= 1")
	}
	if c.Sync.RetryBase <= 0 {
		return fmt.Errorf("config: sync.retry_base must be > 0")
	}
	return nil
}
