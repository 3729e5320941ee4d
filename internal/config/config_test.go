package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0001", cfg.ConversionEpsilon.String())
	assert.Equal(t, 4, cfg.Sync.RetryAttempts)
	assert.True(t, cfg.Workflow.Approval)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
conversion_epsilon: "0.01"
sync:
  retry_base: 500ms
  retry_attempts: 2
  download_batch: 50
workflow:
  approval: true
  fulfillment: true
  pickup: false
  acknowledgment: true
`))
	require.NoError(t, err)

	assert.Equal(t, "0.01", cfg.ConversionEpsilon.String())
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.RetryBase)
	assert.Equal(t, 2, cfg.Sync.RetryAttempts)
	assert.Equal(t, 50, cfg.Sync.DownloadBatch)
	assert.False(t, cfg.Workflow.Pickup)

	// Untouched sections keep their defaults.
	assert.Equal(t, "0.05", cfg.Variance.AutoAdjustBelow.String())
}

func TestParse_RejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("sync: ["))
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "negative epsilon",
			mutate: func(c *Config) { c.ConversionEpsilon = c.ConversionEpsilon.Neg() },
			want:   "conversion_epsilon",
		},
		{
			name:   "inverted variance thresholds",
			mutate: func(c *Config) { c.Variance.DisputeAbove, c.Variance.AutoAdjustBelow = c.Variance.AutoAdjustBelow, c.Variance.DisputeAbove },
			want:   "dispute_above",
		},
		{
			name:   "zero retry attempts",
			mutate: func(c *Config) { c.Sync.RetryAttempts = 0 },
			want:   "retry_attempts",
		},
		{
			name:   "zero download batch",
			mutate: func(c *Config) { c.Sync.DownloadBatch = 0 },
			want:   "download_batch",
		},
		{
			name:   "zero retry base",
			mutate: func(c *Config) { c.Sync.RetryBase = 0 },
			want:   "retry_base",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}
