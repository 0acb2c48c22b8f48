//go:build unit

package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"bird", "uav"}, cfg.Labels)
	assert.Equal(t, cfg.Labels, cfg.AlarmLabels)
	assert.True(t, cfg.IsAlarm("uav"))
	assert.False(t, cfg.IsAlarm("plane"))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"conf below zero", func(c *Config) { c.ConfThreshold = -0.1 }},
		{"conf above one", func(c *Config) { c.ConfThreshold = 1.5 }},
		{"nms zero", func(c *Config) { c.NMSThreshold = 0 }},
		{"zero width", func(c *Config) { c.InputWidth = 0 }},
		{"negative skip", func(c *Config) { c.SkipFrames = -1 }},
		{"negative max", func(c *Config) { c.MaxDetections = -1 }},
		{"negative per class", func(c *Config) { c.MaxPerClass = -2 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigLabel(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "bird", cfg.Label(0))
	assert.Equal(t, "uav", cfg.Label(1))
	assert.Equal(t, "cls_2", cfg.Label(2))
	assert.Equal(t, "cls_-1", cfg.Label(-1))
}

func TestApplyDefaultsKeepsAlarmSubset(t *testing.T) {
	cfg := Config{Labels: []string{"a", "b"}, AlarmLabels: []string{"b"}}
	cfg.ApplyDefaults()
	assert.Equal(t, []string{"b"}, cfg.AlarmLabels)
	assert.False(t, cfg.IsAlarm("a"))
}
