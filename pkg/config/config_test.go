package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestEscalationConfig_ParsesDurations(t *testing.T) {
	raw := `
reminder: 24h
urgent: 72h
auto_pause: 168h
`
	var cfg EscalationConfig
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))

	assert.Equal(t, 24*time.Hour, cfg.Reminder)
	assert.Equal(t, 72*time.Hour, cfg.Urgent)
	assert.Equal(t, 168*time.Hour, cfg.AutoPause)
	assert.Zero(t, cfg.AutoExpire, "omitted tier stays disabled")
}

func TestEscalationConfig_RejectsBadDuration(t *testing.T) {
	var cfg EscalationConfig
	err := yaml.Unmarshal([]byte("reminder: soon"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escalation.reminder")
}

func TestCrewConfig_ParsesDurations(t *testing.T) {
	raw := `
base_url: http://crew:8100
submit_timeout: 5s
run_max_duration: 30m
`
	var cfg CrewConfig
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))

	assert.Equal(t, "http://crew:8100", cfg.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, 30*time.Minute, cfg.RunMaxDuration)
}
