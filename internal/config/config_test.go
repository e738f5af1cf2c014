package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/cubby/internal/domain"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.ListenAddr)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "memory", cfg.CloudBackend)
	assert.Equal(t, "iCloud.com.cubby.app", cfg.CloudContainerID)
	assert.Equal(t, 30*time.Second, cfg.SyncPollInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.MergeDebounce)
	assert.True(t, cfg.CloudSyncEnabled)
	assert.False(t, cfg.TestMode)
}

func TestLoadCustomValues(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("DATA_DIR", "/custom")
	t.Setenv("CLOUD_BACKEND", "redis")
	t.Setenv("SYNC_POLL_INTERVAL", "5s")
	t.Setenv("EMOJI_BACKEND", "claude")
	t.Setenv("CLAUDE_API_KEY", "sk-test123")
	t.Setenv("CUBBY_TEST_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "/custom/Legacy.sqlite", cfg.LegacyDBPath)
	assert.Equal(t, "redis", cfg.CloudBackend)
	assert.Equal(t, 5*time.Second, cfg.SyncPollInterval)
	assert.Equal(t, "sk-test123", cfg.ClaudeAPIKey)
	assert.True(t, cfg.TestMode)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown cloud backend", env: map[string]string{"CLOUD_BACKEND": "s3"}},
		{name: "unknown emoji backend", env: map[string]string{"EMOJI_BACKEND": "gpt"}},
		{name: "claude without key", env: map[string]string{"EMOJI_BACKEND": "claude"}},
		{name: "bad availability", env: map[string]string{"CLOUD_FORCE_AVAILABILITY": "sometimes"}},
		{name: "zero interval", env: map[string]string{"SYNC_POLL_INTERVAL": "0s"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestAvailabilityOverride(t *testing.T) {
	cfg := &Config{}
	override, err := cfg.AvailabilityOverride()
	require.NoError(t, err)
	assert.Nil(t, override)

	cfg.CloudForceAvailability = "noAccount"
	override, err = cfg.AvailabilityOverride()
	require.NoError(t, err)
	require.NotNil(t, override)
	assert.Equal(t, domain.Unavailable(domain.ReasonNoAccount), *override)
}
