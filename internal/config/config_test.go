package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadplanner/internal/opt"
)

func envMap(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, opt.DefaultWeightConfig(), cfg.Planner.Weights)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
planner:
  parallelism: 3
  weights:
    high_volume_states: [TX, OK]
    high_volume: {min: 46000, max: 51000}
    other: {min: 40000, max: 45000}
`), 0o644))

	t.Setenv("OTHER_MAX_LBS", "46000")
	t.Setenv("LOG_LEVEL", "debug")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Planner.Parallelism)
	assert.Equal(t, []string{"TX", "OK"}, cfg.Planner.Weights.HighVolumeStates)
	assert.Equal(t, opt.Bounds{Min: 46000, Max: 51000}, cfg.Planner.Weights.HighVolume)
	assert.Equal(t, opt.Bounds{Min: 40000, Max: 46000}, cfg.Planner.Weights.Other)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Planner, cfg.Planner)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"HIGH_VOLUME_STATES": " tx, texas ,,ok",
		"TX_MAX_LBS":         "53000",
		"DB_MIGRATE":         "false",
		"RATE_BURST":         "5",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"tx", "texas", "ok"}, cfg.Planner.Weights.HighVolumeStates)
	assert.InDelta(t, 53000, cfg.Planner.Weights.HighVolume.Max, 1e-9)
	assert.False(t, cfg.Store.Migrate)
	assert.Equal(t, 5, cfg.Server.RateBurst)

	err = cfg.applyEnv(envMap(map[string]string{"TX_MIN_LBS": "heavy"}))
	require.ErrorContains(t, err, "TX_MIN_LBS")
}

func TestWebhookEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.applyEnv(envMap(map[string]string{
		"WEBHOOK_URL":          "https://hooks.example.com/plans",
		"WEBHOOK_SECRET":       "shh",
		"WEBHOOK_MAX_ATTEMPTS": "0",
	})))
	assert.Equal(t, "https://hooks.example.com/plans", cfg.Webhook.URL)
	assert.Equal(t, "shh", cfg.Webhook.Secret)
	require.Error(t, cfg.Validate())

	cfg.Webhook.MaxAttempts = 3
	require.NoError(t, cfg.Validate())
	assert.Equal(t, true, cfg.Redacted()["hasWebhookUrl"])
	assert.NotContains(t, cfg.Redacted(), "webhookSecret")
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := Default()
	cfg.Planner.Weights.Other = opt.Bounds{Min: 50000, Max: 48000}
	require.ErrorIs(t, cfg.Validate(), opt.ErrInvalidWeightConfig)
}

func TestValidateAuth(t *testing.T) {
	cfg := Default()
	cfg.Auth.Mode = "hmac"
	require.Error(t, cfg.Validate())
	cfg.Auth.HMACSecret = "s3cret"
	require.NoError(t, cfg.Validate())
	cfg.Auth.Mode = "jwks"
	require.Error(t, cfg.Validate())
}

func TestLocation(t *testing.T) {
	cfg := Default()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	cfg.Planner.Timezone = "Not/AZone"
	_, err = cfg.Location()
	require.Error(t, err)
}
