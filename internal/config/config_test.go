package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJSON = `{
	"server_address": ":3000",
	"app_url": "https://json-config.com/",
	"database_dsn": "json-dsn",
	"dm_sweep_schedule": "*/10 * * * *",
	"lemon_team_product_ids": [1, 2]
}`

func writeTempJSON(t *testing.T, content string) string {
	t.Helper()
	file, err := os.CreateTemp("", "config*.json")
	require.NoError(t, err)
	_, err = file.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	t.Cleanup(func() {
		err := os.Remove(file.Name())
		require.NoError(t, err)
	})
	return file.Name()
}

func TestApplyDefaults(t *testing.T) {
	values := Config{RunAddr: ":9000"}

	applyDefaults(&values, defaultConfig)

	assert.Equal(t, ":9000", values.RunAddr)
	assert.Equal(t, "info", values.LogLevel)
	assert.Equal(t, 5*time.Second, values.UsageFlushInterval)
	assert.Equal(t, []int{363062, 363040}, values.LemonTeamProductIDs)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := New(WithDisableFlagsParsing(true))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.RunAddr)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
	assert.Empty(t, cfg.DMSweepSchedule)
}

func TestConfigPriorityJSONOnly(t *testing.T) {
	t.Setenv("CONFIG", writeTempJSON(t, testJSON))

	cfg, err := New(WithDisableFlagsParsing(true))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.RunAddr)
	assert.Equal(t, "https://json-config.com", cfg.AppURL)
	assert.Equal(t, "json-dsn", cfg.DatabaseDSN)
	assert.Equal(t, "*/10 * * * *", cfg.DMSweepSchedule)
	assert.Equal(t, []int{1, 2}, cfg.LemonTeamProductIDs)
}

func TestConfigPriorityJSONPlusEnv(t *testing.T) {
	t.Setenv("CONFIG", writeTempJSON(t, testJSON))
	t.Setenv("SERVER_ADDRESS", ":4000")
	t.Setenv("LEMON_TEAM_PRODUCT_IDS", "7,8,9")

	cfg, err := New(WithDisableFlagsParsing(true))
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.RunAddr)
	assert.Equal(t, []int{7, 8, 9}, cfg.LemonTeamProductIDs)
	assert.Equal(t, "json-dsn", cfg.DatabaseDSN)
}

func TestConfigPriorityAllSources(t *testing.T) {
	t.Setenv("CONFIG", writeTempJSON(t, testJSON))
	t.Setenv("SERVER_ADDRESS", ":4000")

	savedArgs := os.Args
	t.Cleanup(func() { os.Args = savedArgs })
	os.Args = []string{"testbin", "-a", ":6000", "-l", "debug"}

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.RunAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json-dsn", cfg.DatabaseDSN)
}

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{name: "log level", key: "LOG_LEVEL", value: "verbose"},
		{name: "cron schedule", key: "DM_SWEEP_SCHEDULE", value: "every minute"},
		{name: "trusted subnet", key: "TRUSTED_SUBNET", value: "10.0.0.0/8,10.0.0.1"},
		{name: "seed file", key: "MEMORY_SEED_FILE", value: "/does/not/exist.json"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)

			_, err := New(WithDisableFlagsParsing(true))

			assert.Error(t, err)
		})
	}
}

func TestParseSchedule(t *testing.T) {
	schedule, err := ParseSchedule("@hourly")
	require.NoError(t, err)

	from := time.Date(2025, 3, 1, 12, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC), schedule.Next(from))
}
