package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigurationDefaults(t *testing.T) {
	cfg, err := ReadConfiguration("", GetFlagSet())
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.HistoryConfig.HistorySize)
	assert.Equal(t, 5*1024*1024, cfg.HistoryConfig.MaxLogBytes)
	assert.Equal(t, 0.7, cfg.BotConfig.Probability)
	assert.Equal(t, 2*time.Second, cfg.BotConfig.MinDelay)
	assert.Equal(t, 4*time.Second, cfg.BotConfig.MaxDelay)
	assert.Equal(t, 5, cfg.BotConfig.ContextSize)
	assert.Equal(t, "HobbyBot", cfg.BotConfig.UserName)
	assert.Equal(t, 5*time.Second, cfg.ModerationConfig.Timeout)
	assert.Contains(t, cfg.ModerationConfig.DenyList, "politics")
	assert.Equal(t, "buntdb", cfg.PersistenceConfig.Type)
	assert.Equal(t, "admin", cfg.AdminUser)
}

func TestReadConfigurationDirectory(t *testing.T) {
	dir, err := ioutil.TempDir("", "hobbyhub-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	first := `
log_level = "WARN"

[history]
history_size = 20
welcome = false
`
	second := `
[bot]
probability = 1.0
min_delay = "10ms"
max_delay = "20ms"

[[oidc]]
name = "google"
provider_url = "https://accounts.google.com"
`
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "a.toml"), []byte(first), 0600))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "b.toml"), []byte(second), 0600))

	cfg, err := ReadConfiguration(dir, GetFlagSet())
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, 20, cfg.HistoryConfig.HistorySize)
	assert.False(t, cfg.HistoryConfig.Welcome)
	assert.Equal(t, 1.0, cfg.BotConfig.Probability)
	assert.Equal(t, 10*time.Millisecond, cfg.BotConfig.MinDelay)
	require.Len(t, cfg.OIDCConfigs, 1)
	assert.Equal(t, "google", cfg.OIDCConfigs[0].Name)
}

func TestReadConfigurationMissingPath(t *testing.T) {
	_, err := ReadConfiguration("/does/not/exist.toml", GetFlagSet())
	assert.Error(t, err)
}

func TestRedactSecrets(t *testing.T) {
	settings := map[string]interface{}{
		"log_level": "INFO",
		"gemini":    map[string]interface{}{"api_key": "AIza-secret", "model": "gemini-2.5-flash"},
		"redis":     map[string]interface{}{"addr": "localhost:6379", "password": "hunter2", "db": 0},
		"persistence": map[string]interface{}{
			"type": "postgres",
			"dsn":  "host=db user=chat password=hunter2",
		},
		"oidc": []interface{}{map[string]interface{}{"name": "google", "client_id": "abc"}},
	}
	res := redactSecrets(settings)
	assert.Equal(t, redacted, res["gemini"].(map[string]interface{})["api_key"])
	assert.Equal(t, "gemini-2.5-flash", res["gemini"].(map[string]interface{})["model"])
	assert.Equal(t, redacted, res["redis"].(map[string]interface{})["password"])
	assert.Equal(t, "localhost:6379", res["redis"].(map[string]interface{})["addr"])
	assert.Equal(t, redacted, res["persistence"].(map[string]interface{})["dsn"])
	assert.Equal(t, "abc", res["oidc"].([]interface{})[0].(map[string]interface{})["client_id"])
	assert.Equal(t, "INFO", res["log_level"])

	// the input is left untouched
	assert.Equal(t, "hunter2", settings["redis"].(map[string]interface{})["password"])
}
