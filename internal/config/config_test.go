package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `{"port": 9090, "data_dir": "/tmp/cf", "backend_url": "http://backend:8081"}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/tmp/cf", cfg.DataDir)
	assert.Equal(t, "http://backend:8081", cfg.BackendURL)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig("")
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := writeConfigFile(t, `{not json`)
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestFromEnv_FillsOnlyEmptyFields(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("CHAT_BACKEND_URL", "http://env-backend")

	cfg := Config{BackendURL: "http://file-backend"}
	cfg.FromEnv()

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
	assert.Equal(t, "http://file-backend", cfg.BackendURL, "file value wins over environment")
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())

	cfg.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.SearchAPIKey = "key-without-cx"
	assert.Error(t, cfg.Validate())

	cfg.SearchCX = "cx"
	assert.NoError(t, cfg.Validate())
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := Config{Port: 9999}
	merged := cfg.MergeWithDefaults(Defaults())

	assert.Equal(t, 9999, merged.Port)
	assert.Equal(t, "data", merged.DataDir)
	assert.Equal(t, 15, merged.HeartbeatSeconds)
	assert.Equal(t, "http://localhost:8081", merged.BackendURL)
}
