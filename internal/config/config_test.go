package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := load(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "dsl", cfg.DSLDir)
	assert.Empty(t, cfg.DBURL)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestLoadJSONThenEnvThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"port": "9000",
		"dbUrl": "ladoga.db",
		"autoMigrate": true,
		"requestTimeoutSeconds": 5
	}`), 0o644))

	// JSON
	cfg := load(path, nil)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "ladoga.db", cfg.DBURL)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)

	// ENV поверх JSON
	t.Setenv("LADOGA_PORT", "9100")
	t.Setenv("LADOGA_AUTO_MIGRATE", "no")
	cfg = load(path, nil)
	assert.Equal(t, "9100", cfg.Port)
	assert.False(t, cfg.AutoMigrate)

	// флаги поверх ENV
	cfg = load(path, []string{"-port", "9200", "-db", ":memory:"})
	assert.Equal(t, "9200", cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBURL)
}

func TestLoadConfigFlagReloads(t *testing.T) {
	dir := t.TempDir()
	alt := filepath.Join(dir, "alt.json")
	require.NoError(t, os.WriteFile(alt, []byte(`{"port": "7777"}`), 0o644))

	cfg := load(filepath.Join(dir, "config.json"), []string{"-config", alt})
	assert.Equal(t, "7777", cfg.Port)
}
