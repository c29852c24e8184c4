package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "nats:\n  url: nats://localhost:4222\n"))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "nats", cfg.Queue.Backend)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 500, cfg.Processing.ThumbnailSize)
	assert.Equal(t, "© MemoRise", cfg.Processing.WatermarkText)
	require.NotNil(t, cfg.Processing.SkipProcessed)
	assert.True(t, *cfg.Processing.SkipProcessed)
	assert.Equal(t, "none", cfg.Classifier.Kind)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PP_QUEUE_BACKEND", "asynq")
	t.Setenv("PP_QUEUE_MAX_ATTEMPTS", "5")
	t.Setenv("PP_DB_DRIVER", "sqlite")
	t.Setenv("PP_DB_PATH", "/tmp/x.db")

	cfg, err := Load(writeConfig(t, "queue:\n  backend: nats\n"))
	require.NoError(t, err)

	assert.Equal(t, "asynq", cfg.Queue.Backend)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
}

func TestLoadHTTPClassifierThreshold(t *testing.T) {
	cfg, err := Load(writeConfig(t, "classifier:\n  kind: http\n  url: http://tagger\n"))
	require.NoError(t, err)
	assert.InDelta(t, 0.4, cfg.Classifier.MinConfidence, 1e-9)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "queue:\n  backend: kafka\n"))
	require.Error(t, err)
}
