package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, 15*time.Minute, cfg.API.PresignTTL)
	assert.Equal(t, "localhost:6379", cfg.Queue.RedisAddr)
	assert.Equal(t, "default", cfg.Queue.Name)
	assert.Equal(t, "outputs", cfg.Worker.OutputPrefix)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, "mediaflow:ratelimit", cfg.RateLimit.KeyPrefix)
	assert.Equal(t, "jpeg", cfg.Editor.OutputFormat)
	assert.Equal(t, 32768, cfg.Editor.MaxDimension)
	assert.Equal(t, int64(128*1024*1024), cfg.Editor.MaxPixels)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.GreaterOrEqual(t, cfg.Worker.Concurrency, 2)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("MEDIAFLOW_API_ADDR", ":9999")
	t.Setenv("REDIS_DB", "4")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("EDITOR_OUTPUT_FORMAT", "png")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, 4, cfg.Queue.RedisDB)
	assert.True(t, cfg.Storage.UseSSL)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "png", cfg.Editor.OutputFormat)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaflow.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
bucket = "feed-media"
public_base_url = "https://cdn.decentgram.test"

[editor]
max_pixels = 1000000
`), 0o644))
	t.Setenv("MINIO_BUCKET", "from-env")

	cfg, err := load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Storage.Bucket)
	assert.Equal(t, "https://cdn.decentgram.test", cfg.Storage.PublicBaseURL)
	assert.Equal(t, int64(1000000), cfg.Editor.MaxPixels)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("RATE_LIMIT_EDIT_COST", "0")

	_, err := load(viper.New(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker concurrency")
	assert.Contains(t, err.Error(), "edit cost")

	_, err = load(viper.New(), filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestSectionConversions(t *testing.T) {
	cfg := Config{
		Storage: StorageConfig{Endpoint: "minio:9000", AccessKey: "ak", SecretKey: "sk", Bucket: "media", PublicBaseURL: "https://cdn.test", MaxObjectBytes: 1 << 20},
		Tracing: TracingConfig{ServiceName: "mediaflow", Exporter: "otlp", OTLPEndpoint: "collector:4318", SampleRatio: 0.5},
		Editor:  EditorConfig{OutputFormat: "png", MaxDimension: 4096, MaxPixels: 1 << 20},
		Log:     LogConfig{Level: "debug", Format: "json"},
	}

	sc := cfg.Storage.Client()
	assert.Equal(t, "ak", sc.Access)
	assert.Equal(t, "sk", sc.Secret)
	assert.Equal(t, "https://cdn.test", sc.PublicBaseURL)
	assert.Equal(t, int64(1<<20), sc.MaxObjectBytes)

	tc := cfg.Tracing.Trace("worker")
	assert.Equal(t, "worker", tc.Component)
	assert.Equal(t, "collector:4318", tc.OTLPEndpoint)
	assert.Equal(t, 0.5, tc.SampleRatio)

	opts := cfg.Editor.Options()
	assert.Equal(t, "png", opts.DefaultFormat)
	assert.Equal(t, 4096, opts.Limits.MaxDimension)
	assert.Equal(t, int64(1<<20), opts.Limits.MaxPixels)

	lc := cfg.Log.Logging()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "json", lc.Format)
}
