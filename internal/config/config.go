package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/decentgram/mediaflow/internal/editor"
	"github.com/decentgram/mediaflow/internal/logging"
	"github.com/decentgram/mediaflow/internal/storage"
	"github.com/decentgram/mediaflow/internal/telemetry"
	"github.com/hibiken/asynq"
	"github.com/spf13/viper"
)

// FileEnv names an optional config file (toml, yaml or json) read before the
// environment. Environment variables always win.
const FileEnv = "MEDIAFLOW_CONFIG"

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Tracing   TracingConfig
	Editor    EditorConfig
	Log       LogConfig
}

type APIConfig struct {
	Addr        string
	MetricsAddr string
	PresignTTL  time.Duration
	// MaxUploadBytes bounds the multipart body of a synchronous edit.
	MaxUploadBytes int64
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	OutputPrefix   string
	MetricsAddr    string
}

type StorageConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	PublicBaseURL  string
	// MaxObjectBytes bounds source objects the worker reads.
	MaxObjectBytes int64
}

func (s StorageConfig) Client() storage.Config {
	return storage.Config{
		Endpoint:       s.Endpoint,
		Access:         s.AccessKey,
		Secret:         s.SecretKey,
		Bucket:         s.Bucket,
		UseSSL:         s.UseSSL,
		PublicBaseURL:  s.PublicBaseURL,
		MaxObjectBytes: s.MaxObjectBytes,
	}
}

type DatabaseConfig struct {
	// DSN selects the Postgres store. Empty keeps jobs in memory.
	DSN string
}

type RateLimitConfig struct {
	Enabled      bool
	Capacity     int
	Window       time.Duration
	UserIDHeader string
	KeyPrefix    string
	// EditCost is the token cost of one synchronous edit; other routes cost 1.
	EditCost int
}

type WebhookConfig struct {
	Secret     string
	Timeout    time.Duration
	MaxRetries int
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// Trace names the span service after the process component, e.g. "worker".
func (t TracingConfig) Trace(component string) telemetry.TraceConfig {
	return telemetry.TraceConfig{
		ServiceName:  t.ServiceName,
		Component:    component,
		Exporter:     t.Exporter,
		OTLPEndpoint: t.OTLPEndpoint,
		OTLPInsecure: t.OTLPInsecure,
		SampleRatio:  t.SampleRatio,
	}
}

type EditorConfig struct {
	OutputFormat string
	MaxDimension int
	MaxPixels    int64
}

func (e EditorConfig) Options() editor.Options {
	return editor.Options{
		DefaultFormat: e.OutputFormat,
		Limits: editor.Limits{
			MaxDimension: e.MaxDimension,
			MaxPixels:    e.MaxPixels,
		},
	}
}

type LogConfig struct {
	Level  string
	Format string
}

func (l LogConfig) Logging() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format}
}

// envKeys maps config keys to the environment variables operators set.
var envKeys = map[string]string{
	"api.addr":             "MEDIAFLOW_API_ADDR",
	"api.metrics_addr":     "MEDIAFLOW_API_METRICS_ADDR",
	"api.presign_ttl":      "MEDIAFLOW_PRESIGN_TTL",
	"api.max_upload_bytes": "MEDIAFLOW_MAX_UPLOAD_BYTES",

	"queue.redis_addr":     "REDIS_ADDR",
	"queue.redis_password": "REDIS_PASSWORD",
	"queue.redis_db":       "REDIS_DB",
	"queue.name":           "ASYNC_QUEUE",

	"worker.concurrency":      "WORKER_CONCURRENCY",
	"worker.max_active_jobs":  "WORKER_MAX_ACTIVE_JOBS",
	"worker.local_output_dir": "WORKER_LOCAL_OUTPUT_DIR",
	"worker.output_prefix":    "WORKER_OUTPUT_PREFIX",
	"worker.metrics_addr":     "WORKER_METRICS_ADDR",

	"storage.endpoint":         "MINIO_ENDPOINT",
	"storage.access_key":       "MINIO_ACCESS_KEY",
	"storage.secret_key":       "MINIO_SECRET_KEY",
	"storage.bucket":           "MINIO_BUCKET",
	"storage.use_ssl":          "MINIO_USE_SSL",
	"storage.public_base_url":  "MEDIA_PUBLIC_BASE_URL",
	"storage.max_object_bytes": "MEDIAFLOW_MAX_OBJECT_BYTES",

	"database.dsn": "POSTGRES_DSN",

	"ratelimit.enabled":        "RATE_LIMIT_ENABLED",
	"ratelimit.capacity":       "RATE_LIMIT_CAPACITY",
	"ratelimit.window":         "RATE_LIMIT_WINDOW",
	"ratelimit.user_id_header": "RATE_LIMIT_USER_ID_HEADER",
	"ratelimit.key_prefix":     "RATE_LIMIT_KEY_PREFIX",
	"ratelimit.edit_cost":      "RATE_LIMIT_EDIT_COST",

	"webhook.secret":      "WEBHOOK_SECRET",
	"webhook.timeout":     "WEBHOOK_TIMEOUT",
	"webhook.max_retries": "WEBHOOK_MAX_RETRIES",

	"tracing.service_name":  "OTEL_SERVICE_NAME",
	"tracing.exporter":      "OTEL_TRACES_EXPORTER",
	"tracing.otlp_endpoint": "OTEL_EXPORTER_OTLP_ENDPOINT",
	"tracing.otlp_insecure": "OTEL_EXPORTER_OTLP_INSECURE",
	"tracing.sample_ratio":  "OTEL_TRACES_SAMPLER_ARG",

	"editor.output_format": "EDITOR_OUTPUT_FORMAT",
	"editor.max_dimension": "EDITOR_MAX_DIMENSION",
	"editor.max_pixels":    "EDITOR_MAX_PIXELS",

	"log.level":  "LOG_LEVEL",
	"log.format": "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.metrics_addr", "")
	v.SetDefault("api.presign_ttl", 15*time.Minute)
	v.SetDefault("api.max_upload_bytes", 32<<20)

	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.name", "default")

	v.SetDefault("worker.concurrency", max(2, runtime.NumCPU()))
	v.SetDefault("worker.max_active_jobs", max(1, runtime.NumCPU()/2))
	v.SetDefault("worker.local_output_dir", "./.mediaflow-output")
	v.SetDefault("worker.output_prefix", "outputs")
	v.SetDefault("worker.metrics_addr", ":9091")

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minioadmin")
	v.SetDefault("storage.bucket", "mediaflow-media")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.max_object_bytes", int64(256<<20))

	v.SetDefault("database.dsn", "")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.capacity", 60)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.user_id_header", "X-User-ID")
	v.SetDefault("ratelimit.key_prefix", "mediaflow:ratelimit")
	v.SetDefault("ratelimit.edit_cost", 5)

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_retries", 3)

	v.SetDefault("tracing.service_name", "mediaflow")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.otlp_insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("editor.output_format", "jpeg")
	v.SetDefault("editor.max_dimension", 32768)
	v.SetDefault("editor.max_pixels", int64(128*1024*1024))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads defaults, the optional file named by MEDIAFLOW_CONFIG and the
// environment, in increasing precedence.
func Load() (Config, error) {
	return load(viper.New(), os.Getenv(FileEnv))
}

func load(v *viper.Viper, file string) (Config, error) {
	setDefaults(v)
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if file = strings.TrimSpace(file); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := Config{
		API: APIConfig{
			Addr:           v.GetString("api.addr"),
			MetricsAddr:    v.GetString("api.metrics_addr"),
			PresignTTL:     v.GetDuration("api.presign_ttl"),
			MaxUploadBytes: v.GetInt64("api.max_upload_bytes"),
		},
		Queue: QueueConfig{
			RedisAddr:     v.GetString("queue.redis_addr"),
			RedisPassword: v.GetString("queue.redis_password"),
			RedisDB:       v.GetInt("queue.redis_db"),
			Name:          v.GetString("queue.name"),
		},
		Worker: WorkerConfig{
			Concurrency:    v.GetInt("worker.concurrency"),
			MaxActiveJobs:  v.GetInt("worker.max_active_jobs"),
			LocalOutputDir: v.GetString("worker.local_output_dir"),
			OutputPrefix:   v.GetString("worker.output_prefix"),
			MetricsAddr:    v.GetString("worker.metrics_addr"),
		},
		Storage: StorageConfig{
			Endpoint:       v.GetString("storage.endpoint"),
			AccessKey:      v.GetString("storage.access_key"),
			SecretKey:      v.GetString("storage.secret_key"),
			Bucket:         v.GetString("storage.bucket"),
			UseSSL:         v.GetBool("storage.use_ssl"),
			PublicBaseURL:  v.GetString("storage.public_base_url"),
			MaxObjectBytes: v.GetInt64("storage.max_object_bytes"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("database.dsn"),
		},
		RateLimit: RateLimitConfig{
			Enabled:      v.GetBool("ratelimit.enabled"),
			Capacity:     v.GetInt("ratelimit.capacity"),
			Window:       v.GetDuration("ratelimit.window"),
			UserIDHeader: v.GetString("ratelimit.user_id_header"),
			KeyPrefix:    v.GetString("ratelimit.key_prefix"),
			EditCost:     v.GetInt("ratelimit.edit_cost"),
		},
		Webhook: WebhookConfig{
			Secret:     v.GetString("webhook.secret"),
			Timeout:    v.GetDuration("webhook.timeout"),
			MaxRetries: v.GetInt("webhook.max_retries"),
		},
		Tracing: TracingConfig{
			ServiceName:  v.GetString("tracing.service_name"),
			Exporter:     v.GetString("tracing.exporter"),
			OTLPEndpoint: v.GetString("tracing.otlp_endpoint"),
			OTLPInsecure: v.GetBool("tracing.otlp_insecure"),
			SampleRatio:  v.GetFloat64("tracing.sample_ratio"),
		},
		Editor: EditorConfig{
			OutputFormat: v.GetString("editor.output_format"),
			MaxDimension: v.GetInt("editor.max_dimension"),
			MaxPixels:    v.GetInt64("editor.max_pixels"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Capacity < 1 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate limit needs a positive capacity and window"))
	}
	if c.RateLimit.EditCost < 1 {
		errs = append(errs, fmt.Errorf("rate limit edit cost must be positive, got %d", c.RateLimit.EditCost))
	}
	if c.Editor.MaxDimension < 1 || c.Editor.MaxPixels < 1 {
		errs = append(errs, errors.New("editor limits must be positive"))
	}
	return errors.Join(errs...)
}
