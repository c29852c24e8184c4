package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Queue      QueueConfig      `yaml:"queue"`
	NATS       NATSConfig       `yaml:"nats"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Processing ProcessingConfig `yaml:"processing"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port           int    `yaml:"port"`
	MetricsPort    int    `yaml:"metrics_port"`
	APIKey         string `yaml:"api_key"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres, sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	Path     string `yaml:"path"` // sqlite database file
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type QueueConfig struct {
	Backend     string        `yaml:"backend"` // nats, asynq
	Name        string        `yaml:"name"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	WorkerCount int           `yaml:"worker_count"`
	AckWait     time.Duration `yaml:"ack_wait"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StorageConfig struct {
	Backend   string `yaml:"backend"` // minio, local
	LocalRoot string `yaml:"local_root"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type ProcessingConfig struct {
	ThumbnailSize int           `yaml:"thumbnail_size"`
	WatermarkText string        `yaml:"watermark_text"`
	FontPath      string        `yaml:"font_path"`
	ReadGrace     time.Duration `yaml:"read_grace"`
	SkipProcessed *bool         `yaml:"skip_processed"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
}

type ClassifierConfig struct {
	Kind          string        `yaml:"kind"` // none, onnx, http
	ModelPath     string        `yaml:"model_path"`
	LabelsPath    string        `yaml:"labels_path"`
	SharedLibPath string        `yaml:"shared_lib_path"`
	InputName     string        `yaml:"input_name"`
	OutputName    string        `yaml:"output_name"`
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	MinConfidence float64       `yaml:"min_confidence"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Queue.Backend {
	case "nats", "asynq":
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	switch c.Storage.Backend {
	case "minio", "local":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Classifier.Kind {
	case "none", "onnx", "http":
	default:
		return fmt.Errorf("unknown classifier kind %q", c.Classifier.Kind)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 32 << 20
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "photoproc.db"
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "nats"
	}
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "photos"
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffBase == 0 {
		cfg.Queue.BackoffBase = 2 * time.Second
	}
	if cfg.Queue.BackoffMax == 0 {
		cfg.Queue.BackoffMax = time.Minute
	}
	if cfg.Queue.WorkerCount == 0 {
		cfg.Queue.WorkerCount = 4
	}
	if cfg.Queue.AckWait == 0 {
		cfg.Queue.AckWait = 2 * time.Minute
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "minio"
	}
	if cfg.Storage.LocalRoot == "" {
		cfg.Storage.LocalRoot = "media"
	}
	if cfg.Processing.ThumbnailSize == 0 {
		cfg.Processing.ThumbnailSize = 500
	}
	if cfg.Processing.WatermarkText == "" {
		cfg.Processing.WatermarkText = "© MemoRise"
	}
	if cfg.Processing.SkipProcessed == nil {
		skip := true
		cfg.Processing.SkipProcessed = &skip
	}
	if cfg.Processing.JobTimeout == 0 {
		cfg.Processing.JobTimeout = 90 * time.Second
	}
	if cfg.Classifier.Kind == "" {
		cfg.Classifier.Kind = "none"
	}
	if cfg.Classifier.InputName == "" {
		cfg.Classifier.InputName = "input"
	}
	if cfg.Classifier.OutputName == "" {
		cfg.Classifier.OutputName = "output"
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 30 * time.Second
	}
	if cfg.Classifier.MinConfidence == 0 {
		switch cfg.Classifier.Kind {
		case "http":
			cfg.Classifier.MinConfidence = 0.4
		default:
			cfg.Classifier.MinConfidence = 0.02
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PP_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PP_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("PP_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PP_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PP_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PP_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PP_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PP_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PP_QUEUE_BACKEND"); v != "" {
		cfg.Queue.Backend = v
	}
	if v := os.Getenv("PP_QUEUE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxAttempts = n
		}
	}
	if v := os.Getenv("PP_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.WorkerCount = n
		}
	}
	if v := os.Getenv("PP_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("PP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PP_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("PP_STORAGE_LOCAL_ROOT"); v != "" {
		cfg.Storage.LocalRoot = v
	}
	if v := os.Getenv("PP_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("PP_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("PP_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("PP_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("PP_FONT_PATH"); v != "" {
		cfg.Processing.FontPath = v
	}
	if v := os.Getenv("PP_CLASSIFIER_KIND"); v != "" {
		cfg.Classifier.Kind = v
	}
	if v := os.Getenv("PP_CLASSIFIER_URL"); v != "" {
		cfg.Classifier.URL = v
	}
	if v := os.Getenv("PP_CLASSIFIER_MODEL"); v != "" {
		cfg.Classifier.ModelPath = v
	}
	if v := os.Getenv("PP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
