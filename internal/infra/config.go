package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	AdminToken       string
	CORSOrigins      []string
	ProcessRateLimit int
	GeoIPDBPath      string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	DB         DBConfig
	Generation GenerationConfig
	Storage    StorageConfig
	Worker     WorkerConfig
}

// DBConfig sizes the pgx pool.
type DBConfig struct {
	MaxConns        int
	MinConns        int
	ApplicationName string
}

// GenerationConfig configures the client for the external generative worker.
type GenerationConfig struct {
	BaseURL      string
	WorkflowDir  string
	Timeout      time.Duration
	PollInterval time.Duration
}

// StorageConfig selects and configures the blob storage backend.
type StorageConfig struct {
	Driver          string
	Path            string
	BaseURL         string
	Bucket          string
	S3Region        string
	S3Endpoint      string
	S3PublicBaseURL string
	S3AccessKeyID   string
	S3SecretKey     string
	S3ForcePath     bool
}

// WorkerConfig holds batch scheduling knobs.
type WorkerConfig struct {
	BatchLimit int
	Interval   time.Duration
}

const (
	StorageDriverFilesystem = "filesystem"
	StorageDriverS3         = "s3"
)

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigNoDB()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// LoadConfigNoDB is LoadConfig without the DATABASE_URL requirement. It is used
// by tooling that can run against the in-memory repositories.
func LoadConfigNoDB() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		AdminToken:       strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		CORSOrigins:      getEnvList("CORS_ALLOWED_ORIGINS"),
		ProcessRateLimit: getEnvInt("PROCESS_RATE_LIMIT_PER_MINUTE", 12),
		GeoIPDBPath:      strings.TrimSpace(os.Getenv("GEOIP_DB_PATH")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 600)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		DB: DBConfig{
			MaxConns:        getEnvInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvInt("DB_MIN_CONNS", 1),
			ApplicationName: getEnv("DB_APPLICATION_NAME", "lessonforge"),
		},
		Generation: GenerationConfig{
			BaseURL:      strings.TrimRight(strings.TrimSpace(os.Getenv("COMFY_BASE_URL")), "/"),
			WorkflowDir:  getEnv("WORKFLOW_DIR", "./workflows"),
			Timeout:      time.Second * time.Duration(getEnvInt("GENERATION_TIMEOUT_SECONDS", 300)),
			PollInterval: time.Millisecond * time.Duration(getEnvInt("GENERATION_POLL_INTERVAL_MS", 2000)),
		},
		Storage: StorageConfig{
			Driver:          strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverFilesystem)),
			Path:            getEnv("STORAGE_PATH", "./storage"),
			BaseURL:         strings.TrimRight(getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"), "/"),
			Bucket:          getEnv("STORAGE_BUCKET", "content-assets"),
			S3Region:        getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:      os.Getenv("S3_ENDPOINT"),
			S3PublicBaseURL: strings.TrimRight(os.Getenv("S3_PUBLIC_BASE_URL"), "/"),
			S3AccessKeyID:   os.Getenv("S3_ACCESS_KEY_ID"),
			S3SecretKey:     os.Getenv("S3_SECRET_ACCESS_KEY"),
			S3ForcePath:     getEnvBool("S3_FORCE_PATH_STYLE", false),
		},
		Worker: WorkerConfig{
			BatchLimit: getEnvInt("WORKER_BATCH_LIMIT", 10),
			Interval:   time.Second * time.Duration(getEnvInt("WORKER_INTERVAL_SECONDS", 30)),
		},
	}

	switch cfg.Storage.Driver {
	case StorageDriverFilesystem, StorageDriverS3:
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER %q is not supported", cfg.Storage.Driver)
	}
	if cfg.Generation.PollInterval <= 0 {
		return nil, fmt.Errorf("GENERATION_POLL_INTERVAL_MS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
