package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the docmark orchestrator.
type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	Orchestration OrchestrationConfig
	Worker        WorkerConfig
	Logging       LoggingConfig
	Metrics       MetricsConfig
	Validation    ValidationConfig
	Security      SecurityConfig
	Health        HealthConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Environment  string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// OrchestrationConfig holds the parameters governing the split decision,
// result retention, and the work queue's retry/backoff contract.
type OrchestrationConfig struct {
	MinSplitPages         int
	ResultTTL             time.Duration
	PageResultTTL         time.Duration
	StatusTTL             time.Duration
	MergeDelimiter        string
	QueueRetryMax         int
	QueueRetryBaseDelay   time.Duration
	QueueRetryMultiplier  float64
	MaxFileSizeMB         int64
	ConversionTimeout     time.Duration
	SplitWorkDirectory    string
	FetchTimeout          time.Duration
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	MaxConcurrency     int
	QueueName          string
	MinWorkers         int
	ScaleUpThreshold   int64
	ScaleDownThreshold int64
	CheckInterval      time.Duration
	ScaleDelay         time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format     string `json:"format" validate:"oneof=json console"`
	Output     string `json:"output" validate:"oneof=stdout stderr file"`
	Filename   string `json:"filename,omitempty"`
	TimeFormat string `json:"time_format"`
	Structured bool   `json:"structured"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Port      string `json:"port"`
	Path      string `json:"path"`
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
}

// ValidationConfig holds request/upload validation configuration
type ValidationConfig struct {
	MaxFileSize        int64    `json:"max_file_size"`
	MinFileSize        int64    `json:"min_file_size"`
	AllowedMimeTypes   []string `json:"allowed_mime_types"`
	AllowedExtensions  []string `json:"allowed_extensions"`
	MaxConcurrentReqs  int      `json:"max_concurrent_reqs"`
	RequireContentType bool     `json:"require_content_type"`
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	RateLimitEnabled    bool          `json:"rate_limit_enabled"`
	RateLimitPerMinute  int           `json:"rate_limit_per_minute"`
	CorsEnabled         bool          `json:"cors_enabled"`
	CorsAllowedOrigins  []string      `json:"cors_allowed_origins"`
	RequestTimeoutLimit time.Duration `json:"request_timeout_limit"`
	MaxRequestBodySize  int64         `json:"max_request_body_size"`
	TrustedProxies      []string      `json:"trusted_proxies"`
	JWTSigningKey       string        `json:"-"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Enabled       bool          `json:"enabled"`
	Port          string        `json:"port"`
	Path          string        `json:"path"`
	CheckInterval time.Duration `json:"check_interval"`
	Timeout       time.Duration `json:"timeout"`
	ReadinessPath string        `json:"readiness_path"`
	LivenessPath  string        `json:"liveness_path"`
	StartupPath   string        `json:"startup_path"`
}

// Load reads configuration from environment variables and returns Config
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "3001"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Orchestration: OrchestrationConfig{
			MinSplitPages:        getIntEnv("ORCH_MIN_SPLIT_PAGES", 2),
			ResultTTL:            getDurationEnv("ORCH_RESULT_TTL", 24*time.Hour),
			PageResultTTL:        getDurationEnv("ORCH_PAGE_RESULT_TTL", 30*time.Minute),
			StatusTTL:            getDurationEnv("ORCH_STATUS_TTL", 72*time.Hour),
			MergeDelimiter:       getEnv("ORCH_MERGE_DELIMITER", "\n\n---\n\n"),
			QueueRetryMax:        getIntEnv("ORCH_QUEUE_RETRY_MAX", 3),
			QueueRetryBaseDelay:  getDurationEnv("ORCH_QUEUE_RETRY_BASE_DELAY", 60*time.Second),
			QueueRetryMultiplier: getFloatEnv("ORCH_QUEUE_RETRY_MULTIPLIER", 2.0),
			MaxFileSizeMB:        getInt64Env("ORCH_MAX_FILE_SIZE_MB", 100),
			ConversionTimeout:    getDurationEnv("ORCH_CONVERSION_TIMEOUT", 5*time.Minute),
			SplitWorkDirectory:   getEnv("ORCH_SPLIT_WORK_DIR", "./work/split"),
			FetchTimeout:         getDurationEnv("ORCH_FETCH_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			MaxConcurrency:     getIntEnv("WORKER_MAX_CONCURRENCY", 10),
			QueueName:          getEnv("WORKER_QUEUE_NAME", "docmark_work"),
			MinWorkers:         getIntEnv("WORKER_MIN_WORKERS", 1),
			ScaleUpThreshold:   int64(getIntEnv("WORKER_SCALE_UP_THRESHOLD", 10)),
			ScaleDownThreshold: int64(getIntEnv("WORKER_SCALE_DOWN_THRESHOLD", 2)),
			CheckInterval:      getDurationEnv("WORKER_CHECK_INTERVAL", 10*time.Second),
			ScaleDelay:         getDurationEnv("WORKER_SCALE_DELAY", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			Filename:   getEnv("LOG_FILENAME", "logs/app.log"),
			TimeFormat: getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
			Structured: getBoolEnv("LOG_STRUCTURED", true),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("METRICS_ENABLED", true),
			Port:      getEnv("METRICS_PORT", "9090"),
			Path:      getEnv("METRICS_PATH", "/metrics"),
			Namespace: getEnv("METRICS_NAMESPACE", "docmark"),
			Subsystem: getEnv("METRICS_SUBSYSTEM", "orchestrator"),
		},
		Validation: ValidationConfig{
			MaxFileSize:        getInt64Env("VALIDATION_MAX_FILE_SIZE", 100*1024*1024), // 100MB
			MinFileSize:        getInt64Env("VALIDATION_MIN_FILE_SIZE", 1),
			MaxConcurrentReqs:  getIntEnv("VALIDATION_MAX_CONCURRENT_REQS", 10),
			RequireContentType: getBoolEnv("VALIDATION_REQUIRE_CONTENT_TYPE", true),
			AllowedMimeTypes: getStringSliceEnv("VALIDATION_ALLOWED_MIME_TYPES", []string{
				"application/pdf",
				"application/msword",
				"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				"application/vnd.ms-excel",
				"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
				"application/vnd.ms-powerpoint",
				"application/vnd.openxmlformats-officedocument.presentationml.presentation",
				"application/vnd.oasis.opendocument.text",
				"application/rtf",
				"text/plain", "text/html",
			}),
			AllowedExtensions: getStringSliceEnv("VALIDATION_ALLOWED_EXTENSIONS", []string{
				".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
				".odt", ".rtf", ".txt", ".html", ".htm",
			}),
		},
		Security: SecurityConfig{
			RateLimitEnabled:    getBoolEnv("SECURITY_RATE_LIMIT_ENABLED", true),
			RateLimitPerMinute:  getIntEnv("SECURITY_RATE_LIMIT_PER_MINUTE", 60),
			CorsEnabled:         getBoolEnv("SECURITY_CORS_ENABLED", true),
			CorsAllowedOrigins:  getStringSliceEnv("SECURITY_CORS_ALLOWED_ORIGINS", []string{"*"}),
			RequestTimeoutLimit: getDurationEnv("SECURITY_REQUEST_TIMEOUT_LIMIT", 300*time.Second),
			MaxRequestBodySize:  getInt64Env("SECURITY_MAX_REQUEST_BODY_SIZE", 100*1024*1024), // 100MB
			TrustedProxies:      getStringSliceEnv("SECURITY_TRUSTED_PROXIES", []string{"127.0.0.1", "::1"}),
			JWTSigningKey:       getEnv("SECURITY_JWT_SIGNING_KEY", ""),
		},
		Health: HealthConfig{
			Enabled:       getBoolEnv("HEALTH_ENABLED", true),
			Port:          getEnv("HEALTH_PORT", "3002"),
			Path:          getEnv("HEALTH_PATH", "/health"),
			CheckInterval: getDurationEnv("HEALTH_CHECK_INTERVAL", 30*time.Second),
			Timeout:       getDurationEnv("HEALTH_TIMEOUT", 5*time.Second),
			ReadinessPath: getEnv("HEALTH_READINESS_PATH", "/ready"),
			LivenessPath:  getEnv("HEALTH_LIVENESS_PATH", "/live"),
			StartupPath:   getEnv("HEALTH_STARTUP_PATH", "/startup"),
		},
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("Warning: Invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if int64Value, err := strconv.ParseInt(value, 10, 64); err == nil {
			return int64Value
		}
		log.Printf("Warning: Invalid int64 value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Printf("Warning: Invalid float value for %s: %s, using default: %g", key, value, defaultValue)
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		log.Printf("Warning: Invalid boolean value for %s: %s, using default: %t", key, value, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Printf("Warning: Invalid duration value for %s: %s, using default: %s", key, value, defaultValue)
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// GetRedisURL returns the Redis connection address
func (c *Config) GetRedisURL() string {
	return c.Redis.Host + ":" + c.Redis.Port
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// Validate checks if the configuration is valid, creating directories the
// orchestrator needs at startup.
func (c *Config) Validate() error {
	if err := os.MkdirAll(c.Orchestration.SplitWorkDirectory, 0755); err != nil {
		log.Printf("Warning: Failed to create split work directory %s: %v", c.Orchestration.SplitWorkDirectory, err)
	}
	if c.Orchestration.MinSplitPages < 1 {
		log.Printf("Warning: ORCH_MIN_SPLIT_PAGES must be >= 1, got %d", c.Orchestration.MinSplitPages)
	}
	return nil
}
