// Package config provides configuration management and environment variable handling for the application
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	JWT        JWTConfig        `json:"jwt"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Compliance ComplianceConfig `json:"compliance"`
	CallVendor CallVendorConfig `json:"call_vendor"`
	Storage    StorageConfig    `json:"storage"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	ProxyHeader       string        `json:"proxy_header"`
	EnableCompression bool          `json:"enable_compression"`
}

type SecurityConfig struct {
	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	CORSMaxAge       int      `json:"cors_max_age"`

	// Rate Limiting
	UploadRateLimit int           `json:"upload_rate_limit"` // requests per minute
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per minute
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// Content Security
	CSPPolicy      string `json:"csp_policy"`
	XFrameOptions  string `json:"x_frame_options"`
	ReferrerPolicy string `json:"referrer_policy"`
	HSTSMaxAge     int    `json:"hsts_max_age"`
}

type JWTConfig struct {
	SecretKey      string        `json:"-"`
	PrivateKey     string        `json:"-"`            // RSA private key in PEM format, only needed to mint tokens
	PublicKey      string        `json:"public_key"`   // RSA public key in PEM format
	UseRSAKeys     bool          `json:"use_rsa_keys"` // Whether to use RSA keys instead of secret key
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
}

type LoggingConfig struct {
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`

	EnableAccessLog bool `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled     bool   `json:"enabled"`
	Provider    string `json:"provider"` // redis, memory
	RedisURL    string `json:"redis_url"`
	RedisDB     int    `json:"redis_db"`
	RedisPrefix string `json:"redis_prefix"`
}

// ComplianceConfig points at the external compliance engine
type ComplianceConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// CallVendorConfig configures the outbound clarification call provider
type CallVendorConfig struct {
	BaseURL           string        `json:"base_url"`
	AuthToken         string        `json:"-"`
	Model             string        `json:"model"`
	Language          string        `json:"language"`
	Voice             string        `json:"voice"`
	MaxDuration       int           `json:"max_duration"` // minutes
	PhonePrefix       string        `json:"phone_prefix"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
}

// StorageConfig selects where uploaded media is kept
type StorageConfig struct {
	Provider       string `json:"provider"` // supabase, local
	SupabaseURL    string `json:"supabase_url"`
	ServiceKey     string `json:"-"`
	Bucket         string `json:"bucket"`
	LocalDir       string `json:"local_dir"`
	PublicBaseURL  string `json:"public_base_url"`
	UploadTempDir  string `json:"upload_temp_dir"`
	MaxFileSize    int64  `json:"max_file_size"`
	MaxFiles       int    `json:"max_files"`
	UploadParallel int    `json:"upload_parallel"`
}

// PipelineConfig holds the orchestration timings
type PipelineConfig struct {
	PollInitialDelay    time.Duration `json:"poll_initial_delay"`
	PollInterval        time.Duration `json:"poll_interval"`
	PollRetryDelay      time.Duration `json:"poll_retry_delay"`
	PollMaxAttempts     int           `json:"poll_max_attempts"`
	TranscriptSettle    time.Duration `json:"transcript_settle"`
	StatusRetryAttempts int           `json:"status_retry_attempts"`
	StatusRetryBackoff  time.Duration `json:"status_retry_backoff"`
	MaxCallQuestions    int           `json:"max_call_questions"`
	LockTTL             time.Duration `json:"lock_ttl"`
}

// SchedulerConfig configures the stale pipeline sweeper
type SchedulerConfig struct {
	SweeperEnabled bool          `json:"sweeper_enabled"`
	SweeperSpec    string        `json:"sweeper_spec"`
	StaleAfter     time.Duration `json:"stale_after"`
	BatchSize      int           `json:"batch_size"`
}

type DeploymentConfig struct {
	Domain      string `json:"domain"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "adguard"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 5000),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 120*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 1024*1024*1024), // 10 files of 100MB plus form fields
			RequestTimeout:    getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PATCH", "OPTIONS"}),
			AllowedHeaders:   getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			CORSMaxAge:       getEnvInt("CORS_MAX_AGE", 86400),
			UploadRateLimit:  getEnvInt("UPLOAD_RATE_LIMIT", 10),
			GlobalRateLimit:  getEnvInt("GLOBAL_RATE_LIMIT", 1000),
			RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			CSPPolicy:        getEnvString("CSP_POLICY", "default-src 'self'"),
			XFrameOptions:    getEnvString("X_FRAME_OPTIONS", "DENY"),
			ReferrerPolicy:   getEnvString("REFERRER_POLICY", "strict-origin-when-cross-origin"),
			HSTSMaxAge:       getEnvInt("HSTS_MAX_AGE", 31536000),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			PrivateKey:     getEnvString("JWT_PRIVATE_KEY", ""),
			PublicKey:      getEnvString("JWT_PUBLIC_KEY", ""),
			UseRSAKeys:     getEnvBool("JWT_USE_RSA_KEYS", false),
			Issuer:         getEnvString("JWT_ISSUER", "adguard-ai"),
			Audience:       getEnvString("JWT_AUDIENCE", "adguard-ai-api"),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Output:          getEnvString("LOG_OUTPUT", "both"),
			FilePath:        getEnvString("LOG_FILE_PATH", "logs/adguard.log"),
			MaxSize:         getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:          getEnvInt("LOG_MAX_AGE", 30),
			Compress:        getEnvBool("LOG_COMPRESS", true),
			EnableAccessLog: getEnvBool("LOG_ENABLE_ACCESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", true),
			Provider:    getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "adguard:"),
		},
		Compliance: ComplianceConfig{
			BaseURL: strings.TrimRight(getEnvString("COMPLIANCE_ENGINE_URL", ""), "/"),
			Timeout: getEnvDuration("COMPLIANCE_ENGINE_TIMEOUT", 300*time.Second),
		},
		CallVendor: CallVendorConfig{
			BaseURL:           strings.TrimRight(getEnvString("CALL_VENDOR_URL", "https://api.bland.ai"), "/"),
			AuthToken:         getEnvString("CALL_VENDOR_AUTH_TOKEN", ""),
			Model:             getEnvString("CALL_VENDOR_MODEL", "enhanced"),
			Language:          getEnvString("CALL_VENDOR_LANGUAGE", "en"),
			Voice:             getEnvString("CALL_VENDOR_VOICE", "d9559963-d372-42c0-b753-30f28b75e1ef"),
			MaxDuration:       getEnvInt("CALL_VENDOR_MAX_DURATION", 5),
			PhonePrefix:       getEnvString("CALL_VENDOR_PHONE_PREFIX", "+91"),
			Timeout:           getEnvDuration("CALL_VENDOR_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvFloat("CALL_VENDOR_RPS", 5),
			Burst:             getEnvInt("CALL_VENDOR_BURST", 5),
		},
		Storage: StorageConfig{
			Provider:       getEnvString("STORAGE_PROVIDER", "supabase"),
			SupabaseURL:    strings.TrimRight(getEnvString("SUPABASE_URL", ""), "/"),
			ServiceKey:     getEnvString("SUPABASE_SERVICE_KEY", ""),
			Bucket:         getEnvString("STORAGE_BUCKET", "adguardai"),
			LocalDir:       getEnvString("STORAGE_LOCAL_DIR", "data/uploads/media"),
			PublicBaseURL:  strings.TrimRight(getEnvString("STORAGE_PUBLIC_BASE_URL", "http://localhost:5000/media"), "/"),
			UploadTempDir:  getEnvString("STORAGE_UPLOAD_TEMP_DIR", os.TempDir()),
			MaxFileSize:    int64(getEnvInt("STORAGE_MAX_FILE_SIZE", 100*1024*1024)),
			MaxFiles:       getEnvInt("STORAGE_MAX_FILES", 10),
			UploadParallel: getEnvInt("STORAGE_UPLOAD_PARALLEL", 4),
		},
		Pipeline: PipelineConfig{
			PollInitialDelay:    getEnvDuration("PIPELINE_POLL_INITIAL_DELAY", 10*time.Second),
			PollInterval:        getEnvDuration("PIPELINE_POLL_INTERVAL", 10*time.Second),
			PollRetryDelay:      getEnvDuration("PIPELINE_POLL_RETRY_DELAY", 5*time.Second),
			PollMaxAttempts:     getEnvInt("PIPELINE_POLL_MAX_ATTEMPTS", 60),
			TranscriptSettle:    getEnvDuration("PIPELINE_TRANSCRIPT_SETTLE", 30*time.Second),
			StatusRetryAttempts: getEnvInt("PIPELINE_STATUS_RETRY_ATTEMPTS", 3),
			StatusRetryBackoff:  getEnvDuration("PIPELINE_STATUS_RETRY_BACKOFF", 1*time.Second),
			MaxCallQuestions:    getEnvInt("PIPELINE_MAX_CALL_QUESTIONS", 5),
			LockTTL:             getEnvDuration("PIPELINE_LOCK_TTL", 30*time.Minute),
		},
		Scheduler: SchedulerConfig{
			SweeperEnabled: getEnvBool("SWEEPER_ENABLED", true),
			SweeperSpec:    getEnvString("SWEEPER_SPEC", "@every 5m"),
			StaleAfter:     getEnvDuration("SWEEPER_STALE_AFTER", 1*time.Hour),
			BatchSize:      getEnvInt("SWEEPER_BATCH_SIZE", 100),
		},
		Deployment: DeploymentConfig{
			Domain:      getEnvString("DOMAIN", "localhost"),
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from path if it exists.
// Variables already present in the environment win.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
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

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}

	// Validate JWT configuration
	if cfg.JWT.UseRSAKeys {
		if cfg.JWT.PublicKey == "" {
			errors = append(errors, "JWT_PUBLIC_KEY is required when JWT_USE_RSA_KEYS is set")
		}
	} else if len(cfg.JWT.SecretKey) < 32 {
		errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}

	// Validate external services
	if cfg.Compliance.BaseURL == "" {
		errors = append(errors, "COMPLIANCE_ENGINE_URL is required")
	}
	if cfg.Compliance.Timeout <= 0 {
		errors = append(errors, "COMPLIANCE_ENGINE_TIMEOUT must be positive")
	}
	if cfg.CallVendor.RequestsPerSecond <= 0 {
		errors = append(errors, "CALL_VENDOR_RPS must be positive")
	}

	// Validate storage configuration
	switch cfg.Storage.Provider {
	case "supabase":
		if cfg.Storage.SupabaseURL == "" {
			errors = append(errors, "SUPABASE_URL is required for supabase storage")
		}
		if cfg.Storage.ServiceKey == "" {
			errors = append(errors, "SUPABASE_SERVICE_KEY is required for supabase storage")
		}
	case "local":
		if cfg.Storage.LocalDir == "" {
			errors = append(errors, "STORAGE_LOCAL_DIR is required for local storage")
		}
	default:
		errors = append(errors, "STORAGE_PROVIDER must be supabase or local")
	}
	if cfg.Storage.MaxFiles <= 0 {
		errors = append(errors, "STORAGE_MAX_FILES must be positive")
	}
	if cfg.Storage.MaxFileSize <= 0 {
		errors = append(errors, "STORAGE_MAX_FILE_SIZE must be positive")
	}

	// Validate pipeline timings
	if cfg.Pipeline.PollMaxAttempts <= 0 {
		errors = append(errors, "PIPELINE_POLL_MAX_ATTEMPTS must be positive")
	}
	if cfg.Pipeline.StatusRetryAttempts <= 0 {
		errors = append(errors, "PIPELINE_STATUS_RETRY_ATTEMPTS must be positive")
	}
	if cfg.Pipeline.PollInterval <= 0 {
		errors = append(errors, "PIPELINE_POLL_INTERVAL must be positive")
	}
	// the run lock must outlive a full poll loop plus the transcript settle
	pollBound := cfg.Pipeline.PollInitialDelay + time.Duration(cfg.Pipeline.PollMaxAttempts)*cfg.Pipeline.PollInterval
	if cfg.Pipeline.LockTTL <= pollBound+cfg.Pipeline.TranscriptSettle {
		errors = append(errors, fmt.Sprintf("PIPELINE_LOCK_TTL must exceed the poll bound plus transcript settle (%s)", pollBound+cfg.Pipeline.TranscriptSettle))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// MissingOptionalSettings lists settings whose absence degrades a feature without stopping startup
func (cfg *ProductionConfig) MissingOptionalSettings() []string {
	var missing []string
	if cfg.CallVendor.AuthToken == "" {
		missing = append(missing, "CALL_VENDOR_AUTH_TOKEN is not set; clarification calls will fall back to manual review")
	}
	if cfg.Cache.Enabled && cfg.Cache.RedisURL == "" {
		missing = append(missing, "CACHE_REDIS_URL is not set; pipeline locks are process local")
	}
	return missing
}
