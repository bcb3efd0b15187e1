package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage drivers.
const (
	StorageDriverLocal = "local"
	StorageDriverMinio = "minio"
)

// Scoring transports.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Storage       StorageConfig
	Uploads       UploadsConfig
	LLM           LLMConfig
	Scoring       ScoringConfig
	NATS          NATSConfig
	SMTP          SMTPConfig
	Notifications NotificationsConfig
	Audit         AuditConfig
	Checklists    ChecklistsConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

type JWTConfig struct {
	Secret            string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	SingleSession     bool
}

type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects where uploaded evidence files live.
type StorageConfig struct {
	Driver          string
	LocalDir        string
	SignedURLSecret string
	SignedURLTTL    time.Duration

	MinioEndpoint  string
	MinioRegion    string
	MinioBucket    string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
}

// UploadsConfig validates incoming evidence files.
type UploadsConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// LLMConfig configures the completion service.
type LLMConfig struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	Temperature  float32
	RequestsPerS float64
	Burst        int
	CallTimeout  time.Duration
}

// ScoringConfig tunes the scoring pipeline.
type ScoringConfig struct {
	Enabled             bool
	Transport           string
	Workers             int
	QueueBuffer         int
	MaxFormatAttempts   int
	MaxUpstreamAttempts int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	BreakerEnabled      bool
	BreakerOpenTimeout  time.Duration
	ClaimLease          time.Duration
	MaxExcerptRunes     int
	PromptCatalogPath   string
	RescoreConcurrency  int
	MetricsPort         int
}

// NATSConfig points the scoring transport at a NATS cluster.
type NATSConfig struct {
	URL               string
	Subject           string
	QueueGroup        string
	ConnectTimeout    time.Duration
	ReconnectWait     time.Duration
	MaxReconnects     int
	HandlerRetries    int
	HandlerRetryDelay time.Duration
}

// SMTPConfig enables the optional email channel for notifications.
type SMTPConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NotificationsConfig controls link generation for notifications.
type NotificationsConfig struct {
	FrontendBaseURL string
}

// AuditConfig bounds audit queries and exports.
type AuditConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// ChecklistsConfig governs checklist read caching.
type ChecklistsConfig struct {
	CacheTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
		AutoMigrate:     v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		PoolSize:    v.GetInt("REDIS_POOL_SIZE"),
		DialTimeout: parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), 5*time.Second),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 30*time.Minute),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
		SingleSession:     v.GetBool("JWT_SINGLE_SESSION"),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS")),
		MaxAge:         parseDuration(v.GetString("CORS_MAX_AGE"), 10*time.Minute),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		Driver:          strings.ToLower(v.GetString("STORAGE_DRIVER")),
		LocalDir:        v.GetString("STORAGE_LOCAL_DIR"),
		SignedURLSecret: v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), 15*time.Minute),
		MinioEndpoint:   v.GetString("MINIO_ENDPOINT"),
		MinioRegion:     v.GetString("MINIO_REGION"),
		MinioBucket:     v.GetString("MINIO_BUCKET"),
		MinioAccessKey:  v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey:  v.GetString("MINIO_SECRET_KEY"),
		MinioUseSSL:     v.GetBool("MINIO_USE_SSL"),
	}

	maxUpload := v.GetInt64("UPLOAD_MAX_FILE_SIZE")
	if maxUpload <= 0 {
		maxUpload = 20 * 1024 * 1024
	}
	cfg.Uploads = UploadsConfig{
		MaxFileSizeBytes: maxUpload,
		AllowedMIMEs:     splitAndTrim(v.GetString("UPLOAD_ALLOWED_MIME_TYPES")),
	}

	cfg.LLM = LLMConfig{
		Provider:     strings.ToLower(v.GetString("LLM_PROVIDER")),
		APIKey:       v.GetString("LLM_API_KEY"),
		BaseURL:      v.GetString("LLM_BASE_URL"),
		Model:        v.GetString("LLM_MODEL"),
		MaxTokens:    v.GetInt("LLM_MAX_TOKENS"),
		Temperature:  float32(v.GetFloat64("LLM_TEMPERATURE")),
		RequestsPerS: v.GetFloat64("LLM_REQUESTS_PER_SECOND"),
		Burst:        v.GetInt("LLM_BURST"),
		CallTimeout:  parseDuration(v.GetString("LLM_CALL_TIMEOUT"), 90*time.Second),
	}

	cfg.Scoring = ScoringConfig{
		Enabled:             v.GetBool("ENABLE_SCORING"),
		Transport:           strings.ToLower(v.GetString("SCORING_TRANSPORT")),
		Workers:             v.GetInt("SCORING_WORKERS"),
		QueueBuffer:         v.GetInt("SCORING_QUEUE_BUFFER"),
		MaxFormatAttempts:   v.GetInt("SCORING_MAX_FORMAT_ATTEMPTS"),
		MaxUpstreamAttempts: v.GetInt("SCORING_MAX_UPSTREAM_ATTEMPTS"),
		InitialBackoff:      parseDuration(v.GetString("SCORING_INITIAL_BACKOFF"), time.Second),
		MaxBackoff:          parseDuration(v.GetString("SCORING_MAX_BACKOFF"), 20*time.Second),
		BreakerEnabled:      v.GetBool("SCORING_BREAKER_ENABLED"),
		BreakerOpenTimeout:  parseDuration(v.GetString("SCORING_BREAKER_OPEN_TIMEOUT"), 30*time.Second),
		ClaimLease:          parseDuration(v.GetString("SCORING_CLAIM_LEASE"), 15*time.Minute),
		MaxExcerptRunes:     v.GetInt("SCORING_MAX_EXCERPT_RUNES"),
		PromptCatalogPath:   v.GetString("PROMPT_CATALOG_PATH"),
		RescoreConcurrency:  v.GetInt("SCORING_RESCORE_CONCURRENCY"),
		MetricsPort:         v.GetInt("SCORING_WORKER_METRICS_PORT"),
	}

	cfg.NATS = NATSConfig{
		URL:               v.GetString("NATS_URL"),
		Subject:           v.GetString("NATS_SCORING_SUBJECT"),
		QueueGroup:        v.GetString("NATS_QUEUE_GROUP"),
		ConnectTimeout:    parseDuration(v.GetString("NATS_CONNECT_TIMEOUT"), 2*time.Second),
		ReconnectWait:     parseDuration(v.GetString("NATS_RECONNECT_WAIT"), 2*time.Second),
		MaxReconnects:     v.GetInt("NATS_MAX_RECONNECTS"),
		HandlerRetries:    v.GetInt("NATS_HANDLER_RETRIES"),
		HandlerRetryDelay: parseDuration(v.GetString("NATS_HANDLER_RETRY_DELAY"), 2*time.Second),
	}

	cfg.SMTP = SMTPConfig{
		Enabled:  v.GetBool("SMTP_ENABLED"),
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		Username: v.GetString("SMTP_USERNAME"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     v.GetString("SMTP_FROM"),
	}

	cfg.Notifications = NotificationsConfig{
		FrontendBaseURL: strings.TrimRight(v.GetString("FRONTEND_BASE_URL"), "/"),
	}

	cfg.Audit = AuditConfig{
		DefaultLimit: v.GetInt("AUDIT_DEFAULT_LIMIT"),
		MaxLimit:     v.GetInt("AUDIT_MAX_LIMIT"),
	}

	cfg.Checklists = ChecklistsConfig{
		CacheTTL: parseDuration(v.GetString("CHECKLIST_CACHE_TTL"), 5*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "esg_compliance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "esg-compliance-api")
	v.SetDefault("JWT_EXPIRATION", "30m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("JWT_SINGLE_SESSION", false)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("STORAGE_LOCAL_DIR", "./uploads")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "15m")
	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_REGION", "us-east-1")
	v.SetDefault("MINIO_BUCKET", "esg-evidence")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("UPLOAD_MAX_FILE_SIZE", 20*1024*1024)
	v.SetDefault("UPLOAD_ALLOWED_MIME_TYPES", "application/pdf,text/plain,text/markdown,text/csv")

	v.SetDefault("LLM_PROVIDER", ProviderOpenAI)
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("LLM_MAX_TOKENS", 4096)
	v.SetDefault("LLM_TEMPERATURE", 0.2)
	v.SetDefault("LLM_REQUESTS_PER_SECOND", 2)
	v.SetDefault("LLM_BURST", 2)
	v.SetDefault("LLM_CALL_TIMEOUT", "90s")

	v.SetDefault("ENABLE_SCORING", true)
	v.SetDefault("SCORING_TRANSPORT", TransportMemory)
	v.SetDefault("SCORING_WORKERS", 2)
	v.SetDefault("SCORING_QUEUE_BUFFER", 64)
	v.SetDefault("SCORING_MAX_FORMAT_ATTEMPTS", 3)
	v.SetDefault("SCORING_MAX_UPSTREAM_ATTEMPTS", 3)
	v.SetDefault("SCORING_INITIAL_BACKOFF", "1s")
	v.SetDefault("SCORING_MAX_BACKOFF", "20s")
	v.SetDefault("SCORING_BREAKER_ENABLED", true)
	v.SetDefault("SCORING_BREAKER_OPEN_TIMEOUT", "30s")
	v.SetDefault("SCORING_CLAIM_LEASE", "15m")
	v.SetDefault("SCORING_MAX_EXCERPT_RUNES", 12000)
	v.SetDefault("PROMPT_CATALOG_PATH", "")
	v.SetDefault("SCORING_RESCORE_CONCURRENCY", 4)
	v.SetDefault("SCORING_WORKER_METRICS_PORT", 9091)

	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_SCORING_SUBJECT", "esg.scoring.requested")
	v.SetDefault("NATS_QUEUE_GROUP", "scoring-workers")
	v.SetDefault("NATS_CONNECT_TIMEOUT", "2s")
	v.SetDefault("NATS_RECONNECT_WAIT", "2s")
	v.SetDefault("NATS_MAX_RECONNECTS", 60)
	v.SetDefault("NATS_HANDLER_RETRIES", 2)
	v.SetDefault("NATS_HANDLER_RETRY_DELAY", "2s")

	v.SetDefault("SMTP_ENABLED", false)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM", "no-reply@esg-compliance.local")

	v.SetDefault("FRONTEND_BASE_URL", "")
	v.SetDefault("AUDIT_DEFAULT_LIMIT", 100)
	v.SetDefault("AUDIT_MAX_LIMIT", 1000)
	v.SetDefault("CHECKLIST_CACHE_TTL", "5m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
