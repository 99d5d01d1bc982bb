package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string
	// LogFile adds a rotated JSON log file next to stdout when set.
	LogFile string

	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifeMins int

	BackendBaseURL string
	BackendTimeout time.Duration

	AutoFinalizeDelay time.Duration
	SubmitTimeout     time.Duration
	SessionIdleTTL    time.Duration
	ReapInterval      time.Duration

	RateLimitPerMin int
	CORSOrigins     []string
	JWTSecret       string

	MediaBaseURL   string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	MediaURLTTL    time.Duration
}

// LoadConfig reads the environment through viper. Unset keys take the
// defaults below.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	v.SetDefault("BACKEND_BASE_URL", "http://localhost:9000/api")
	v.SetDefault("BACKEND_TIMEOUT_SECONDS", 15)
	v.SetDefault("AUTO_FINALIZE_DELAY_MS", 1000)
	v.SetDefault("SUBMIT_TIMEOUT_SECONDS", 30)
	v.SetDefault("SESSION_IDLE_TTL_MINUTES", 120)
	v.SetDefault("REAP_INTERVAL_SECONDS", 60)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 240)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("MEDIA_BASE_URL", "")
	v.SetDefault("MINIO_ENDPOINT", "")
	v.SetDefault("MINIO_ACCESS_KEY", "")
	v.SetDefault("MINIO_SECRET_KEY", "")
	v.SetDefault("MINIO_BUCKET", "quiz-media")
	v.SetDefault("MINIO_REGION", "us-east-1")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("MEDIA_URL_TTL_MINUTES", 15)

	cfg := Config{
		AppEnv:            strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		HTTPAddr:          v.GetString("HTTP_ADDR"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogFile:           strings.TrimSpace(v.GetString("LOG_FILE")),
		DBDSN:             strings.TrimSpace(v.GetString("DB_DSN")),
		DBMaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		DBConnMaxLifeMins: v.GetInt("DB_CONN_MAX_LIFETIME_MINUTES"),
		BackendBaseURL:    strings.TrimSpace(v.GetString("BACKEND_BASE_URL")),
		BackendTimeout:    time.Duration(v.GetInt("BACKEND_TIMEOUT_SECONDS")) * time.Second,
		AutoFinalizeDelay: time.Duration(v.GetInt("AUTO_FINALIZE_DELAY_MS")) * time.Millisecond,
		SubmitTimeout:     time.Duration(v.GetInt("SUBMIT_TIMEOUT_SECONDS")) * time.Second,
		SessionIdleTTL:    time.Duration(v.GetInt("SESSION_IDLE_TTL_MINUTES")) * time.Minute,
		ReapInterval:      time.Duration(v.GetInt("REAP_INTERVAL_SECONDS")) * time.Second,
		RateLimitPerMin:   v.GetInt("RATE_LIMIT_PER_MINUTE"),
		CORSOrigins:       splitCSV(v.GetString("CORS_ORIGINS")),
		JWTSecret:         strings.TrimSpace(v.GetString("JWT_SECRET")),
		MediaBaseURL:      strings.TrimSpace(v.GetString("MEDIA_BASE_URL")),
		MinioEndpoint:     strings.TrimSpace(v.GetString("MINIO_ENDPOINT")),
		MinioAccessKey:    v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey:    v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:       v.GetString("MINIO_BUCKET"),
		MinioRegion:       v.GetString("MINIO_REGION"),
		MinioUseSSL:       v.GetBool("MINIO_USE_SSL"),
		MediaURLTTL:       time.Duration(v.GetInt("MEDIA_URL_TTL_MINUTES")) * time.Minute,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.BackendBaseURL == "" {
		errs = append(errs, errors.New("BACKEND_BASE_URL is required"))
	}
	if c.AutoFinalizeDelay <= 0 {
		errs = append(errs, fmt.Errorf("AUTO_FINALIZE_DELAY_MS must be positive, got %s", c.AutoFinalizeDelay))
	}
	if c.ReapInterval <= 0 {
		errs = append(errs, fmt.Errorf("REAP_INTERVAL_SECONDS must be positive, got %s", c.ReapInterval))
	}
	if c.RateLimitPerMin <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimitPerMin))
	}
	if c.IsProduction() && strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	if c.MinioEndpoint != "" && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		errs = append(errs, errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required with MINIO_ENDPOINT"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("load config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production" || c.AppEnv == "prod"
}

func splitCSV(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
