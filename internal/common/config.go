package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Org        OrgConfig
	Upload     UploadConfig
	Extraction ExtractionConfig
	CRM        CRMConfig
	Queue      QueueConfig
	Session    SessionConfig
	Server     ServerConfig
}

// DatabaseConfig holds database-related configuration. DSN may be a postgres URL
// or a sqlite file path.
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// OrgConfig scopes uploads, dedup and records to a tenant.
type OrgConfig struct {
	OrgID      string
	LocationID string
}

type UploadConfig struct {
	PresignURL    string
	APIKey        string
	MaxImageBytes int64
	Timeout       time.Duration
}

type ExtractionConfig struct {
	BaseURL         string
	Model           string
	APIKey          string
	Temperature     float32
	Timeout         time.Duration
	ImageDetail     string
	LenientOptional bool
}

type CRMConfig struct {
	WebhookURL  string
	APIKey      string
	Workers     int
	QueueSize   int
	SyncTimeout time.Duration
	MaxAttempts int
}

type QueueConfig struct {
	StageTimeout time.Duration
}

type SessionConfig struct {
	StateDir string
}

type ServerConfig struct {
	HealthAddr string
}

// LoadConfig builds configuration from defaults, an optional TOML file and
// environment variables, in increasing precedence.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		path = os.Getenv("CONNECT_CARDS_CONFIG")
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             "connect-cards.db",
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Upload: UploadConfig{
			MaxImageBytes: 10 << 20,
			Timeout:       60 * time.Second,
		},
		Extraction: ExtractionConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			Timeout:         45 * time.Second,
			ImageDetail:     "high",
			LenientOptional: true,
		},
		CRM: CRMConfig{
			Workers:     2,
			QueueSize:   128,
			SyncTimeout: 20 * time.Second,
			MaxAttempts: 3,
		},
		Queue: QueueConfig{
			StageTimeout: 90 * time.Second,
		},
		Session: SessionConfig{
			StateDir: defaultStateDir(),
		},
	}
}

func applyEnv(c *Config) {
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Org.OrgID = getEnv("ORG_ID", c.Org.OrgID)
	c.Org.LocationID = getEnv("LOCATION_ID", c.Org.LocationID)

	c.Upload.PresignURL = getEnv("UPLOAD_PRESIGN_URL", c.Upload.PresignURL)
	c.Upload.APIKey = getEnv("UPLOAD_API_KEY", c.Upload.APIKey)
	c.Upload.MaxImageBytes = getEnvAsInt64("UPLOAD_MAX_IMAGE_BYTES", c.Upload.MaxImageBytes)
	c.Upload.Timeout = getEnvAsDuration("UPLOAD_TIMEOUT", c.Upload.Timeout)

	c.Extraction.BaseURL = getEnv("OPENAI_BASE_URL", c.Extraction.BaseURL)
	c.Extraction.Model = getEnv("OPENAI_MODEL", c.Extraction.Model)
	c.Extraction.APIKey = getEnv("OPENAI_API_KEY", c.Extraction.APIKey)
	c.Extraction.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.Extraction.Temperature)
	c.Extraction.Timeout = getEnvAsDuration("OPENAI_TIMEOUT", c.Extraction.Timeout)
	c.Extraction.ImageDetail = getEnv("OPENAI_IMAGE_DETAIL", c.Extraction.ImageDetail)
	c.Extraction.LenientOptional = getEnvAsBool("OPENAI_LENIENT_OPTIONAL", c.Extraction.LenientOptional)

	c.CRM.WebhookURL = getEnv("CRM_WEBHOOK_URL", c.CRM.WebhookURL)
	c.CRM.APIKey = getEnv("CRM_API_KEY", c.CRM.APIKey)
	c.CRM.Workers = getEnvAsInt("CRM_WORKERS", c.CRM.Workers)
	c.CRM.QueueSize = getEnvAsInt("CRM_QUEUE_SIZE", c.CRM.QueueSize)
	c.CRM.SyncTimeout = getEnvAsDuration("CRM_SYNC_TIMEOUT", c.CRM.SyncTimeout)
	c.CRM.MaxAttempts = getEnvAsInt("CRM_MAX_ATTEMPTS", c.CRM.MaxAttempts)

	c.Queue.StageTimeout = getEnvAsDuration("QUEUE_STAGE_TIMEOUT", c.Queue.StageTimeout)
	c.Session.StateDir = getEnv("SESSION_STATE_DIR", c.Session.StateDir)
	c.Server.HealthAddr = getEnv("HEALTH_ADDR", c.Server.HealthAddr)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the settings needed to process cards.
func (c *Config) Validate() error {
	v := NewValidator().
		Field("DB_URL", c.Database.DSN, Required).
		Field("ORG_ID", c.Org.OrgID, Required).
		Field("UPLOAD_PRESIGN_URL", c.Upload.PresignURL, Required, HTTPURL).
		Field("UPLOAD_MAX_IMAGE_BYTES", c.Upload.MaxImageBytes, PositiveInt).
		Field("OPENAI_API_KEY", c.Extraction.APIKey, Required).
		Field("OPENAI_BASE_URL", c.Extraction.BaseURL, Required, HTTPURL).
		Field("CRM_WEBHOOK_URL", c.CRM.WebhookURL, HTTPURL).
		Field("QUEUE_STAGE_TIMEOUT", c.Queue.StageTimeout, PositiveDuration).
		Field("SESSION_STATE_DIR", c.Session.StateDir, Required)
	return v.AppError(CodeConfig)
}
