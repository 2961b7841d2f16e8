package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"

	BlobMemory = "memory"
	BlobGridFS = "gridfs"
	BlobS3     = "s3"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`

	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`

	JWTSecret    string        `mapstructure:"JWT_SECRET"`
	JWTTTL       time.Duration `mapstructure:"JWT_TTL"`
	CookieSecure bool          `mapstructure:"COOKIE_SECURE"`
	CORSOrigins  []string      `mapstructure:"CORS_ORIGINS"`

	GeminiAPIKey  string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel   string        `mapstructure:"GEMINI_MODEL"`
	GeminiBaseURL string        `mapstructure:"GEMINI_BASE_URL"`
	AITimeout     time.Duration `mapstructure:"AI_TIMEOUT"`
	AIRetries     int           `mapstructure:"AI_RETRIES"`

	BlobBackend   string `mapstructure:"BLOB_BACKEND"`
	GridFSBucket  string `mapstructure:"GRIDFS_BUCKET"`
	S3Bucket      string `mapstructure:"S3_BUCKET"`
	S3Endpoint    string `mapstructure:"S3_ENDPOINT"`
	MaxUploadSize string `mapstructure:"MAX_UPLOAD_SIZE"`

	SMTPHost               string `mapstructure:"SMTP_HOST"`
	SMTPPort               int    `mapstructure:"SMTP_PORT"`
	SMTPUser               string `mapstructure:"SMTP_USER"`
	SMTPPassword           string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom               string `mapstructure:"SMTP_FROM"`
	SMTPInsecureSkipVerify bool   `mapstructure:"SMTP_INSECURE_SKIP_VERIFY"`

	ReminderInterval  time.Duration `mapstructure:"REMINDER_INTERVAL"`
	ReminderTimezone  string        `mapstructure:"REMINDER_TIMEZONE"`
	ReminderBatchSize int           `mapstructure:"REMINDER_BATCH_SIZE"`
	ReminderLease     time.Duration `mapstructure:"REMINDER_LEASE"`
	ReminderMailRPS   float64       `mapstructure:"REMINDER_MAIL_RPS"`

	// Zero falls back to the dispatcher defaults.
	ReminderRetryBackoff time.Duration `mapstructure:"REMINDER_RETRY_BACKOFF"`
	ReminderSkipBackoff  time.Duration `mapstructure:"REMINDER_SKIP_BACKOFF"`
	ReminderSendTimeout  time.Duration `mapstructure:"REMINDER_SEND_TIMEOUT"`

	KafkaBrokers         []string `mapstructure:"KAFKA_BROKERS"`
	KafkaSubmissionTopic string   `mapstructure:"KAFKA_SUBMISSION_TOPIC"`
}

var keys = []string{
	"PORT", "ENV", "STORE_DRIVER",
	"MONGO_URI", "MONGO_DATABASE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"JWT_SECRET", "JWT_TTL", "COOKIE_SECURE", "CORS_ORIGINS",
	"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_BASE_URL", "AI_TIMEOUT", "AI_RETRIES",
	"BLOB_BACKEND", "GRIDFS_BUCKET", "S3_BUCKET", "S3_ENDPOINT", "MAX_UPLOAD_SIZE",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD", "SMTP_FROM", "SMTP_INSECURE_SKIP_VERIFY",
	"REMINDER_INTERVAL", "REMINDER_TIMEZONE", "REMINDER_BATCH_SIZE", "REMINDER_LEASE", "REMINDER_MAIL_RPS",
	"REMINDER_RETRY_BACKOFF", "REMINDER_SKIP_BACKOFF", "REMINDER_SEND_TIMEOUT",
	"KAFKA_BROKERS", "KAFKA_SUBMISSION_TOPIC",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "4000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", StoreMongo)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "alzheon")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")
	v.SetDefault("AI_TIMEOUT", "60s")
	v.SetDefault("AI_RETRIES", 1)
	v.SetDefault("BLOB_BACKEND", BlobGridFS)
	v.SetDefault("GRIDFS_BUCKET", "submissions")
	v.SetDefault("MAX_UPLOAD_SIZE", "20M")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("REMINDER_INTERVAL", "60s")
	v.SetDefault("REMINDER_TIMEZONE", "Local")
	v.SetDefault("REMINDER_BATCH_SIZE", 200)
	v.SetDefault("REMINDER_LEASE", "5m")
	v.SetDefault("REMINDER_MAIL_RPS", 5)
	v.SetDefault("REMINDER_RETRY_BACKOFF", "5m")
	v.SetDefault("REMINDER_SKIP_BACKOFF", "1h")
	v.SetDefault("REMINDER_SEND_TIMEOUT", "30s")
	v.SetDefault("KAFKA_SUBMISSION_TOPIC", "alzheon.submissions")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.IsDev() && cfg.JWTSecret == "" {
		log.Println("WARNING: JWT_SECRET is not set; using an insecure development secret.")
		cfg.JWTSecret = "alzheon-dev-secret"
	}

	return cfg, nil
}

// splitList normalizes comma separated env values. Viper's own slice decoding
// keeps surrounding spaces and empty items.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves REMINDER_TIMEZONE. "Local" and "" map to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.ReminderTimezone == "" || c.ReminderTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.ReminderTimezone)
	if err != nil {
		return nil, fmt.Errorf("REMINDER_TIMEZONE: %w", err)
	}
	return loc, nil
}

// Validate checks that the configuration is consistent enough to start.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORE_DRIVER is %q", StoreMongo)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMongo, StorePostgres, c.StoreDriver)
	}

	switch c.BlobBackend {
	case BlobMemory, BlobS3:
	case BlobGridFS:
		if c.StoreDriver != StoreMongo {
			return fmt.Errorf("BLOB_BACKEND %q needs STORE_DRIVER %q", BlobGridFS, StoreMongo)
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be %q, %q or %q, got %q", BlobMemory, BlobGridFS, BlobS3, c.BlobBackend)
	}
	if c.BlobBackend == BlobS3 && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when BLOB_BACKEND is %q", BlobS3)
	}

	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.ReminderInterval <= 0 {
		return fmt.Errorf("REMINDER_INTERVAL must be positive, got %s", c.ReminderInterval)
	}
	if c.ReminderLease <= 0 {
		return fmt.Errorf("REMINDER_LEASE must be positive, got %s", c.ReminderLease)
	}
	if c.ReminderRetryBackoff < 0 || c.ReminderSkipBackoff < 0 || c.ReminderSendTimeout < 0 {
		return fmt.Errorf("reminder backoffs and REMINDER_SEND_TIMEOUT must not be negative")
	}
	if c.ReminderSendTimeout >= c.ReminderLease {
		return fmt.Errorf("REMINDER_SEND_TIMEOUT (%s) must be shorter than REMINDER_LEASE (%s)", c.ReminderSendTimeout, c.ReminderLease)
	}
	if c.AIRetries < 0 {
		return fmt.Errorf("AI_RETRIES must not be negative, got %d", c.AIRetries)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
