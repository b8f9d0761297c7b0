package config

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config holds all application configuration
type Config struct {
	Server    Server    `yaml:"server"`
	Database  Database  `yaml:"database"`
	Scheduler Scheduler `yaml:"scheduler"`
	Dispatch  Dispatch  `yaml:"dispatch"`
	TikTok    TikTok    `yaml:"tiktok"`
	Twitter   Twitter   `yaml:"twitter"`
	HTTP      HTTP      `yaml:"http"`
	S3        S3        `yaml:"s3"`
	Plan      Plan      `yaml:"plan"`
	Log       Log       `yaml:"log"`
}

// S3 holds S3/MinIO storage configuration
type S3 struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"media"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/media"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Database holds database configuration
type Database struct {
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`

	// PostgreSQL
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`

	// MongoDB
	MongoURI      string `yaml:"mongo_uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE" env-default:"neo_publisher"`

	// Connection pool settings
	MaxOpenConns int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DB_CONN_LIFETIME" env-default:"5m"`
}

// Scheduler holds scheduler configuration
type Scheduler struct {
	Enabled  bool          `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"true"`
	Interval time.Duration `yaml:"interval" env:"SCHEDULER_INTERVAL" env-default:"1m"`
}

// Dispatch holds the pacing between platform calls of one post
type Dispatch struct {
	PlatformDelay       time.Duration `yaml:"platform_delay" env:"DISPATCH_PLATFORM_DELAY" env-default:"5s"`
	AccountDelay        time.Duration `yaml:"account_delay" env:"DISPATCH_ACCOUNT_DELAY" env-default:"5s"`
	TwitterAccountDelay time.Duration `yaml:"twitter_account_delay" env:"DISPATCH_TWITTER_ACCOUNT_DELAY" env-default:"3s"`
	RefreshRetryDelay   time.Duration `yaml:"refresh_retry_delay" env:"DISPATCH_REFRESH_RETRY_DELAY" env-default:"1s"`
}

// TikTok holds TikTok Content Posting API configuration
type TikTok struct {
	BaseURL         string        `yaml:"base_url" env:"TIKTOK_BASE_URL" env-default:"https://open.tiktokapis.com"`
	ClientKey       string        `yaml:"client_key" env:"TIKTOK_CLIENT_KEY"`
	ClientSecret    string        `yaml:"client_secret" env:"TIKTOK_CLIENT_SECRET"`
	PrivacyLevel    string        `yaml:"privacy_level" env:"TIKTOK_PRIVACY_LEVEL" env-default:"SELF_ONLY"`
	PollBaseDelay   time.Duration `yaml:"poll_base_delay" env:"TIKTOK_POLL_BASE_DELAY" env-default:"3s"`
	PollMaxDelay    time.Duration `yaml:"poll_max_delay" env:"TIKTOK_POLL_MAX_DELAY" env-default:"30s"`
	PollMaxAttempts int           `yaml:"poll_max_attempts" env:"TIKTOK_POLL_MAX_ATTEMPTS" env-default:"20"`
}

// Twitter holds X API v2 configuration
type Twitter struct {
	BaseURL      string `yaml:"base_url" env:"TWITTER_BASE_URL" env-default:"https://api.x.com"`
	UploadURL    string `yaml:"upload_url" env:"TWITTER_UPLOAD_URL"`
	TokenURL     string `yaml:"token_url" env:"TWITTER_TOKEN_URL" env-default:"https://api.x.com/2/oauth2/token"`
	ClientID     string `yaml:"client_id" env:"TWITTER_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"TWITTER_CLIENT_SECRET"`
	ChunkSize    int    `yaml:"chunk_size" env:"TWITTER_CHUNK_SIZE" env-default:"4194304"`
}

// HTTP holds outbound request settings shared by the platform clients
type HTTP struct {
	Timeout        time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"30s"`
	RetryAttempts  int           `yaml:"retry_attempts" env:"HTTP_RETRY_ATTEMPTS" env-default:"3"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"HTTP_RETRY_BASE_DELAY" env-default:"2s"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" env:"HTTP_RETRY_MAX_DELAY" env-default:"10s"`
	// DownloadTimeout bounds a whole source video download
	DownloadTimeout time.Duration `yaml:"download_timeout" env:"HTTP_DOWNLOAD_TIMEOUT" env-default:"2m"`
}

// Plan holds plan quota configuration
type Plan struct {
	// MonthlyPostLimit of zero disables the quota
	MonthlyPostLimit int `yaml:"monthly_post_limit" env:"PLAN_MONTHLY_POST_LIMIT" env-default:"0"`
}

// Log holds logger configuration
type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// SlogLevel returns the configured slog level, defaulting to info
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks settings cleanenv cannot express
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %q", DriverPostgres)
		}
	case DriverMongo:
		if c.Database.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for driver %q", DriverMongo)
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", c.Scheduler.Interval)
	}
	if c.TikTok.PollMaxAttempts < 1 {
		return fmt.Errorf("tiktok poll attempts must be at least 1, got %d", c.TikTok.PollMaxAttempts)
	}
	if c.HTTP.RetryAttempts < 1 {
		return fmt.Errorf("http retry attempts must be at least 1, got %d", c.HTTP.RetryAttempts)
	}

	return nil
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
