package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
//
// Values are layered: the YAML file first, then a .env file in the working
// directory, then process environment variables. Each envconfig tag names the
// variable that overrides the field.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Parking    ParkingConfig    `yaml:"parking"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Auth       AuthConfig       `yaml:"auth"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	CORS       CORSConfig       `yaml:"cors"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port                   int     `yaml:"port" envconfig:"PORT"`
	Mode                   string  `yaml:"mode" envconfig:"GIN_MODE"`
	RequestIPHeader        string  `yaml:"request_ip_header" envconfig:"REQUEST_IP_HEADER"`
	RateLimitPerSec        float64 `yaml:"rate_limit_per_sec" envconfig:"RATE_LIMIT_PER_SEC"`
	RateLimitBurst         int     `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`
	CacheTTLSeconds        int     `yaml:"cache_ttl_seconds" envconfig:"CACHE_TTL_SECONDS"`
	ShutdownTimeoutSeconds int     `yaml:"shutdown_timeout_seconds" envconfig:"SHUTDOWN_TIMEOUT_SECONDS"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver" envconfig:"DB_DRIVER"`
	DSN                    string `yaml:"dsn" envconfig:"DB_DSN"`
	MaxOpenConns           int    `yaml:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns           int    `yaml:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" envconfig:"DB_CONN_MAX_LIFETIME_MINUTES"`
}

// ParkingConfig holds pricing and expiry settings.
type ParkingConfig struct {
	HourlyRate          int64         `yaml:"hourly_rate" envconfig:"TARIF_HEURE"`
	MaxDurationHours    int           `yaml:"max_duration_hours" envconfig:"DUREE_MAX_HEURES"`
	ScanIntervalSeconds int           `yaml:"scan_interval_seconds" envconfig:"INTERVALLE_VERIFICATION"`
	ScanInterval        time.Duration `yaml:"-" ignored:"true"`
	DefaultSpaces       []string      `yaml:"default_spaces" envconfig:"DEFAULT_SPACES"`
}

type SensorConfig struct {
	APIKey string `yaml:"api_key" envconfig:"SENSOR_API_KEY"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret     string   `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	Issuer        string   `yaml:"issuer" envconfig:"JWT_ISSUER"`
	AdminSubjects []string `yaml:"admin_subjects" envconfig:"ADMIN_SUBJECTS"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key" envconfig:"VAPID_PUBLIC_KEY"`
	PrivateKey string `yaml:"vapid_private_key" envconfig:"VAPID_PRIVATE_KEY"`
	Subject    string `yaml:"subject" envconfig:"VAPID_SUBJECT"`
	TTL        int    `yaml:"ttl" envconfig:"VAPID_TTL"`
}

// WorkerPoolConfig holds the configuration for the push notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size" envconfig:"WORKER_POOL_SIZE"`
}

type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins" envconfig:"CORS_ORIGINS"`
	MaxAgeHours  int      `yaml:"max_age_hours" envconfig:"CORS_MAX_AGE_HOURS"`
}

type LogConfig struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL"`
	TimeFormat string `yaml:"time_format" envconfig:"LOG_TIME_FORMAT"`
}

// Load reads the YAML file at path (skipped when path is empty), then the
// optional .env file, then the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}
	if cfg.Server.ShutdownTimeoutSeconds <= 0 {
		cfg.Server.ShutdownTimeoutSeconds = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "aeropark.db"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}

	if cfg.Parking.HourlyRate == 0 {
		cfg.Parking.HourlyRate = 1000
	}
	if cfg.Parking.MaxDurationHours == 0 {
		cfg.Parking.MaxDurationHours = 168
	}
	if cfg.Parking.ScanIntervalSeconds <= 0 {
		cfg.Parking.ScanIntervalSeconds = 30
	}
	cfg.Parking.ScanInterval = time.Duration(cfg.Parking.ScanIntervalSeconds) * time.Second
	if len(cfg.Parking.DefaultSpaces) == 0 {
		cfg.Parking.DefaultSpaces = []string{"A1", "A2", "A3", "A4", "A5"}
	}

	if cfg.Sensor.APIKey == "" {
		slog.Warn("SENSOR_API_KEY is not set; using the built-in development key")
		cfg.Sensor.APIKey = "aeropark-sensor-key-2024"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if len(cfg.CORS.AllowOrigins) == 0 {
		cfg.CORS.AllowOrigins = []string{"*"}
	}
	if cfg.CORS.MaxAgeHours <= 0 {
		cfg.CORS.MaxAgeHours = 12
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.TimeFormat == "" {
		cfg.Log.TimeFormat = "2006-01-02 15:04:05.000"
	}
}

func (cfg *Config) validate() error {
	switch cfg.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required for driver %s", cfg.Database.Driver)
	}
	if cfg.Parking.HourlyRate < 0 {
		return fmt.Errorf("hourly rate must not be negative, got %d", cfg.Parking.HourlyRate)
	}
	if cfg.Parking.MaxDurationHours < 1 {
		return fmt.Errorf("max duration must be at least 1 hour, got %d", cfg.Parking.MaxDurationHours)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}
