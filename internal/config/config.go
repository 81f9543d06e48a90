package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ServerConfig holds the HTTP listener and edge settings.
type ServerConfig struct {
	Port           string   `json:"port"`
	PublicURL      string   `json:"public_url"`      // e.g., "https://api.signingroom.io", used for webhooks
	AllowedOrigins []string `json:"allowed_origins"` // CORS origins; empty allows localhost only
	RateLimit      int      `json:"rate_limit"`      // requests per minute per client IP, 0 disables
}

// DBConfig holds the database connection parameters.
type DBConfig struct {
	Type     string `json:"type"` // "postgres" or "sqlite"
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
	TimeZone string `json:"timezone"`
	Path     string `json:"path"` // sqlite file, e.g., "data/signingroom.db"
}

// LoggerConfig holds the logging configuration.
type LoggerConfig struct {
	Level      string `json:"level"`  // e.g., "debug", "info", "warn", "error"
	Format     string `json:"format"` // "text" or "json"
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // megabytes
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

// PaymentConfig points at the Lightning payment oracle.
type PaymentConfig struct {
	LNbitsURL string `json:"lnbits_url"`
	LNbitsKey string `json:"lnbits_key"`
}

// Config holds the application's configuration values.
type Config struct {
	Server   ServerConfig  `json:"server"`
	Database DBConfig      `json:"database"`
	Logger   LoggerConfig  `json:"logger"`
	Payment  PaymentConfig `json:"payment"`
}

// Default returns a configuration suitable for a single local node.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      "8080",
			PublicURL: "http://localhost:8080",
			RateLimit: 20,
		},
		Database: DBConfig{
			Type: "sqlite",
			Path: "signingroom.db",
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		},
	}
}

// LoadConfig reads the configuration from a file and returns a Config struct.
// Fields missing from the file keep their defaults. An empty path skips the
// file and uses defaults plus the environment.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		if err := decoder.Decode(config); err != nil {
			return nil, err
		}
	}

	applyEnv(config)
	return config, nil
}

// LoadEnvFile loads a .env file into the process environment. A missing file
// is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// applyEnv lets secrets and deployment specifics live outside the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SIGNINGROOM_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("SIGNINGROOM_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("SIGNINGROOM_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("SIGNINGROOM_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SIGNINGROOM_LNBITS_URL"); v != "" {
		cfg.Payment.LNbitsURL = v
	}
	if v := os.Getenv("SIGNINGROOM_LNBITS_KEY"); v != "" {
		cfg.Payment.LNbitsKey = v
	}
	if v := os.Getenv("SIGNINGROOM_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}
