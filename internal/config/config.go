package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Configuration struct {
	Server   ServerConfig   `json:"server"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Workflow WorkflowConfig `json:"workflow"`
	Storage  StorageConfig  `json:"storage"`
	Database DatabaseConfig `json:"database"`
	CORS     CORSConfig     `json:"cors"`
}

type ServerConfig struct {
	Environment     string        `json:"environment" env:"APP_ENV"`
	Port            string        `json:"port" env:"PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `json:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

type SecurityConfig struct {
	// TokenSecret verifies the HS256 bearer tokens issued by the
	// authentication service.
	TokenSecret string        `json:"token_secret" env:"JWT_SECRET"`
	TokenTTL    time.Duration `json:"token_ttl" env:"JWT_TTL"`
	TokenIssuer string        `json:"token_issuer" env:"JWT_ISSUER"`
}

type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	FilePath   string `json:"file_path" env:"LOG_FILE"`
	MaxSizeMB  int    `json:"max_size_mb" env:"LOG_MAX_SIZE_MB"`
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"LOG_MAX_AGE_DAYS"`
}

type WorkflowConfig struct {
	SequentialSigning bool `json:"sequential_signing" env:"WORKFLOW_SEQUENTIAL_SIGNING"`
	DefaultListLimit  int  `json:"default_list_limit" env:"WORKFLOW_DEFAULT_LIST_LIMIT"`
	MaxListLimit      int  `json:"max_list_limit" env:"WORKFLOW_MAX_LIST_LIMIT"`
}

type StorageConfig struct {
	MaxPDFBytes int64 `json:"max_pdf_bytes" env:"STORAGE_MAX_PDF_BYTES"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver          string `json:"driver" env:"DB_DRIVER"`
	Host            string `json:"host" env:"DB_HOST"`
	Port            string `json:"port" env:"DB_PORT"`
	Username        string `json:"username" env:"DB_USER"`
	Password        string `json:"password" env:"DB_PASSWORD"`
	Name            string `json:"name" env:"DB_NAME"`
	SSLMode         string `json:"ssl_mode" env:"DB_SSLMODE"`
	Path            string `json:"path" env:"DB_PATH"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
	LogLevel        string `json:"log_level" env:"DB_LOG_LEVEL"`
}

type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins" env:"CORS_ORIGINS" envSeparator:","`
	AllowCredentials bool     `json:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS"`
}

var (
	config     *Configuration
	configLock sync.RWMutex
)

func defaults() *Configuration {
	return &Configuration{
		Server: ServerConfig{
			Environment:     "development",
			Port:            "8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Security: SecurityConfig{
			TokenSecret: "qms-dev-secret-change-in-prod",
			TokenTTL:    7 * 24 * time.Hour,
			TokenIssuer: "qms",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Workflow: WorkflowConfig{
			SequentialSigning: false,
			DefaultListLimit:  50,
			MaxListLimit:      200,
		},
		Storage: StorageConfig{
			MaxPDFBytes: 25 << 20,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            "5432",
			Username:        "postgres",
			Password:        "password",
			Name:            "qms",
			SSLMode:         "disable",
			Path:            "qms.db",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: 300,
			LogLevel:        "warn",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// LoadConfig reads a JSON file over the defaults. Keys missing from the
// file keep their default value.
func LoadConfig(filePath string) (*Configuration, error) {
	cfg := defaults()

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configLock.Lock()
	config = cfg
	configLock.Unlock()
	return cfg, nil
}

// ApplyEnv loads envFile (if given and present) into the process
// environment and overlays any set variables onto cfg.
func ApplyEnv(cfg *Configuration, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg.Validate()
}

func (c *Configuration) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Security.TokenSecret == "" {
		return errors.New("security.token_secret must be set")
	}
	if c.Workflow.DefaultListLimit <= 0 || c.Workflow.MaxListLimit < c.Workflow.DefaultListLimit {
		return fmt.Errorf("invalid list limits %d/%d", c.Workflow.DefaultListLimit, c.Workflow.MaxListLimit)
	}
	if c.Storage.MaxPDFBytes <= 0 {
		return errors.New("storage.max_pdf_bytes must be positive")
	}
	return nil
}

func GetConfig() *Configuration {
	configLock.RLock()
	defer configLock.RUnlock()
	return config
}

func UpdateConfig(updater func(*Configuration)) {
	configLock.Lock()
	defer configLock.Unlock()
	updater(config)
}

func InitializeDefaultConfig() *Configuration {
	configLock.Lock()
	defer configLock.Unlock()

	config = defaults()
	return config
}

func LogConfig(logger *zap.Logger) {
	configLock.RLock()
	defer configLock.RUnlock()

	redacted := *config
	redacted.Security.TokenSecret = "[REDACTED]"
	redacted.Database.Password = "[REDACTED]"

	logger.Info("Application configuration",
		zap.String("environment", redacted.Server.Environment),
		zap.String("port", redacted.Server.Port),
		zap.Duration("read_timeout", redacted.Server.ReadTimeout),
		zap.Duration("write_timeout", redacted.Server.WriteTimeout),
		zap.Bool("sequential_signing", redacted.Workflow.SequentialSigning),
		zap.Int64("max_pdf_bytes", redacted.Storage.MaxPDFBytes),
		zap.String("database_driver", redacted.Database.Driver),
		zap.String("database_host", redacted.Database.Host),
		zap.String("database_name", redacted.Database.Name),
		zap.Strings("cors_origins", redacted.CORS.AllowedOrigins),
	)
}
