package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/aemupload/internal/aem"
	"github.com/florianilch/aemupload/internal/tokensource"
	"github.com/florianilch/aemupload/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TokenStorageType represents the different storage types supported for the token cache.
type TokenStorageType string

const (
	TokenStorageTypeSQLite    TokenStorageType = "sqlite"
	TokenStorageTypeSQLServer TokenStorageType = "sqlserver"
	TokenStorageTypeFile      TokenStorageType = "file"
	TokenStorageTypeKeyring   TokenStorageType = "keyring"
)

// TelemetryExporter selects where log records are exported besides the console.
type TelemetryExporter string

const (
	TelemetryExporterNone     TelemetryExporter = "none"
	TelemetryExporterStdout   TelemetryExporter = "stdout"
	TelemetryExporterOTLPHTTP TelemetryExporter = "otlp-http"
	TelemetryExporterOTLPGRPC TelemetryExporter = "otlp-grpc"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigTokenTimeout      = tokensource.DefaultTimeout
	DefaultConfigCSRFTimeout       = aem.DefaultCSRFTimeout
	DefaultConfigUploadTimeout     = aem.DefaultUploadTimeout
	DefaultConfigStorageType       = TokenStorageTypeSQLite
	DefaultConfigStorageTable      = tokenstore.DefaultTable
	DefaultConfigTelemetryExporter = TelemetryExporterNone

	keyringService = "aemupload-token"
	configDirName  = "aemupload"
)

// ErrConfiguration marks missing or invalid settings. It is raised before any
// storage or network work begins.
var ErrConfiguration = errors.New("configuration error")

// TokenConfig describes the OAuth2 client-credentials issuer.
type TokenConfig struct {
	URL          string        `json:"url" validate:"required,url"`
	ClientID     string        `json:"client_id" validate:"required"`
	ClientSecret string        `json:"client_secret" validate:"required"`
	Scope        string        `json:"scope" validate:"required"`
	Timeout      time.Duration `json:"timeout" validate:"gte=0"`
}

// UploadConfig describes the AEM instance and target folder.
type UploadConfig struct {
	BaseURL     string        `json:"base_url" validate:"required,url"`
	DAMPath     string        `json:"dam_path" validate:"required,startswith=/"`
	CSRFTimeout time.Duration `json:"csrf_timeout" validate:"gte=0"`
	Timeout     time.Duration `json:"timeout" validate:"gte=0"`
}

// SQLServerConfig holds SQL Server connection parameters.
type SQLServerConfig struct {
	Server   string `json:"server"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// StorageConfig describes how to construct the token cache.
type StorageConfig struct {
	Type  TokenStorageType `json:"type" validate:"required,oneof=sqlite sqlserver file keyring"`
	Table string           `json:"table"`

	// Backend-specific settings (only the one matching Type is used)
	SQLitePath  string          `json:"sqlite_path,omitempty"`
	SQLServer   SQLServerConfig `json:"sqlserver"`
	File        string          `json:"file,omitempty"`
	KeyringUser string          `json:"keyring_user,omitempty"`
}

// TelemetryConfig controls OpenTelemetry log export.
type TelemetryConfig struct {
	Exporter TelemetryExporter `json:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
}

// NewTokenStore creates a TokenStore from the storage configuration.
func (s *StorageConfig) NewTokenStore() (tokenstore.TokenStore, error) {
	switch s.Type {
	case TokenStorageTypeSQLite:
		return tokenstore.NewSQLiteStore(s.SQLitePath, s.Table)
	case TokenStorageTypeSQLServer:
		return tokenstore.NewSQLServerStore(tokenstore.SQLServerConfig{
			Server:   s.SQLServer.Server,
			Database: s.SQLServer.Database,
			User:     s.SQLServer.User,
			Password: s.SQLServer.Password,
		}, s.Table)
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(s.File)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore(keyringService, s.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Telemetry TelemetryConfig `json:"telemetry"`

	// Simulation replaces the issuer, cache and AEM with fixed responses.
	Simulation bool `json:"simulation"`

	Token   TokenConfig   `json:"token"`
	Upload  UploadConfig  `json:"upload"`
	Storage StorageConfig `json:"storage"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Token.Timeout == 0 {
		c.Token.Timeout = DefaultConfigTokenTimeout
	}
	if c.Upload.CSRFTimeout == 0 {
		c.Upload.CSRFTimeout = DefaultConfigCSRFTimeout
	}
	if c.Upload.Timeout == 0 {
		c.Upload.Timeout = DefaultConfigUploadTimeout
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}
	if c.Storage.Table == "" {
		c.Storage.Table = DefaultConfigStorageTable
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case TokenStorageTypeSQLite:
		if c.Storage.SQLitePath == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.sqlite_path required (auto-detect failed: %w)", err)
			}
			c.Storage.SQLitePath = filepath.Join(configDir, configDirName, "token-cache.db")
		}
	case TokenStorageTypeFile:
		if c.Storage.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.file required (auto-detect failed: %w)", err)
			}
			c.Storage.File = filepath.Join(configDir, configDirName, "token.json")
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeSQLServer:
		// connection parameters must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
// Failures wrap ErrConfiguration and name the offending keys.
func (c *Config) Validate() error {
	validate := validator.New()
	// Report fields by their config keys (token.url) rather than Go names.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			invalid := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				key := strings.TrimPrefix(fe.Namespace(), "Config.")
				invalid = append(invalid, fmt.Sprintf("%s (%s)", key, fe.Tag()))
			}
			return fmt.Errorf("%w: missing or invalid settings: %s", ErrConfiguration, strings.Join(invalid, ", "))
		}
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	switch c.Storage.Type {
	case TokenStorageTypeSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("%w: storage.sqlite_path required for sqlite storage", ErrConfiguration)
		}
	case TokenStorageTypeSQLServer:
		var missing []string
		for key, value := range map[string]string{
			"storage.sqlserver.server":   c.Storage.SQLServer.Server,
			"storage.sqlserver.database": c.Storage.SQLServer.Database,
			"storage.sqlserver.user":     c.Storage.SQLServer.User,
			"storage.sqlserver.password": c.Storage.SQLServer.Password,
		} {
			if value == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return fmt.Errorf("%w: %s required for sqlserver storage", ErrConfiguration, strings.Join(missing, ", "))
		}
	case TokenStorageTypeFile:
		if c.Storage.File == "" {
			return fmt.Errorf("%w: storage.file required for file storage", ErrConfiguration)
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			return fmt.Errorf("%w: storage.keyring_user required for keyring storage", ErrConfiguration)
		}
	}

	return nil
}
