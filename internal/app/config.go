package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/tokenbridge/internal/bridge"
	"github.com/florianilch/tokenbridge/internal/observability"
	"github.com/florianilch/tokenbridge/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// StorageBackend represents the different backends tokens can be persisted in.
type StorageBackend string

const (
	StorageBackendFile    StorageBackend = "file"
	StorageBackendEnv     StorageBackend = "env"
	StorageBackendKeyring StorageBackend = "keyring"
	StorageBackendSQLite  StorageBackend = "sqlite"
	StorageBackendMemory  StorageBackend = "memory"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigLogExporter     = observability.ExporterNone
	DefaultConfigTraceExporter   = observability.ExporterNone
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4100
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigStorageBackend  = StorageBackendFile
	DefaultConfigEnvPrefix       = "TOKENBRIDGE_STORE_"
	DefaultConfigKeyringService  = "tokenbridge"
	DefaultConfigBridgeKey       = tokenstore.DefaultKey
	DefaultConfigBridgeMount     = bridge.DefaultMountID

	appDirName = "tokenbridge"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// StorageConfig describes how to construct the token store.
type StorageConfig struct {
	Backend StorageBackend `json:"backend" validate:"required,oneof=file env keyring sqlite memory"`

	// Backend-specific settings (only the one matching Backend is used)
	Dir            string `json:"dir,omitempty"`             // file: directory holding one file per key
	EnvPrefix      string `json:"env_prefix,omitempty"`      // env: variable name prefix
	KeyringService string `json:"keyring_service,omitempty"` // keyring: service name
	KeyringUser    string `json:"keyring_user,omitempty"`    // keyring: user identifier
	SQLitePath     string `json:"sqlite_path,omitempty"`     // sqlite: database file
}

// BridgeConfig holds the bootstrap bridge settings.
type BridgeConfig struct {
	Key   string `json:"key" validate:"required"`
	Mount string `json:"mount" validate:"required"`
}

// NewTokenStore creates the configured Store. The returned close function
// releases backend resources and is never nil.
func (s *StorageConfig) NewTokenStore() (tokenstore.Store, func() error, error) {
	noop := func() error { return nil }

	switch s.Backend {
	case StorageBackendFile:
		store, err := tokenstore.NewFileStore(s.Dir)
		return store, noop, err
	case StorageBackendEnv:
		return tokenstore.NewEnvStore(s.EnvPrefix), noop, nil
	case StorageBackendKeyring:
		store, err := tokenstore.NewKeyringStore(s.KeyringService, s.KeyringUser)
		return store, noop, err
	case StorageBackendSQLite:
		store, err := tokenstore.NewSQLiteStore(s.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case StorageBackendMemory:
		return tokenstore.NewMemoryStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage backend: %s", s.Backend)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel      slog.Level             `json:"log_level"`
	LogFormat     LogFormat              `json:"log_format" validate:"oneof=text json"`
	LogExporter   observability.Exporter `json:"log_exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
	// TraceExporter ships bridge spans; none leaves tracing disabled.
	TraceExporter observability.Exporter `json:"trace_exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
	Server        ServerConfig           `json:"server"`
	Shutdown      ShutdownConfig         `json:"shutdown"`
	Storage       StorageConfig          `json:"storage"`
	Bridge        BridgeConfig           `json:"bridge"`
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
	if c.LogExporter == "" {
		c.LogExporter = DefaultConfigLogExporter
	}
	if c.TraceExporter == "" {
		c.TraceExporter = DefaultConfigTraceExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultConfigStorageBackend
	}
	if c.Bridge.Key == "" {
		c.Bridge.Key = DefaultConfigBridgeKey
	}
	if c.Bridge.Mount == "" {
		c.Bridge.Mount = DefaultConfigBridgeMount
	}

	// Dynamic defaults based on storage backend
	switch c.Storage.Backend {
	case StorageBackendFile:
		if c.Storage.Dir == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.dir required (auto-detect failed: %w)", err)
			}
			c.Storage.Dir = filepath.Join(configDir, appDirName, "store")
		}
	case StorageBackendSQLite:
		if c.Storage.SQLitePath == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.sqlite_path required (auto-detect failed: %w)", err)
			}
			c.Storage.SQLitePath = filepath.Join(configDir, appDirName, "store.db")
		}
	case StorageBackendEnv:
		if c.Storage.EnvPrefix == "" {
			c.Storage.EnvPrefix = DefaultConfigEnvPrefix
		}
	case StorageBackendKeyring:
		if c.Storage.KeyringService == "" {
			c.Storage.KeyringService = DefaultConfigKeyringService
		}
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	case StorageBackendMemory:
		// nothing to configure
	}

	return nil
}

// Validate validates the configuration using struct tags and backend requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case StorageBackendFile:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir required for file storage")
		}
	case StorageBackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path required for sqlite storage")
		}
	case StorageBackendKeyring:
		if c.Storage.KeyringService == "" || c.Storage.KeyringUser == "" {
			return errors.New("storage.keyring_service and storage.keyring_user required for keyring storage")
		}
	}

	return nil
}
