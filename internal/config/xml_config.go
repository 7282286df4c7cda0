// Package config provides XML-based configuration for the intake front-end.
package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/client-intake/frontend/internal/flow"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"ClientIntake"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Remote intake service
	Backend BackendConfig `xml:"Backend"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Intake flow rules
	Intake IntakeConfig `xml:"Intake"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port              int    `xml:"Port"`
	BindAddress       string `xml:"BindAddress"`
	EnableCORS        bool   `xml:"EnableCORS"`
	AllowOrigins      string `xml:"AllowOrigins"`
	ReadTimeout       int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout      int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout       int    `xml:"IdleTimeoutSeconds"`
	BodyLimit         string `xml:"BodyLimit"`
	EnableCompression bool   `xml:"EnableCompression"`
	CompressionLevel  int    `xml:"CompressionLevel"`
}

// BackendConfig points at the remote intake service
type BackendConfig struct {
	BaseURL        string `xml:"BaseURL"`
	TimeoutSeconds int    `xml:"TimeoutSeconds"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	UploadsDirectory string `xml:"UploadsDirectory"`
	HistoryDatabase  string `xml:"HistoryDatabase"`
	MaxUploadSize    string `xml:"MaxUploadSize"`
	EnableHistory    bool   `xml:"EnableHistory"`
}

// IntakeConfig contains the flow rules and session housekeeping
type IntakeConfig struct {
	// Empty disables local phone validation.
	PhonePattern           string `xml:"PhonePattern"`
	MaxFiles               int    `xml:"MaxFiles"`
	RequireFullCode        bool   `xml:"RequireFullCode"`
	Locale                 string `xml:"Locale"`
	MessagesFile           string `xml:"MessagesFile"`
	MaxSessions            int    `xml:"MaxSessions"`
	SessionTimeoutMinutes  int    `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int    `xml:"CleanupIntervalMinutes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string  `xml:"LogLevel"`
	EnableRequestLogging bool    `xml:"EnableRequestLogging"`
	DuckDBThreads        int     `xml:"DuckDBThreads"`
	DuckDBMemoryLimit    string  `xml:"DuckDBMemoryLimit"`
	SubmitRateLimit      float64 `xml:"SubmitRatePerSecond"`
	SubmitBurst          int     `xml:"SubmitBurst"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:              8090,
			BindAddress:       "0.0.0.0",
			EnableCORS:        false,
			AllowOrigins:      "*",
			ReadTimeout:       30,
			WriteTimeout:      120,
			IdleTimeout:       120,
			BodyLimit:         "200M",
			EnableCompression: true,
			CompressionLevel:  5,
		},
		Backend: BackendConfig{
			BaseURL:        "https://law-f4xw.onrender.com",
			TimeoutSeconds: 60,
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			HistoryDatabase:  "./data/history.duckdb",
			MaxUploadSize:    "20M",
			EnableHistory:    true,
		},
		Intake: IntakeConfig{
			PhonePattern:           flow.DefaultPhonePattern,
			MaxFiles:               flow.DefaultMaxFiles,
			RequireFullCode:        true,
			Locale:                 "pl",
			MaxSessions:            1000,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			DuckDBThreads:        2,
			DuckDBMemoryLimit:    "256MB",
			SubmitRateLimit:      1,
			SubmitBurst:          5,
		},
	}
}

// LoadConfig loads configuration from XML file. A missing file is created
// with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Client Intake Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *AppConfig) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend base URL must be set")
	}
	if c.Intake.PhonePattern != "" {
		if _, err := regexp.Compile(c.Intake.PhonePattern); err != nil {
			return fmt.Errorf("invalid Intake.PhonePattern: %w", err)
		}
	}
	if _, err := ParseSize(c.Storage.MaxUploadSize); err != nil {
		return fmt.Errorf("invalid Storage.MaxUploadSize: %w", err)
	}
	if c.Intake.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("invalid Intake.SessionTimeoutMinutes: must be positive, got %d", c.Intake.SessionTimeoutMinutes)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR override moves everything stored below it
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.Storage.HistoryDatabase = filepath.Join(dataDir, "history.duckdb")
	}

	if url := os.Getenv("INTAKE_BACKEND_URL"); url != "" {
		c.Backend.BaseURL = url
	}

	if locale := os.Getenv("INTAKE_LOCALE"); locale != "" {
		c.Intake.Locale = locale
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.HistoryDatabase,
		&c.Intake.MessagesFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// GetBackendTimeout returns the per-call timeout for the intake service
func (c *AppConfig) GetBackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// GetMaxUploadSize returns the per-file size limit in bytes
func (c *AppConfig) GetMaxUploadSize() int64 {
	n, _ := ParseSize(c.Storage.MaxUploadSize)
	return n
}

// SessionTimeout returns how long an unused session is kept
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Intake.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often aged sessions are removed
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Intake.CleanupIntervalMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(c.Intake.CleanupIntervalMinutes) * time.Minute
}

// FlowRules builds the validation rules of the intake flow
func (c *AppConfig) FlowRules() flow.Rules {
	rules := flow.Rules{
		MaxFiles:        c.Intake.MaxFiles,
		RequireFullCode: c.Intake.RequireFullCode,
	}
	if c.Intake.PhonePattern != "" {
		rules.PhonePattern = regexp.MustCompile(c.Intake.PhonePattern)
	}
	return rules
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		filepath.Dir(c.Storage.HistoryDatabase),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ParseSize parses sizes like "20M", "1GB" or "512" into bytes. An empty
// string means no limit.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	s = strings.TrimSuffix(s, "B")

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * multiplier, nil
}
