// Package config provides configuration management for the locale translator.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"locale-translator/internal/logger"
	"locale-translator/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name
	DefaultConfigFileName = "config.json"
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the default chat model
	DefaultModel = "gpt-4o-mini"
	// DefaultTemperature keeps translations close to deterministic
	DefaultTemperature = 0.2
	// DefaultMaxAttempts is the default number of attempts per batch
	DefaultMaxAttempts = 3
	// DefaultRetryBaseDelayMs is the default backoff base in milliseconds
	DefaultRetryBaseDelayMs = 1000
	// DefaultBatchMaxItems is the default number of items per batch
	DefaultBatchMaxItems = 40
	// DefaultBatchMaxChars is the default source size of a batch, in characters
	DefaultBatchMaxChars = 6000
	// DefaultConcurrency is the default number of batches translated at once
	DefaultConcurrency = 3
	// DefaultRequestTimeoutSec is the default timeout of a single model request
	DefaultRequestTimeoutSec = 180
	// DefaultLogLevel is the default log level
	DefaultLogLevel = "info"
)

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath string
	config     *types.Config
}

// NewConfigManager creates a new ConfigManager with the specified config path.
// If configPath is empty, it uses config.json under the user config directory.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			logger.Error("failed to get user config directory", err)
			return nil, types.NewAppError(types.ErrConfig, "failed to get user config directory", err)
		}
		configPath = filepath.Join(dir, "locale-translator", DefaultConfigFileName)
	}

	logger.Debug("ConfigManager initialized", logger.String("configPath", configPath))
	return &ConfigManager{
		configPath: configPath,
		config:     defaultConfig(),
	}, nil
}

// defaultConfig returns a Config with default values
func defaultConfig() *types.Config {
	return &types.Config{
		BaseURL:          DefaultBaseURL,
		Model:            DefaultModel,
		Temperature:      DefaultTemperature,
		MaxAttempts:      DefaultMaxAttempts,
		RetryBaseDelayMs: DefaultRetryBaseDelayMs,
		BatchMaxItems:    DefaultBatchMaxItems,
		BatchMaxChars:    DefaultBatchMaxChars,
		Concurrency:      DefaultConcurrency,
		RequestTimeout:   DefaultRequestTimeoutSec,
		LogLevel:         DefaultLogLevel,
	}
}

// Load reads the config file, overlays environment variables and fills
// defaults for fields that are still empty. A missing file is not an error;
// an unparsable one is logged and ignored.
func (m *ConfigManager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	cfg := &types.Config{}
	data, readErr := os.ReadFile(m.configPath)
	switch {
	case readErr == nil:
		// decoded here rather than by cleanenv, which picks a parser by file extension
		if err := json.Unmarshal(data, cfg); err != nil {
			logger.Warn("invalid config file, using environment and defaults",
				logger.String("path", m.configPath),
				logger.Err(err))
			cfg = &types.Config{}
		}
	case os.IsNotExist(readErr):
		logger.Info("config file not found, using environment and defaults", logger.String("path", m.configPath))
	default:
		logger.Error("failed to read config file", readErr, logger.String("path", m.configPath))
		return types.NewAppError(types.ErrConfig, "failed to read config file", readErr)
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to read environment", err)
	}

	m.config = cfg
	logger.Info("configuration loaded",
		logger.String("path", m.configPath),
		logger.Int("apiKeyLength", len(cfg.APIKey)),
		logger.String("baseURL", cfg.BaseURL),
		logger.String("model", cfg.Model))
	return nil
}

// Save saves the current configuration to the config file.
func (m *ConfigManager) Save() error {
	logger.Debug("saving configuration", logger.String("path", m.configPath))

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("failed to create config directory", err, logger.String("dir", dir))
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	data, err := json.MarshalIndent(m.GetConfig(), "", "  ")
	if err != nil {
		logger.Error("failed to marshal config", err)
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		logger.Error("failed to write config file", err, logger.String("path", m.configPath))
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved", logger.String("path", m.configPath))
	return nil
}

// Validate checks the loaded configuration.
func (m *ConfigManager) Validate() error {
	return Validate(m.GetConfig())
}

// Validate reports every invalid field of cfg in one error.
func Validate(cfg *types.Config) error {
	var problems []string
	if strings.TrimSpace(cfg.Model) == "" {
		problems = append(problems, "model is required")
	}
	if cfg.MaxAttempts < 1 {
		problems = append(problems, "max_attempts must be positive")
	}
	if cfg.Concurrency < 1 {
		problems = append(problems, "concurrency must be positive")
	}
	if cfg.BatchMaxItems < 1 {
		problems = append(problems, "batch_max_items must be positive")
	}
	if cfg.BatchMaxChars < 1 {
		problems = append(problems, "batch_max_chars must be positive")
	}
	if cfg.RetryBaseDelayMs < 0 {
		problems = append(problems, "retry_base_delay_ms must not be negative")
	}
	if cfg.RequestTimeout < 0 {
		problems = append(problems, "request_timeout_sec must not be negative")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		problems = append(problems, fmt.Sprintf("temperature %.2f out of range [0, 2]", cfg.Temperature))
	}
	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return types.NewAppErrorWithDetails(types.ErrConfig, "invalid configuration", strings.Join(problems, "; "), nil)
	}
	return nil
}

// GetConfig returns the current configuration.
func (m *ConfigManager) GetConfig() *types.Config {
	if m.config == nil {
		return defaultConfig()
	}
	return m.config
}

// SetConfig sets the entire configuration.
func (m *ConfigManager) SetConfig(config *types.Config) {
	m.config = config
}

// GetConfigPath returns the path to the config file.
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

// GetAPIKey returns the API key.
func (m *ConfigManager) GetAPIKey() string {
	return m.GetConfig().APIKey
}

// SetAPIKey sets the API key and saves the configuration.
func (m *ConfigManager) SetAPIKey(key string) error {
	logger.Info("setting API key")
	if m.config == nil {
		m.config = defaultConfig()
	}
	m.config.APIKey = key
	return m.Save()
}

// GetModel returns the chat model name.
func (m *ConfigManager) GetModel() string {
	if c := m.GetConfig(); c.Model != "" {
		return c.Model
	}
	return DefaultModel
}

// GetBaseURL returns the API base URL.
func (m *ConfigManager) GetBaseURL() string {
	if c := m.GetConfig(); c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultBaseURL
}

// GetConcurrency returns the number of batches translated at once.
func (m *ConfigManager) GetConcurrency() int {
	if c := m.GetConfig(); c.Concurrency > 0 {
		return c.Concurrency
	}
	return DefaultConcurrency
}

// GetRetryBaseDelay returns the backoff base between attempts.
func (m *ConfigManager) GetRetryBaseDelay() time.Duration {
	if c := m.GetConfig(); c.RetryBaseDelayMs > 0 {
		return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
	}
	return DefaultRetryBaseDelayMs * time.Millisecond
}

// GetRequestTimeout returns the timeout of a single model request.
func (m *ConfigManager) GetRequestTimeout() time.Duration {
	if c := m.GetConfig(); c.RequestTimeout > 0 {
		return time.Duration(c.RequestTimeout) * time.Second
	}
	return DefaultRequestTimeoutSec * time.Second
}

// GetWorkDirectory returns the work directory, where the failure ledger is
// kept. It falls back to the directory of the config file.
func (m *ConfigManager) GetWorkDirectory() string {
	if c := m.GetConfig(); c.WorkDirectory != "" {
		return c.WorkDirectory
	}
	return filepath.Dir(m.configPath)
}
