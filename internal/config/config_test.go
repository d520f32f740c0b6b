package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"locale-translator/internal/types"
)

var envNames = []string{
	"OPENAI_API_KEY",
	"OPENAI_BASE_URL",
	"LOCALE_TRANSLATOR_MODEL",
	"LOCALE_TRANSLATOR_TEMPERATURE",
	"LOCALE_TRANSLATOR_MAX_ATTEMPTS",
	"LOCALE_TRANSLATOR_RETRY_DELAY_MS",
	"LOCALE_TRANSLATOR_BATCH_MAX_ITEMS",
	"LOCALE_TRANSLATOR_BATCH_MAX_CHARS",
	"LOCALE_TRANSLATOR_CONCURRENCY",
	"LOCALE_TRANSLATOR_REQUEST_TIMEOUT_SEC",
	"LOCALE_TRANSLATOR_LOG_LEVEL",
	"LOCALE_TRANSLATOR_LOG_FILE",
	"LOCALE_TRANSLATOR_WORK_DIR",
}

// clearEnv unsets every variable the config reads, restoring them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envNames {
		if old, ok := os.LookupEnv(name); ok {
			os.Unsetenv(name)
			t.Cleanup(func() { os.Setenv(name, old) })
		}
	}
}

func TestNewConfigManager(t *testing.T) {
	t.Run("with custom path", func(t *testing.T) {
		customPath := filepath.Join(t.TempDir(), "test-config.json")
		cm, err := NewConfigManager(customPath)
		if err != nil {
			t.Fatalf("NewConfigManager failed: %v", err)
		}
		if cm.GetConfigPath() != customPath {
			t.Errorf("expected config path %s, got %s", customPath, cm.GetConfigPath())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		cm, err := NewConfigManager("")
		if err != nil {
			t.Fatalf("NewConfigManager failed: %v", err)
		}
		if !strings.HasSuffix(cm.GetConfigPath(), filepath.Join("locale-translator", DefaultConfigFileName)) {
			t.Errorf("unexpected default path %s", cm.GetConfigPath())
		}
	})
}

func TestConfigManager_LoadSave(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.json")

	t.Run("Load with non-existent file uses defaults", func(t *testing.T) {
		cm, _ := NewConfigManager(configPath)
		if err := cm.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		cfg := cm.GetConfig()
		if cfg.Model != DefaultModel || cfg.BaseURL != DefaultBaseURL {
			t.Errorf("expected default model and url, got %s %s", cfg.Model, cfg.BaseURL)
		}
		if cfg.MaxAttempts != DefaultMaxAttempts || cfg.BatchMaxItems != DefaultBatchMaxItems ||
			cfg.BatchMaxChars != DefaultBatchMaxChars || cfg.Concurrency != DefaultConcurrency ||
			cfg.RequestTimeout != DefaultRequestTimeoutSec || cfg.RetryBaseDelayMs != DefaultRetryBaseDelayMs {
			t.Errorf("numeric defaults not applied: %+v", cfg)
		}
		if cfg.Temperature != DefaultTemperature || cfg.LogLevel != DefaultLogLevel {
			t.Errorf("unexpected temperature/log level: %v %q", cfg.Temperature, cfg.LogLevel)
		}
	})

	t.Run("Save then Load round trips", func(t *testing.T) {
		cm, _ := NewConfigManager(configPath)
		cfg := defaultConfig()
		cfg.APIKey = "test-api-key"
		cfg.Model = "gpt-4.1"
		cfg.Concurrency = 8
		cfg.WorkDirectory = "/tmp/work"
		cm.SetConfig(cfg)
		if err := cm.Save(); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		info, err := os.Stat(configPath)
		if err != nil {
			t.Fatalf("config file was not created: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
		}

		loaded, _ := NewConfigManager(configPath)
		if err := loaded.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		got := loaded.GetConfig()
		if got.APIKey != "test-api-key" || got.Model != "gpt-4.1" || got.Concurrency != 8 || got.WorkDirectory != "/tmp/work" {
			t.Errorf("saved values not loaded: %+v", got)
		}
	})

	t.Run("partial file gets defaults for missing fields", func(t *testing.T) {
		partial := filepath.Join(tmpDir, "partial.json")
		if err := os.WriteFile(partial, []byte(`{"model":"local-llm","batch_max_items":5}`), 0600); err != nil {
			t.Fatal(err)
		}
		cm, _ := NewConfigManager(partial)
		if err := cm.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		cfg := cm.GetConfig()
		if cfg.Model != "local-llm" || cfg.BatchMaxItems != 5 {
			t.Errorf("file values lost: %+v", cfg)
		}
		if cfg.BatchMaxChars != DefaultBatchMaxChars || cfg.MaxAttempts != DefaultMaxAttempts {
			t.Errorf("defaults not applied: %+v", cfg)
		}
	})

	t.Run("Load with invalid JSON uses defaults", func(t *testing.T) {
		invalid := filepath.Join(tmpDir, "invalid-config.json")
		if err := os.WriteFile(invalid, []byte("invalid json"), 0644); err != nil {
			t.Fatalf("failed to write invalid config: %v", err)
		}

		cm, _ := NewConfigManager(invalid)
		if err := cm.Load(); err != nil {
			t.Fatalf("Load should not fail with invalid JSON: %v", err)
		}
		if cm.GetConfig().Model != DefaultModel {
			t.Errorf("expected default model after invalid JSON, got %s", cm.GetConfig().Model)
		}
	})
}

func TestConfigManager_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte(`{"api_key":"file-key","model":"file-model","concurrency":2}`), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("LOCALE_TRANSLATOR_CONCURRENCY", "6")

	cm, _ := NewConfigManager(configPath)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg := cm.GetConfig()
	if cfg.APIKey != "env-key" || cm.GetAPIKey() != "env-key" {
		t.Errorf("env should win for api key, got %q", cfg.APIKey)
	}
	if cfg.Concurrency != 6 {
		t.Errorf("env should win for concurrency, got %d", cfg.Concurrency)
	}
	if cfg.Model != "file-model" {
		t.Errorf("file value should survive when env is unset, got %q", cfg.Model)
	}
}

func TestConfigManager_LoadIgnoresExtension(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	for _, name := range []string{"translator.conf", "translatorrc"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(`{"model":"conf-model","max_attempts":5}`), 0600); err != nil {
			t.Fatal(err)
		}

		cm, _ := NewConfigManager(path)
		if err := cm.Load(); err != nil {
			t.Fatalf("Load(%s) failed: %v", name, err)
		}
		cfg := cm.GetConfig()
		if cfg.Model != "conf-model" || cfg.MaxAttempts != 5 {
			t.Errorf("%s: file values lost: %+v", name, cfg)
		}
		if cfg.Concurrency != DefaultConcurrency {
			t.Errorf("%s: defaults not applied, concurrency %d", name, cfg.Concurrency)
		}
	}
}

func TestConfigManager_EnvWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOCALE_TRANSLATOR_MODEL", "env-model")
	t.Setenv("LOCALE_TRANSLATOR_RETRY_DELAY_MS", "250")

	cm, _ := NewConfigManager(filepath.Join(t.TempDir(), "missing.json"))
	if err := cm.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cm.GetModel() != "env-model" {
		t.Errorf("expected env model, got %s", cm.GetModel())
	}
	if cm.GetRetryBaseDelay() != 250*time.Millisecond {
		t.Errorf("unexpected retry delay %v", cm.GetRetryBaseDelay())
	}
}

func TestConfigManager_SetAPIKey(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test-config.json")
	cm, _ := NewConfigManager(configPath)

	if err := cm.SetAPIKey("new-api-key"); err != nil {
		t.Fatalf("SetAPIKey failed: %v", err)
	}
	if cm.GetAPIKey() != "new-api-key" {
		t.Errorf("expected 'new-api-key', got '%s'", cm.GetAPIKey())
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	var saved types.Config
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("failed to parse saved config: %v", err)
	}
	if saved.APIKey != "new-api-key" {
		t.Errorf("expected saved API key 'new-api-key', got '%s'", saved.APIKey)
	}
}

func TestConfigManager_GettersWithDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "cfg", "config.json")
	cm, _ := NewConfigManager(configPath)
	cm.SetConfig(&types.Config{})

	if cm.GetModel() != DefaultModel || cm.GetBaseURL() != DefaultBaseURL {
		t.Errorf("unexpected defaults %s %s", cm.GetModel(), cm.GetBaseURL())
	}
	if cm.GetConcurrency() != DefaultConcurrency {
		t.Errorf("unexpected concurrency %d", cm.GetConcurrency())
	}
	if cm.GetRequestTimeout() != 180*time.Second || cm.GetRetryBaseDelay() != time.Second {
		t.Errorf("unexpected durations %v %v", cm.GetRequestTimeout(), cm.GetRetryBaseDelay())
	}
	if cm.GetWorkDirectory() != filepath.Dir(configPath) {
		t.Errorf("work directory should fall back to the config dir, got %s", cm.GetWorkDirectory())
	}

	cm.SetConfig(&types.Config{WorkDirectory: "/custom/work", Model: "m"})
	if cm.GetWorkDirectory() != "/custom/work" || cm.GetModel() != "m" {
		t.Errorf("configured values ignored: %s %s", cm.GetWorkDirectory(), cm.GetModel())
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(defaultConfig()); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}

	bad := defaultConfig()
	bad.MaxAttempts = 0
	bad.Concurrency = -1
	bad.Temperature = 3
	bad.LogLevel = "chatty"

	err := Validate(bad)
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	for _, want := range []string{"max_attempts", "concurrency", "temperature", "chatty"} {
		if !strings.Contains(appErr.Details, want) {
			t.Errorf("details should mention %q: %s", want, appErr.Details)
		}
	}
}

func TestConfigManager_SaveCreatesDirectory(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "dir", "config.json")
	cm, _ := NewConfigManager(configPath)
	if err := cm.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created in nested directory")
	}
}
