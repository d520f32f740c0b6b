// Package types defines core data types shared by the locale translator packages.
package types

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Config 应用配置
// Priority: ENV > config file > defaults (via env-default tags).
type Config struct {
	APIKey           string  `json:"api_key"             env:"OPENAI_API_KEY"`
	BaseURL          string  `json:"base_url"            env:"OPENAI_BASE_URL"                       env-default:"https://api.openai.com/v1"`
	Model            string  `json:"model"               env:"LOCALE_TRANSLATOR_MODEL"               env-default:"gpt-4o-mini"`
	Temperature      float32 `json:"temperature"         env:"LOCALE_TRANSLATOR_TEMPERATURE"         env-default:"0.2"`
	MaxAttempts      int     `json:"max_attempts"        env:"LOCALE_TRANSLATOR_MAX_ATTEMPTS"        env-default:"3"`    // 每个批次的最大尝试次数
	RetryBaseDelayMs int     `json:"retry_base_delay_ms" env:"LOCALE_TRANSLATOR_RETRY_DELAY_MS"      env-default:"1000"` // 重试退避基数（毫秒）
	BatchMaxItems    int     `json:"batch_max_items"     env:"LOCALE_TRANSLATOR_BATCH_MAX_ITEMS"     env-default:"40"`   // 单批最多条目数
	BatchMaxChars    int     `json:"batch_max_chars"     env:"LOCALE_TRANSLATOR_BATCH_MAX_CHARS"     env-default:"6000"` // 单批源文本字符上限
	Concurrency      int     `json:"concurrency"         env:"LOCALE_TRANSLATOR_CONCURRENCY"         env-default:"3"`    // 并发批次数
	RequestTimeout   int     `json:"request_timeout_sec" env:"LOCALE_TRANSLATOR_REQUEST_TIMEOUT_SEC" env-default:"180"`  // 单次请求超时（秒）
	LogLevel         string  `json:"log_level"           env:"LOCALE_TRANSLATOR_LOG_LEVEL"           env-default:"info"`
	LogFile          string  `json:"log_file"            env:"LOCALE_TRANSLATOR_LOG_FILE"`
	WorkDirectory    string  `json:"work_directory"      env:"LOCALE_TRANSLATOR_WORK_DIR"`
}

// TranslationRecord is one parsed (key, translatedText) unit extracted from model output.
type TranslationRecord struct {
	Key            string `json:"key"`
	TranslatedText string `json:"translated_text"`
	Comment        string `json:"comment,omitempty"`
}

// BatchItem is a single source string inside a batch.
type BatchItem struct {
	Key     string `json:"key"`
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
	// References maps a locale to an existing translation of the same string.
	References map[string]string `json:"references,omitempty"`
}

// BatchRequest is a set of source strings sent to the model in one prompt/response cycle.
// Items keep insertion order for prompt rendering.
type BatchRequest struct {
	BatchID      string      `json:"batch_id"`
	SourceLocale string      `json:"source_locale"`
	TargetLocale string      `json:"target_locale"`
	Items        []BatchItem `json:"items"`
}

// Keys returns the item keys in request order.
func (r *BatchRequest) Keys() []string {
	keys := make([]string, len(r.Items))
	for i, it := range r.Items {
		keys[i] = it.Key
	}
	return keys
}

// Validate checks the batch and canonicalises both locales in place.
func (r *BatchRequest) Validate() error {
	if strings.TrimSpace(r.BatchID) == "" {
		return NewAppError(ErrInvalidInput, "batch id is required", nil)
	}
	if len(r.Items) == 0 {
		return NewAppErrorWithDetails(ErrInvalidInput, "batch has no items", r.BatchID, nil)
	}

	src, err := CanonicalLocale(r.SourceLocale)
	if err != nil {
		return NewAppErrorWithDetails(ErrInvalidInput, "invalid source locale", r.SourceLocale, err)
	}
	dst, err := CanonicalLocale(r.TargetLocale)
	if err != nil {
		return NewAppErrorWithDetails(ErrInvalidInput, "invalid target locale", r.TargetLocale, err)
	}
	r.SourceLocale, r.TargetLocale = src, dst

	seen := make(map[string]struct{}, len(r.Items))
	for i, it := range r.Items {
		if strings.TrimSpace(it.Key) == "" {
			return NewAppErrorWithDetails(ErrInvalidInput, "empty key", fmt.Sprintf("item %d", i), nil)
		}
		if _, dup := seen[it.Key]; dup {
			return NewAppErrorWithDetails(ErrInvalidInput, "duplicate key", it.Key, nil)
		}
		seen[it.Key] = struct{}{}
	}
	return nil
}

// CanonicalLocale parses a BCP 47 tag and returns its canonical string form.
func CanonicalLocale(locale string) (string, error) {
	if strings.TrimSpace(locale) == "" {
		return "", fmt.Errorf("empty locale")
	}
	tag, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
	if err != nil {
		return "", err
	}
	return tag.String(), nil
}

// TokenUsage 令牌用量
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage report.
func (u *TokenUsage) Add(o TokenUsage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// ErrorCode 错误代码枚举
type ErrorCode string

const (
	ErrConfig       ErrorCode = "CONFIG_ERROR"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrTransport    ErrorCode = "TRANSPORT_ERROR"
	ErrVerification ErrorCode = "VERIFICATION_ERROR"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}
