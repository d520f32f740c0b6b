// Package llm builds the streaming chat model used by the translator from
// application configuration.
package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"

	"locale-translator/internal/logger"
	"locale-translator/internal/types"
)

// Options tweak model construction beyond what Config carries.
type Options struct {
	// HTTPClient replaces the default client, e.g. for proxies or tests.
	HTTPClient *http.Client
	// Timeout bounds one request of the default client. Zero means none.
	Timeout time.Duration
}

// NewChatModel creates an OpenAI-compatible chat model.
func NewChatModel(ctx context.Context, cfg *types.Config, opts Options) (*openai.ChatModel, error) {
	if cfg == nil {
		return nil, types.NewAppError(types.ErrConfig, "missing configuration", nil)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, types.NewAppError(types.ErrConfig, "model is required", nil)
	}

	temperature := cfg.Temperature
	mc := &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     NormalizeBaseURL(cfg.BaseURL),
		Model:       cfg.Model,
		Temperature: &temperature,
		HTTPClient:  opts.HTTPClient,
	}
	if mc.HTTPClient == nil {
		mc.Timeout = opts.Timeout
	}

	chat, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		logger.Error("failed to create chat model", err,
			logger.String("model", cfg.Model),
			logger.String("baseURL", mc.BaseURL))
		return nil, types.NewAppErrorWithDetails(types.ErrConfig, "failed to create chat model", cfg.Model, err)
	}

	logger.Info("chat model ready",
		logger.String("model", cfg.Model),
		logger.String("baseURL", mc.BaseURL),
		logger.Duration("timeout", mc.Timeout),
		logger.Int("apiKeyLength", len(cfg.APIKey)))
	return chat, nil
}

// NormalizeBaseURL accepts either an API root or a full chat completions
// endpoint and returns the API root the client expects.
func NormalizeBaseURL(url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return "https://api.openai.com/v1"
	}
	url = strings.TrimRight(url, "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	return strings.TrimRight(url, "/")
}
