package providers

import "go.uber.org/zap"

// DeepSeekProvider is the OpenAI-compatible client pointed at the
// DeepSeek API.
type DeepSeekProvider struct {
	*OpenAIProvider
}

// NewDeepSeekProvider creates a DeepSeek provider.
func NewDeepSeekProvider(cfg OpenAIConfig, logger *zap.Logger) *DeepSeekProvider {
	cfg.Name = "deepseek"
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com"
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	return &DeepSeekProvider{NewOpenAIProvider(cfg, logger)}
}
