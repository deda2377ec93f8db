package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/internal/tlsutil"
	"github.com/tulparlabs/agentrun/llm"
	"github.com/tulparlabs/agentrun/types"
)

// OpenAIConfig configures an OpenAI-compatible provider. DeepSeek and
// other compatible APIs reuse this with a different name and base URL.
type OpenAIConfig struct {
	Name         string
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	EndpointPath string
	Client       *http.Client
}

// OpenAIProvider speaks the OpenAI chat completions API.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "provider_"+cfg.Name)),
	}
}

func (p *OpenAIProvider) Name() string { return p.cfg.Name }

// OpenAI-compatible wire shapes.
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := ChooseModel(req.Model, p.cfg.Model)
	if model == "" {
		return nil, types.Errorf(types.ErrConfig, "%s: no model configured", p.cfg.Name)
	}

	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.buildHeaders(httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.Errorf(types.ErrProvider, "%s request failed", p.cfg.Name).
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), p.cfg.Name)
	}

	var oaResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, types.Errorf(types.ErrProvider, "%s sent an undecodable response", p.cfg.Name).
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithCause(err)
	}
	if len(oaResp.Choices) == 0 {
		return nil, types.Errorf(types.ErrProvider, "%s returned no choices", p.cfg.Name)
	}

	p.logger.Debug("completion",
		zap.String("model", model),
		zap.Int("total_tokens", oaResp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &llm.Response{
		Text:  oaResp.Choices[0].Message.Content,
		Model: oaResp.Model,
		Usage: llm.Usage{
			PromptTokens:     oaResp.Usage.PromptTokens,
			CompletionTokens: oaResp.Usage.CompletionTokens,
			TotalTokens:      oaResp.Usage.TotalTokens,
		},
	}, nil
}

// HealthCheck verifies the API is reachable with the configured key.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/v1/models"), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s health check failed: status=%d msg=%s",
			p.cfg.Name, resp.StatusCode, ReadErrorMessage(resp.Body))
	}
	return nil
}

func (p *OpenAIProvider) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (p *OpenAIProvider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

var _ llm.Provider = (*OpenAIProvider)(nil)
