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

// GeminiConfig configures the Google Gemini provider.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Client  *http.Client
}

// GeminiProvider speaks the Gemini generateContent API. Authentication
// uses the x-goog-api-key header; assistant turns are sent with role
// "model".
type GeminiProvider struct {
	cfg    GeminiConfig
	client *http.Client
	logger *zap.Logger
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(cfg GeminiConfig, logger *zap.Logger) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
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
	return &GeminiProvider{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "provider_gemini")),
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

// Gemini wire shapes.
type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion,omitempty"`
}

func (p *GeminiProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := ChooseModel(req.Model, p.cfg.Model)
	if model == "" {
		return nil, types.NewError(types.ErrConfig, "gemini: no model configured")
	}

	body := geminiRequest{Contents: toGeminiContents(req.Messages)}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(p.cfg.BaseURL, "/"), model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.buildHeaders(httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrProvider, "gemini request failed").
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), "gemini")
	}

	var gResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		return nil, types.NewError(types.ErrProvider, "gemini sent an undecodable response").
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithCause(err)
	}
	if len(gResp.Candidates) == 0 {
		return nil, types.NewError(types.ErrProvider, "gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range gResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	p.logger.Debug("completion",
		zap.String("model", model),
		zap.Int("total_tokens", gResp.UsageMetadata.TotalTokenCount),
		zap.Duration("elapsed", time.Since(start)))

	return &llm.Response{
		Text:  text.String(),
		Model: gResp.ModelVersion,
		Usage: llm.Usage{
			PromptTokens:     gResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: gResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gResp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

// HealthCheck verifies the API is reachable with the configured key.
func (p *GeminiProvider) HealthCheck(ctx context.Context) error {
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1beta/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
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
		return fmt.Errorf("gemini health check failed: status=%d msg=%s",
			resp.StatusCode, ReadErrorMessage(resp.Body))
	}
	return nil
}

func (p *GeminiProvider) buildHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// toGeminiContents maps conversation turns to Gemini's role vocabulary.
// System messages never appear here; the client carries the system
// prompt separately and Gemini takes it as systemInstruction.
func toGeminiContents(messages []types.Message) []geminiContent {
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		role := string(m.Role)
		if m.Role == types.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	return contents
}

var _ llm.Provider = (*GeminiProvider)(nil)
