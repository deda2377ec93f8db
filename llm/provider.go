package llm

import (
	"context"

	"github.com/tulparlabs/agentrun/types"
)

// Request is one completion call against a provider.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []types.Message
	Temperature  float32
	MaxTokens    int
}

// Usage reports token consumption as the provider metered it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the provider's answer.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Provider speaks one upstream completion API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
	HealthCheck(ctx context.Context) error
}
