// Package mocks holds hand-written test doubles for the seams the
// engine talks through.
package mocks

import (
	"context"
	"sync"

	"github.com/tulparlabs/agentrun/llm"
)

// Provider is a scripted llm.Provider. Queue replies with Reply and
// Fail; Complete consumes them in order and keeps returning the last
// one once the queue runs dry. Safe for concurrent use.
type Provider struct {
	mu        sync.Mutex
	name      string
	queue     []scripted
	requests  []*llm.Request
	healthErr error
}

type scripted struct {
	resp *llm.Response
	err  error
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider returns a provider that identifies as name and answers
// every completion with text until scripted otherwise.
func NewProvider(name, text string) *Provider {
	p := &Provider{name: name}
	p.Reply(text)
	return p
}

func (p *Provider) Name() string { return p.name }

// Reply queues a successful completion.
func (p *Provider) Reply(text string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, scripted{resp: &llm.Response{
		Text:  text,
		Model: "deepseek-chat",
		Usage: llm.Usage{PromptTokens: 16, CompletionTokens: 8, TotalTokens: 24},
	}})
	return p
}

// Fail queues an error.
func (p *Provider) Fail(err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, scripted{err: err})
	return p
}

// SetHealthErr makes HealthCheck return err.
func (p *Provider) SetHealthErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthErr = err
}

func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)

	if len(p.queue) == 0 {
		return &llm.Response{Text: "", Model: "deepseek-chat"}, nil
	}
	next := p.queue[0]
	if len(p.queue) > 1 {
		p.queue = p.queue[1:]
	}
	if next.err != nil {
		return nil, next.err
	}
	// Copy so callers mutating the response do not corrupt the script.
	resp := *next.resp
	return &resp, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthErr
}

// Requests returns a snapshot of every request seen so far.
func (p *Provider) Requests() []*llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*llm.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// CallCount reports how many completions were served.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
