package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/tulparlabs/agentrun/types"
)

// DefaultHistoryBudget caps the tokens spent on conversation history
// per completion, leaving room for system prompt and node prompt.
const DefaultHistoryBudget = 4000

// messageOverhead approximates the per-message framing tokens of
// ChatML-style formats.
const messageOverhead = 4

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// The cl100k_base data may need a network fetch on first use; offline
// deployments run on the heuristic instead.
func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	})
	return enc
}

// CountTokens estimates the token cost of a string. Exact when the
// cl100k_base encoding is available, bytes/4 otherwise.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// CountMessageTokens estimates one conversation turn including framing.
func CountMessageTokens(msg types.Message) int {
	return CountTokens(string(msg.Role)) + CountTokens(msg.Content) + messageOverhead
}

// TrimHistory drops the oldest turns until the remainder fits the
// budget. The newest turns carry the conversation state, so trimming
// always advances from the front. A budget <= 0 keeps nothing.
func TrimHistory(history []types.Message, budget int) []types.Message {
	if budget <= 0 {
		return nil
	}

	total := 0
	costs := make([]int, len(history))
	for i, msg := range history {
		costs[i] = CountMessageTokens(msg)
		total += costs[i]
	}

	start := 0
	for start < len(history) && total > budget {
		total -= costs[start]
		start++
	}
	if start == 0 {
		return history
	}
	return history[start:]
}
