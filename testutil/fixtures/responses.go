package fixtures

import (
	"encoding/json"
	"fmt"

	"github.com/tulparlabs/agentrun/llm"
)

// ToolCallMarker renders the inline marker an LLM emits when it wants
// a tool invoked mid-prompt: [TOOL_CALL: <toolId>, {<json-params>}].
func ToolCallMarker(toolID string, params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		panic(fmt.Sprintf("fixtures: marshal marker params: %v", err))
	}
	return fmt.Sprintf("[TOOL_CALL: %s, %s]", toolID, raw)
}

// Completion builds an llm.Response with plausible token accounting,
// so observer and metrics assertions have non-zero usage to check.
func Completion(text string) *llm.Response {
	return &llm.Response{
		Text:  text,
		Model: "deepseek-chat",
		Usage: llm.Usage{
			PromptTokens:     32,
			CompletionTokens: len(text) / 4,
			TotalTokens:      32 + len(text)/4,
		},
	}
}
