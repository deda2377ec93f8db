package types

import (
	"time"
)

// NodeType is the closed set of workflow node kinds. Dispatch on it is a
// compile-time-checked switch; adding a node type means adding a constant
// here and a case in the node executor.
type NodeType string

const (
	NodeLLMPrompt    NodeType = "llm_prompt"
	NodeToolCall     NodeType = "tool_call"
	NodeDataStore    NodeType = "data_store"
	NodeConditional  NodeType = "conditional_logic"
	NodeSendResponse NodeType = "send_response"
)

// Valid reports whether t is one of the five node kinds.
func (t NodeType) Valid() bool {
	switch t {
	case NodeLLMPrompt, NodeToolCall, NodeDataStore, NodeConditional, NodeSendResponse:
		return true
	}
	return false
}

// WorkflowSpec is an ordered, possibly-branching sequence of nodes bound
// to a trigger. Nodes execute in declaration order unless a
// conditional_logic node redirects by node id.
type WorkflowSpec struct {
	WorkflowID  string `json:"workflowId"`
	Description string `json:"description,omitempty"`
	Trigger     string `json:"trigger,omitempty"`
	Nodes       []Node `json:"nodes"`
}

// Node is one typed execution step. Only the fields matching Type are
// meaningful; the rest stay zero. Policy fields apply to every type.
type Node struct {
	NodeID string   `json:"nodeId"`
	Type   NodeType `json:"type"`

	// llm_prompt
	Prompt string `json:"prompt,omitempty"`

	// tool_call
	ToolID string         `json:"toolId,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	// data_store
	Action     string         `json:"action,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Data       map[string]any `json:"data,omitempty"`

	// conditional_logic
	Condition string `json:"condition,omitempty"`
	OnTrue    string `json:"on_true,omitempty"`
	OnFalse   string `json:"on_false,omitempty"`

	// send_response
	Message string `json:"message,omitempty"`

	// OutputVariable names the context key the node's result is stored
	// under. Empty means the result is discarded.
	OutputVariable string `json:"output_variable,omitempty"`

	// Execution policy.
	ContinueOnError bool    `json:"continue_on_error,omitempty"`
	MaxRetries      int     `json:"max_retries,omitempty"`
	RetryDelay      float64 `json:"retry_delay,omitempty"` // seconds
	Timeout         float64 `json:"timeout,omitempty"`     // seconds
	ValidateInput   bool    `json:"validate_input,omitempty"`
	SanitizeOutput  bool    `json:"sanitize_output,omitempty"`
}

// RetryDelayDuration converts the retry_delay seconds to a Duration.
func (n *Node) RetryDelayDuration() time.Duration {
	return time.Duration(n.RetryDelay * float64(time.Second))
}

// TimeoutDuration converts the timeout seconds to a Duration.
// Zero means no node-level timeout.
func (n *Node) TimeoutDuration() time.Duration {
	return time.Duration(n.Timeout * float64(time.Second))
}

// NodeByID looks up a node by id within the workflow.
func (w *WorkflowSpec) NodeByID(nodeID string) (int, *Node) {
	for i := range w.Nodes {
		if w.Nodes[i].NodeID == nodeID {
			return i, &w.Nodes[i]
		}
	}
	return -1, nil
}
