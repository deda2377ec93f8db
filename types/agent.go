package types

import "strings"

// AgentDefinition is one declarative agent document: a system prompt, an
// LLM configuration, a private data schema, callable tools, workflows,
// and cron schedules. Definitions are immutable during a run; the engine
// loads them once at run start.
type AgentDefinition struct {
	AgentID      string         `json:"agentId"`
	Owner        string         `json:"owner"`
	AgentName    string         `json:"agentName"`
	Version      string         `json:"version,omitempty"`
	SystemPrompt string         `json:"systemPrompt"`
	LLMConfig    LLMConfig      `json:"llmConfig"`
	DataSchema   DataSchema     `json:"dataSchema"`
	Tools        []ToolSpec     `json:"tools,omitempty"`
	Workflows    []WorkflowSpec `json:"workflows,omitempty"`
	Schedules    []Schedule     `json:"schedules,omitempty"`
}

// LLMConfig selects the model an agent's llm_prompt nodes run against.
type LLMConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// DataSchema names the agent's private collection and describes its
// document shape with a JSON-Schema-like structure.
type DataSchema struct {
	CollectionName string         `json:"collectionName"`
	Schema         map[string]any `json:"schema,omitempty"`
}

// ToolType identifies the kind of external capability a tool wraps.
type ToolType string

const (
	ToolAPI      ToolType = "api"
	ToolDatabase ToolType = "database"
	ToolRSS      ToolType = "rss"
	ToolTelegram ToolType = "telegram"
	ToolFunction ToolType = "function"
)

// Normalize lowercases the tool type so documents may spell it either way.
func (t ToolType) Normalize() ToolType {
	return ToolType(strings.ToLower(string(t)))
}

// ToolSpec declares one tool an agent's workflows may invoke by id.
// Config carries type-specific settings: endpoint, method, and timeout
// for api tools; url and limit for rss; parse_mode and chat_id defaults
// for telegram.
type ToolSpec struct {
	ToolID      string         `json:"toolId"`
	Type        ToolType       `json:"type"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// ConfigString returns a string config value, or "" when absent.
func (s *ToolSpec) ConfigString(key string) string {
	if v, ok := s.Config[key].(string); ok {
		return v
	}
	return ""
}

// ConfigFloat returns a numeric config value, or 0 when absent.
// JSON numbers decode as float64; integers stored by the editor are
// accepted too.
func (s *ToolSpec) ConfigFloat(key string) float64 {
	switch v := s.Config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Schedule binds a cron expression to a workflow. The scheduler runs the
// workflow on each tick under a synthetic system user.
type Schedule struct {
	ScheduleID  string `json:"scheduleId"`
	Cron        string `json:"cron"`
	Description string `json:"description,omitempty"`
	WorkflowID  string `json:"workflowId"`
}

// Tool looks up a tool spec by id.
func (d *AgentDefinition) Tool(toolID string) (*ToolSpec, bool) {
	for i := range d.Tools {
		if d.Tools[i].ToolID == toolID {
			return &d.Tools[i], true
		}
	}
	return nil, false
}

// Workflow looks up a workflow spec by id.
func (d *AgentDefinition) Workflow(workflowID string) (*WorkflowSpec, bool) {
	for i := range d.Workflows {
		if d.Workflows[i].WorkflowID == workflowID {
			return &d.Workflows[i], true
		}
	}
	return nil, false
}

// ScheduleByID looks up a schedule by id.
func (d *AgentDefinition) ScheduleByID(scheduleID string) (*Schedule, bool) {
	for i := range d.Schedules {
		if d.Schedules[i].ScheduleID == scheduleID {
			return &d.Schedules[i], true
		}
	}
	return nil, false
}
