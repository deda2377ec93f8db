package api

import (
	"time"

	"github.com/tulparlabs/agentrun/types"
)

// =============================================================================
// Run types
// =============================================================================

// RunRequest starts one workflow run.
// @Description Workflow run request
type RunRequest struct {
	// Agent holding the workflow
	AgentID string `json:"agent_id" example:"rapor-botu" binding:"required"`
	// Workflow to execute
	WorkflowID string `json:"workflow_id" example:"gunluk-rapor" binding:"required"`
	// Initial variable context merged over the engine defaults
	Initial map[string]any `json:"initial,omitempty"`
}

// MessageRequest routes one user message through an agent's
// trigger-matched workflow.
// @Description Inbound message request
type MessageRequest struct {
	// Agent that should answer
	AgentID string `json:"agent_id" example:"sohbet-botu" binding:"required"`
	// Stable user identity for session history
	UserID string `json:"user_id" example:"ayse" binding:"required"`
	// Message text
	Message string `json:"message" example:"merhaba" binding:"required"`
}

// RunResult is a type alias for types.RunResult so handler responses
// and engine output share one definition.
type RunResult = types.RunResult

// =============================================================================
// Agent types
// =============================================================================

// AgentSummary is the list-view projection of an agent definition.
// @Description Agent list entry
type AgentSummary struct {
	// Agent identifier
	AgentID string `json:"agentId" example:"rapor-botu"`
	// Owning user
	Owner string `json:"owner" example:"ayse"`
	// Display name
	AgentName string `json:"agentName" example:"Rapor Botu"`
	// Definition version
	Version string `json:"version,omitempty" example:"1.0.0"`
	// Number of callable tools
	Tools int `json:"tools" example:"2"`
	// Number of workflows
	Workflows int `json:"workflows" example:"1"`
	// Number of cron schedules
	Schedules int `json:"schedules" example:"1"`
}

// AgentListResponse lists agents, optionally filtered by owner.
// @Description Agent list response
type AgentListResponse struct {
	Agents []AgentSummary `json:"agents"`
	Count  int            `json:"count" example:"1"`
}

// =============================================================================
// Run history types
// =============================================================================

// RunRecord is one archived workflow run.
// @Description Archived run
type RunRecord struct {
	// Run identifier
	RunID string `json:"run_id" example:"0d9f5bc2-0b1a-4c2e-9f57-1d2f3a4b5c6d"`
	// Agent that ran
	AgentID string `json:"agent_id" example:"rapor-botu"`
	// Workflow that ran
	WorkflowID string `json:"workflow_id,omitempty" example:"gunluk-rapor"`
	// User the run served, when triggered by a message
	UserID string `json:"user_id,omitempty" example:"ayse"`
	// Terminal state (completed, halted, failed)
	State string `json:"state" example:"completed"`
	// Executed node count
	Steps int `json:"steps" example:"3"`
	// Total retry attempts across nodes
	Retries int `json:"retries" example:"0"`
	// Responses emitted by send_response nodes
	ResponseCount int `json:"response_count" example:"1"`
	// Failure classification for failed runs
	FailureCode string `json:"failure_code,omitempty" example:"TIMEOUT"`
	// Failure detail for failed runs
	FailureMessage string    `json:"failure_message,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	// Wall-clock duration in milliseconds
	DurationMS int64 `json:"duration_ms" example:"842"`
}

// NodeRecord is one archived node execution within a run.
// @Description Archived node execution
type NodeRecord struct {
	// Node identifier within the workflow
	NodeID string `json:"node_id" example:"bilgi-topla"`
	// Node type (llm_prompt, tool_call, condition, data_operation, send_response)
	NodeType string `json:"node_type" example:"llm_prompt"`
	// Execution attempts including the first
	Attempts int `json:"attempts" example:"1"`
	// Retries after the first attempt
	Retries int `json:"retries" example:"0"`
	// Outcome (success, failed, absorbed)
	Outcome string `json:"outcome" example:"success"`
	// Error text for failed attempts
	Error string `json:"error,omitempty"`
	// Error classification for failed attempts
	ErrorCode string `json:"error_code,omitempty" example:"TOOL_FETCH_FAILED"`
	// Truncated node output
	Output     string    `json:"output,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMS int64     `json:"duration_ms" example:"412"`
}

// RunListResponse lists archived runs, newest first.
// @Description Run history page
type RunListResponse struct {
	Runs  []RunRecord `json:"runs"`
	Count int         `json:"count" example:"20"`
}

// RunDetailResponse is one archived run with its node executions.
// @Description Run detail
type RunDetailResponse struct {
	Run   RunRecord    `json:"run"`
	Nodes []NodeRecord `json:"nodes"`
}

// StatsResponse aggregates archived runs by terminal state.
// @Description Run statistics
type StatsResponse struct {
	// Run count per terminal state
	States map[string]int64 `json:"states"`
	// Total archived runs
	Total int64 `json:"total" example:"152"`
}

// =============================================================================
// Tool import types
// =============================================================================

// ToolImportRequest converts an OpenAPI document into tool specs an
// agent definition can embed. Exactly one of SourceURL and Document
// must be set.
// @Description OpenAPI tool import request
type ToolImportRequest struct {
	// URL of an OpenAPI 3.x document (JSON or YAML)
	SourceURL string `json:"source_url,omitempty" example:"https://api.example.com/openapi.json"`
	// Inline OpenAPI 3.x document (JSON or YAML)
	Document string `json:"document,omitempty"`
	// Base URL override for generated endpoints
	BaseURL string `json:"base_url,omitempty" example:"https://api.example.com"`
	// Only include operations carrying one of these tags
	IncludeTags []string `json:"include_tags,omitempty"`
	// Skip operations carrying one of these tags
	ExcludeTags []string `json:"exclude_tags,omitempty"`
	// Prefix prepended to every generated tool id
	Prefix string `json:"prefix,omitempty" example:"petstore_"`
}

// ToolImportResponse carries the generated tool specs.
// @Description OpenAPI tool import result
type ToolImportResponse struct {
	// API title from the document info block
	Title string `json:"title,omitempty" example:"Petstore"`
	// API version from the document info block
	Version string `json:"version,omitempty" example:"1.0.0"`
	// Generated tool specs, ready to paste into an agent definition
	Tools []types.ToolSpec `json:"tools"`
	Count int              `json:"count" example:"7"`
}
