// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type definitions for the agentrun engine.

types is the lowest-level package in the module and depends on no other
agentrun package. It defines the declarative agent document model
(AgentDefinition, ToolSpec, WorkflowSpec, Node, Schedule), the run life
cycle types (RunState, RunResult), conversation messages, and the
structured error taxonomy used across the engine, tools, and providers.

Agent definitions are wire-compatible with the JSON documents produced by
the agent editor: field names follow the document format (agentId,
systemPrompt, llmConfig, dataSchema, output_variable, ...), so a stored
agent can be unmarshalled directly into AgentDefinition.
*/
package types
