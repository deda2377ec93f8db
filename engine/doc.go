// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package engine interprets agent workflows.

The engine walks a workflow's typed nodes (llm_prompt, tool_call,
data_store, conditional_logic, send_response) strictly in sequence,
threading a mutable variable Context between them. Each node executes
through the node executor, which applies the node's policy: input
validation, per-attempt timeout, fixed-delay retries, and the
continue_on_error absorption rule. Node outputs land in the Context
under the node's output_variable and are visible to every later node
via $variable substitution.

A run is a state machine: Pending -> Running -> {Completed, Halted,
Failed}. Conditional nodes may jump forward or backward by node id;
a configured step cap bounds every run, so conditional loops terminate
with a STEP_LIMIT_EXCEEDED failure instead of spinning forever.

External capabilities reach the engine through four small interfaces
(LLMClient, ToolInvoker, DataStore, ResponseSink), so tests can drive
the interpreter with in-memory fakes and production wires in providers,
the tool registry, MongoDB, and Telegram.
*/
package engine
