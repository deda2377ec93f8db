// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package llm routes completion requests to configured model providers.

A Provider speaks one upstream API (openai, deepseek, gemini) and turns a
Request into plain text. The Registry resolves the provider named in an
agent's llmConfig; an unknown name is a configuration error surfaced at
run time, not at startup, because definitions are loaded per run.

Client adapts the registry to the engine: it assembles system prompt,
budget-trimmed history, and the node prompt into provider messages.
Token budgeting uses tiktoken's cl100k_base encoding and falls back to a
bytes/4 estimate when the encoding data is unavailable (the encoding is
fetched lazily and may be missing in offline deployments).
*/
package llm
