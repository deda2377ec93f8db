// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package tools executes agent tool invocations.

A Registry maps tool types (api, database, rss, telegram, function) to
handlers and implements the engine's ToolInvoker seam. Every invocation
passes through parameter hygiene first: unsafe keys are dropped, string
values are stripped of injection-prone characters and capped in length,
and URLs must be http(s) pointing at a non-local host.

Handlers make exactly one external call per invocation. Retry policy
lives in the engine's node executor, never here, so a node's max_retries
budget is the only thing that decides how often a tool runs.
*/
package tools
