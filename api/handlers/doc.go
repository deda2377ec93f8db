// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package handlers implements the request handlers of the AgentRun HTTP
API: run starts, message routing, agent definition CRUD, run history
queries, OpenAPI tool import, and health checks, with one shared
response and error envelope.

# Core types

  - RunHandler        workflow runs and inbound messages
  - AgentHandler      agent definition CRUD over the file store
  - RecordHandler     archived run and node execution queries
  - ToolImportHandler OpenAPI document to tool spec conversion
  - HealthHandler     liveness, readiness, and version endpoints
  - Response          unified JSON envelope (success + data + error + timestamp)
  - ErrorInfo         structured error body with code and retryable flag
  - ResponseWriter    http.ResponseWriter wrapper capturing the status code

# Conventions

  - WriteSuccess / WriteError / WriteJSON emit every response
  - DecodeJSONBody enforces a 1 MB limit and rejects unknown fields
  - types.ErrorCode maps onto HTTP status codes in one place
  - Run failures are payload, not transport errors: a failed run
    returns 200 with the result body carrying the failure code
*/
package handlers
