// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

// Package api defines the wire types of the AgentRun HTTP API.
//
// # API Overview
//
// AgentRun exposes a RESTful API for:
//   - Starting workflow runs and routing user messages
//   - Managing declarative agent definitions
//   - Querying archived run and node execution history
//   - Importing OpenAPI documents as agent tool specs
//   - Health monitoring
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// Handlers for these types live in api/handlers; routes are mounted by
// the serve command.
package api
