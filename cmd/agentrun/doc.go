// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

// Command agentrun is the service entry point. It hosts the workflow
// runtime behind an HTTP API with health, version, websocket delivery,
// and run/message endpoints, serves Prometheus metrics on a separate
// listener, and carries the database migration subcommands.
//
//	agentrun serve --config config.yaml
//	agentrun migrate up
//	agentrun health
//	agentrun version
package main
