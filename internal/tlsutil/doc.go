// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

// Package tlsutil centralizes outbound TLS policy: TLS 1.2 minimum and
// AEAD-only cipher suites. Every HTTP client that leaves the process
// (LLM providers, the api tool, feed fetching) builds on these helpers.
package tlsutil
