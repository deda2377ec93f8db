// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

// Package metrics exposes Prometheus instrumentation for the service.
//
// Collector owns every metric vector and offers adapters for the seams
// the rest of the codebase already has: an engine.Recorder for run and
// node outcomes, a tools.Observer for tool invocations, and an
// llm.Observer for provider calls. HTTP and connection-pool metrics are
// fed directly by the server middleware and the pool sampler.
package metrics
