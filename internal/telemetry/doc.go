// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

// Package telemetry wires the OpenTelemetry SDK to the service config.
//
// Init builds OTLP gRPC exporters for traces and metrics and installs
// them as the global providers. With telemetry disabled it returns noop
// Providers and never dials anything, so the rest of the code can call
// Shutdown unconditionally.
package telemetry
