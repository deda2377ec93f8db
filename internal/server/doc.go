// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

// Package server runs the HTTP listener lifecycle: non-blocking start,
// graceful shutdown, and an error channel for accept-loop failures. The
// serve command owns the handler and the shutdown ordering; this package
// only manages the listener.
package server
