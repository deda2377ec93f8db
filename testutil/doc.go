// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

// Package testutil holds the small helpers the package tests share:
// deadline-bound contexts, JSON shorthand, and agent-file writing.
// Canned agent definitions live in testutil/fixtures, scripted fakes in
// testutil/mocks.
package testutil
