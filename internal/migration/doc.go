// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package migration versions the records database schema.

Migration SQL ships embedded in the binary, one directory per
supported dialect, and golang-migrate applies it. The sqlite path is
pure Go, so `agentrun migrate up` works anywhere the binary runs.
*/
package migration
