// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package database manages the relational connection pool behind the
records store: connection limits, periodic health checks, and
transaction helpers with retry for transient failures.
*/
package database
