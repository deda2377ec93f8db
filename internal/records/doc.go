// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package records persists run history to a relational database.

The engine emits execution records on its hot path, so the Recorder
here never blocks: records enter a bounded queue and a single writer
drains them into batched inserts. When the queue is full records are
dropped and counted rather than stalling workflow execution. Reads go
straight to the database.
*/
package records
