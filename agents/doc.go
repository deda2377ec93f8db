// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package agents stores and validates agent definitions.

FileStore keeps one JSON document per agent under a root directory with
an in-memory index on top, so reads never touch the disk after startup.
Save validates the definition first and rejects anything a run could
only discover as a mid-workflow failure: duplicate ids, nodes missing
their type's required fields, schedules or tool calls pointing at
nothing.

EnsureCollection provisions the agent's private collection from its
dataSchema: a $jsonSchema validator plus the user scoping index.
*/
package agents
