// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package session tracks conversations between users and agents.

A session binds a (user, agent) pair to accumulated context and a
history of exchanges. GetOrCreate hands back the pair's active session
until End retires it; History returns recent exchanges oldest first so
they can be replayed as chat turns in front of an llm_prompt node.

Two stores ship: Redis for deployments, where sessions live under the
agentrun:sess: prefix and expire with inactivity, and Memory for tests.
*/
package session
