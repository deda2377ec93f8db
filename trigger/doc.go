// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package trigger decides when workflows run and feeds them to the
engine.

Three entry points cover the ways a run can start. The Resolver maps an
inbound message to a workflow by its trigger phrase (exact, contains: or
regex: matching, with a "default" workflow as catch-all). The Scheduler
fires cron schedules declared on agents, running each tick as a
system_scheduler user and recording outcomes to schedule_executions.
Both hand runs to the Dispatcher, which serializes runs per
(user, agent) pair and caps total parallelism, so one stuck
conversation never reorders itself and a burst of schedules cannot
exhaust the process.
*/
package trigger
