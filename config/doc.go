// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package config loads service configuration.

Values assemble in three layers with later layers winning: built-in
defaults, then a YAML file, then AGENTRUN_-prefixed environment
variables whose names follow the struct nesting, so
AGENTRUN_REDIS_ADDR sets Config.Redis.Addr. A missing config file is
fine; everything can come from the environment.
*/
package config
