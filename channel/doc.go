// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package channel delivers workflow responses to users.

Every sink implements the engine's ResponseSink seam. Telegram pushes
through the Bot API to a chat linked to the user by an 8-character code
(Linker keeps the mapping); the Hub fans a response out to every open
WebSocket the user holds, dropping clients too slow to keep up; Buffer
captures deliveries in memory for tests and for callers that collect
the response themselves.
*/
package channel
