// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package store persists agent documents.

Operations is the layer workflows talk to. It dispatches the named
database operations (create_collection, insert_document, find_documents,
update_document, delete_document, aggregate, count_documents,
get_collection_stats), stamps created_at/updated_at, scopes every
document read and write to the calling user, and shapes results as
{"success": true, ...} maps. Failures surface as typed errors, never as
success:false payloads, so the engine's node retry policy can tell a
retryable backend fault from a definition bug.

Below Operations sits the DocumentStore seam with two backends: Mongo
(mongo-driver/v2) for production and Memory for tests and single-binary
runs. The memory backend implements the query subset agent workflows
use: equality and dotted-path matching, the common comparison operators,
and the $match/$sort/$skip/$limit/$project/$count/$group pipeline
stages.
*/
package store
