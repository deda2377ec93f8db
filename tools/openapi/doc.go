// Copyright (c) AgentRun Authors.
// Licensed under the MIT License.

/*
Package openapi converts OpenAPI 3.x documents into api tool specs.

The importer parses JSON or YAML documents, from a URL or a file, and
turns each operation into a types.ToolSpec of type "api" carrying the
endpoint, HTTP method, and a parameter schema the agent editor can
present. Tag filters narrow the import; a prefix keeps generated tool
ids from colliding with hand-written ones.

# Core types

  - Importer   loads documents and generates tool specs
  - Document   parsed OpenAPI structure (Info / Servers / Paths)
  - Options    generation options (BaseURL override, tag filters, prefix)
  - Operation / Parameter / RequestBody / JSONSchema  OpenAPI mappings

# Notes

  - URL loads go through the shared URL validation and TLS transport
  - Loaded documents are cached per source
  - Output order follows sorted paths, so imports are reproducible
*/
package openapi
