package openapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/types"
)

// ---------------------------------------------------------------------------
// test fixtures
// ---------------------------------------------------------------------------

const petstoreJSON = `{
	"openapi": "3.0.0",
	"info": {"title": "Evcil Hayvan API", "version": "1.2.0"},
	"servers": [{"url": "https://api.example.com/v2"}],
	"paths": {
		"/pets": {
			"get": {
				"operationId": "listPets",
				"summary": "Hayvanlari listele",
				"tags": ["pets"],
				"parameters": [
					{"name": "limit", "in": "query", "description": "Sayfa boyu", "schema": {"type": "integer"}}
				]
			},
			"post": {
				"operationId": "createPet",
				"tags": ["pets", "admin"],
				"requestBody": {
					"required": true,
					"content": {
						"application/json": {
							"schema": {"type": "object", "properties": {"name": {"type": "string"}}}
						}
					}
				}
			}
		},
		"/pets/{petId}": {
			"get": {
				"summary": "Tek hayvan getir",
				"tags": ["pets"],
				"parameters": [
					{"name": "petId", "in": "path", "required": true, "schema": {"type": "string"}}
				]
			}
		}
	}
}`

const petstoreYAML = `openapi: "3.0.0"
info:
  title: Evcil Hayvan API
  version: 1.2.0
servers:
  - url: https://api.example.com/v2
paths:
  /pets:
    get:
      operationId: listPets
      summary: Hayvanlari listele
`

// rewriteTransport sends every request to the test server regardless of
// the configured source host, so sources can carry realistic URLs that
// pass validation.
type rewriteTransport struct {
	scheme string
	host   string
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = rt.scheme
	clone.URL.Host = rt.host
	return http.DefaultTransport.RoundTrip(clone)
}

func newTestImporter(t *testing.T, fn http.HandlerFunc) *Importer {
	t.Helper()

	srv := httptest.NewServer(fn)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	client := &http.Client{Transport: rewriteTransport{scheme: target.Scheme, host: target.Host}}
	return NewImporter(ImporterConfig{Client: client}, zap.NewNop())
}

func toolIDs(specs []types.ToolSpec) []string {
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		ids = append(ids, spec.ToolID)
	}
	return ids
}

// ---------------------------------------------------------------------------
// parsing
// ---------------------------------------------------------------------------

func TestParse_JSON(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(petstoreJSON))
	require.NoError(t, err)

	assert.Equal(t, "Evcil Hayvan API", doc.Info.Title)
	assert.Equal(t, "1.2.0", doc.Info.Version)
	assert.Len(t, doc.Paths, 2)
	require.NotNil(t, doc.Paths["/pets"].Get)
	assert.Equal(t, "listPets", doc.Paths["/pets"].Get.OperationID)
}

func TestParse_YAML(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(petstoreYAML))
	require.NoError(t, err)

	assert.Equal(t, "Evcil Hayvan API", doc.Info.Title)
	require.Contains(t, doc.Paths, "/pets")
	require.NotNil(t, doc.Paths["/pets"].Get)
	assert.Equal(t, "Hayvanlari listele", doc.Paths["/pets"].Get.Summary)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t"},
		{"garbage json", `{"openapi": `},
		{"garbage yaml", "\t- ]["},
		{"no paths", `{"openapi": "3.0.0", "info": {"title": "Bos", "version": "1"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tc.data))
			require.Error(t, err)
			assert.Equal(t, types.ErrValidation, types.GetCode(err))
		})
	}
}

// ---------------------------------------------------------------------------
// tool generation
// ---------------------------------------------------------------------------

func TestTools_EveryOperationBecomesASpec(t *testing.T) {
	t.Parallel()

	im := NewImporter(ImporterConfig{}, zap.NewNop())
	doc, err := Parse([]byte(petstoreJSON))
	require.NoError(t, err)

	specs := im.Tools(doc, Options{})
	require.Len(t, specs, 3)

	// Sorted by path, so /pets operations come before /pets/{petId}.
	assert.Equal(t, []string{"listPets", "createPet", "get_pets_petId"}, toolIDs(specs))

	list := specs[0]
	assert.Equal(t, types.ToolAPI, list.Type)
	assert.Equal(t, "Hayvanlari listele", list.Description)
	assert.Equal(t, "https://api.example.com/v2/pets", list.ConfigString("endpoint"))
	assert.Equal(t, http.MethodGet, list.ConfigString("method"))

	params, ok := list.Config["parameters"].(*JSONSchema)
	require.True(t, ok)
	assert.Equal(t, "object", params.Type)
	assert.Equal(t, "integer", params.Properties["limit"].Type)

	create := specs[1]
	assert.Equal(t, http.MethodPost, create.ConfigString("method"))
	body, ok := create.Config["parameters"].(*JSONSchema)
	require.True(t, ok)
	assert.Contains(t, body.Properties, "body")
	assert.Equal(t, []string{"body"}, body.Required)

	// No operationId falls back to method plus sanitized path, and the
	// endpoint keeps the path template.
	byID := specs[2]
	assert.Equal(t, "https://api.example.com/v2/pets/{petId}", byID.ConfigString("endpoint"))
	assert.Equal(t, "Tek hayvan getir", byID.Description)
}

func TestTools_BaseURLOverrideAndPrefix(t *testing.T) {
	t.Parallel()

	im := NewImporter(ImporterConfig{}, zap.NewNop())
	doc, err := Parse([]byte(petstoreJSON))
	require.NoError(t, err)

	specs := im.Tools(doc, Options{BaseURL: "https://staging.example.com/", Prefix: "petstore_"})
	require.Len(t, specs, 3)

	assert.Equal(t, "petstore_listPets", specs[0].ToolID)
	assert.Equal(t, "listPets", specs[0].Name)
	assert.Equal(t, "https://staging.example.com/pets", specs[0].ConfigString("endpoint"))
}

func TestTools_TagFilters(t *testing.T) {
	t.Parallel()

	im := NewImporter(ImporterConfig{}, zap.NewNop())
	doc, err := Parse([]byte(petstoreJSON))
	require.NoError(t, err)

	include := im.Tools(doc, Options{IncludeTags: []string{"admin"}})
	assert.Equal(t, []string{"createPet"}, toolIDs(include))

	exclude := im.Tools(doc, Options{ExcludeTags: []string{"admin"}})
	assert.Equal(t, []string{"listPets", "get_pets_petId"}, toolIDs(exclude))
}

func TestTools_DocumentWithoutServers(t *testing.T) {
	t.Parallel()

	im := NewImporter(ImporterConfig{}, zap.NewNop())
	doc, err := Parse([]byte(`{"openapi": "3.0.0", "info": {"title": "t", "version": "1"},
		"paths": {"/ping": {"get": {"operationId": "ping"}}}}`))
	require.NoError(t, err)

	specs := im.Tools(doc, Options{})
	require.Len(t, specs, 1)
	assert.Equal(t, "/ping", specs[0].ConfigString("endpoint"), "relative endpoint until the editor sets a base url")
}

// ---------------------------------------------------------------------------
// loading
// ---------------------------------------------------------------------------

func TestLoad_FromURLWithCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	im := newTestImporter(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(petstoreJSON))
	})

	ctx := context.Background()
	doc, err := im.Load(ctx, "https://api.example.com/openapi.json")
	require.NoError(t, err)
	assert.Equal(t, "Evcil Hayvan API", doc.Info.Title)

	again, err := im.Load(ctx, "https://api.example.com/openapi.json")
	require.NoError(t, err)
	assert.Same(t, doc, again)
	assert.Equal(t, int32(1), hits.Load(), "second load is served from the cache")
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "openapi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(petstoreYAML), 0o600))

	im := NewImporter(ImporterConfig{}, zap.NewNop())
	doc, err := im.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Evcil Hayvan API", doc.Info.Title)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	im := NewImporter(ImporterConfig{}, zap.NewNop())
	_, err := im.Load(context.Background(), filepath.Join(t.TempDir(), "yok.json"))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetCode(err))
}

func TestLoad_BlockedURL(t *testing.T) {
	t.Parallel()

	im := NewImporter(ImporterConfig{}, zap.NewNop())
	_, err := im.Load(context.Background(), "http://localhost:8080/openapi.json")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetCode(err))
}

func TestLoad_UpstreamFailure(t *testing.T) {
	t.Parallel()

	im := newTestImporter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	_, err := im.Load(context.Background(), "https://api.example.com/openapi.json")
	require.Error(t, err)
	assert.Equal(t, types.ErrToolUpstreamStatus, types.GetCode(err))
}

func TestLoad_ContextCancelled(t *testing.T) {
	t.Parallel()

	im := newTestImporter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := im.Load(ctx, "https://api.example.com/openapi.json")
	require.Error(t, err)
	assert.Equal(t, types.ErrToolFetchFailed, types.GetCode(err))
}
