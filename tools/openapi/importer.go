package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tulparlabs/agentrun/internal/tlsutil"
	"github.com/tulparlabs/agentrun/tools"
	"github.com/tulparlabs/agentrun/types"
)

// documentLimit caps how large a fetched OpenAPI document may be.
const documentLimit = 8 << 20

// Document is the subset of an OpenAPI 3.x document the importer reads.
type Document struct {
	OpenAPI string              `json:"openapi"`
	Info    Info                `json:"info"`
	Servers []Server            `json:"servers,omitempty"`
	Paths   map[string]PathItem `json:"paths"`
}

// Info carries API metadata.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// Server is one API server entry.
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// PathItem holds the operations declared on one path.
type PathItem struct {
	Get    *Operation `json:"get,omitempty"`
	Post   *Operation `json:"post,omitempty"`
	Put    *Operation `json:"put,omitempty"`
	Delete *Operation `json:"delete,omitempty"`
	Patch  *Operation `json:"patch,omitempty"`
}

// Operation is one API operation.
type Operation struct {
	OperationID string       `json:"operationId,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Description string       `json:"description,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty"`
	RequestBody *RequestBody `json:"requestBody,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
}

// Parameter is one operation parameter.
type Parameter struct {
	Name        string      `json:"name"`
	In          string      `json:"in"` // query, path, header, cookie
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required,omitempty"`
	Schema      *JSONSchema `json:"schema,omitempty"`
}

// RequestBody is an operation's request body declaration.
type RequestBody struct {
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// MediaType carries one content type's schema.
type MediaType struct {
	Schema *JSONSchema `json:"schema,omitempty"`
}

// JSONSchema is the schema subset carried into tool parameter
// descriptions.
type JSONSchema struct {
	Type        string                `json:"type,omitempty"`
	Description string                `json:"description,omitempty"`
	Properties  map[string]JSONSchema `json:"properties,omitempty"`
	Required    []string              `json:"required,omitempty"`
	Items       *JSONSchema           `json:"items,omitempty"`
	Enum        []any                 `json:"enum,omitempty"`
	Default     any                   `json:"default,omitempty"`
}

// Options narrows and names the generated tool specs.
type Options struct {
	// BaseURL overrides the document's first server URL.
	BaseURL string
	// IncludeTags keeps only operations carrying one of these tags.
	IncludeTags []string
	// ExcludeTags drops operations carrying one of these tags.
	ExcludeTags []string
	// Prefix is prepended to every generated tool id.
	Prefix string
}

// Importer converts OpenAPI documents into api tool specs agent
// definitions can embed. Loaded documents are cached per source.
type Importer struct {
	client *http.Client
	logger *zap.Logger
	cache  map[string]*Document
	mu     sync.RWMutex
}

// ImporterConfig configures the importer.
type ImporterConfig struct {
	Timeout time.Duration
	Client  *http.Client
}

// NewImporter creates an OpenAPI importer.
func NewImporter(config ImporterConfig, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := config.Client
	if client == nil {
		client = tlsutil.SecureHTTPClient(timeout)
	}
	return &Importer{
		client: client,
		logger: logger.With(zap.String("component", "openapi_importer")),
		cache:  make(map[string]*Document),
	}
}

// Load reads and parses an OpenAPI document from a URL or a file path.
func (im *Importer) Load(ctx context.Context, source string) (*Document, error) {
	im.mu.RLock()
	if doc, ok := im.cache[source]; ok {
		im.mu.RUnlock()
		return doc, nil
	}
	im.mu.RUnlock()

	var data []byte
	var err error
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = im.fetch(ctx, source)
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			err = types.Errorf(types.ErrValidation, "cannot read openapi document %q", source).WithCause(err)
		}
	}
	if err != nil {
		return nil, err
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	im.mu.Lock()
	im.cache[source] = doc
	im.mu.Unlock()

	im.logger.Info("openapi document loaded",
		zap.String("source", source),
		zap.String("title", doc.Info.Title),
		zap.String("version", doc.Info.Version),
		zap.Int("paths", len(doc.Paths)))
	return doc, nil
}

func (im *Importer) fetch(ctx context.Context, source string) ([]byte, error) {
	target, err := tools.ValidateURL(source)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, types.Errorf(types.ErrValidation, "building request for %q failed", source).WithCause(err)
	}
	req.Header.Set("Accept", "application/json, application/yaml")

	resp, err := im.client.Do(req)
	if err != nil {
		return nil, types.Errorf(types.ErrToolFetchFailed, "fetching openapi document from %s failed", target.Host).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.Errorf(types.ErrToolUpstreamStatus, "openapi document fetch got status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, documentLimit))
	if err != nil {
		return nil, types.Errorf(types.ErrToolFetchFailed, "reading openapi document from %s failed", target.Host).WithCause(err)
	}
	return data, nil
}

// Parse decodes a JSON or YAML OpenAPI document. YAML input goes
// through a JSON bridge so both formats share one set of types.
func Parse(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, types.NewError(types.ErrValidation, "openapi document is empty")
	}

	if trimmed[0] != '{' {
		var tree map[string]any
		if err := yaml.Unmarshal(trimmed, &tree); err != nil {
			return nil, types.NewError(types.ErrValidation, "openapi document is neither valid JSON nor YAML").WithCause(err)
		}
		bridged, err := json.Marshal(tree)
		if err != nil {
			return nil, types.NewError(types.ErrValidation, "openapi document has non-serializable YAML structure").WithCause(err)
		}
		trimmed = bridged
	}

	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, types.NewError(types.ErrValidation, "openapi document does not parse").WithCause(err)
	}
	if len(doc.Paths) == 0 {
		return nil, types.NewError(types.ErrValidation, "openapi document declares no paths")
	}
	return &doc, nil
}

// Tools converts a document's operations into api tool specs, in
// path order so repeated imports produce identical output.
func (im *Importer) Tools(doc *Document, opts Options) []types.ToolSpec {
	baseURL := ""
	if len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}

	paths := make([]string, 0, len(doc.Paths))
	for path := range doc.Paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var specs []types.ToolSpec
	for _, path := range paths {
		item := doc.Paths[path]
		for _, entry := range []struct {
			method string
			op     *Operation
		}{
			{http.MethodGet, item.Get},
			{http.MethodPost, item.Post},
			{http.MethodPut, item.Put},
			{http.MethodDelete, item.Delete},
			{http.MethodPatch, item.Patch},
		} {
			if entry.op == nil {
				continue
			}
			if len(opts.IncludeTags) > 0 && !hasAnyTag(entry.op.Tags, opts.IncludeTags) {
				continue
			}
			if len(opts.ExcludeTags) > 0 && hasAnyTag(entry.op.Tags, opts.ExcludeTags) {
				continue
			}
			specs = append(specs, operationToSpec(path, entry.method, entry.op, baseURL, opts.Prefix))
		}
	}

	im.logger.Info("openapi tools generated",
		zap.String("title", doc.Info.Title),
		zap.Int("count", len(specs)))
	return specs
}

// operationToSpec builds one api tool spec. The endpoint keeps OpenAPI
// path templates as-is; the agent editor resolves them before the tool
// is called.
func operationToSpec(path, method string, op *Operation, baseURL, prefix string) types.ToolSpec {
	name := op.OperationID
	if name == "" {
		name = fmt.Sprintf("%s_%s", strings.ToLower(method), sanitizePath(path))
	}

	description := op.Summary
	if description == "" {
		description = op.Description
	}
	if description == "" {
		description = fmt.Sprintf("%s %s", method, path)
	}

	properties := make(map[string]JSONSchema)
	var required []string
	for _, param := range op.Parameters {
		schema := JSONSchema{Description: param.Description}
		if param.Schema != nil {
			schema.Type = param.Schema.Type
			schema.Enum = param.Schema.Enum
			schema.Default = param.Schema.Default
		}
		properties[param.Name] = schema
		if param.Required {
			required = append(required, param.Name)
		}
	}
	if op.RequestBody != nil {
		if content, ok := op.RequestBody.Content["application/json"]; ok && content.Schema != nil {
			properties["body"] = *content.Schema
			if op.RequestBody.Required {
				required = append(required, "body")
			}
		}
	}

	config := map[string]any{
		"endpoint": joinURL(baseURL, path),
		"method":   method,
	}
	if len(properties) > 0 {
		config["parameters"] = &JSONSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		}
	}

	return types.ToolSpec{
		ToolID:      prefix + name,
		Type:        types.ToolAPI,
		Name:        name,
		Description: description,
		Config:      config,
	}
}

func joinURL(baseURL, path string) string {
	if baseURL == "" {
		return path
	}
	return strings.TrimSuffix(baseURL, "/") + path
}

func hasAnyTag(tags, targets []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, t := range targets {
		if set[t] {
			return true
		}
	}
	return false
}

func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "/", "_")
	path = strings.ReplaceAll(path, "{", "")
	path = strings.ReplaceAll(path, "}", "")
	return strings.Trim(path, "_")
}
