package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/internal/tlsutil"
	"github.com/tulparlabs/agentrun/types"
)

// apiResponseLimit caps how much of an upstream body is read. Anything
// past it is dropped rather than buffered into the run context.
const apiResponseLimit = 4 << 20

// APIConfig holds defaults for the generic HTTP tool. Per-call settings
// (endpoint, method, headers, timeout) come from the tool spec.
type APIConfig struct {
	Timeout time.Duration
	Client  *http.Client
}

// DefaultAPIConfig returns sensible defaults.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Timeout: 30 * time.Second,
	}
}

// APIHandler executes "api" tools: a single HTTP request against the
// endpoint configured on the tool spec, with sanitized parameters sent
// as query values or a JSON body depending on the method.
type APIHandler struct {
	config APIConfig
	client *http.Client
	logger *zap.Logger
}

// NewAPIHandler creates the api tool handler.
func NewAPIHandler(config APIConfig, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultAPIConfig().Timeout
	}
	client := config.Client
	if client == nil {
		// Request deadlines come from per-call contexts, so the client
		// itself stays unbounded.
		client = &http.Client{Transport: tlsutil.SecureTransport()}
	}
	return &APIHandler{
		config: config,
		client: client,
		logger: logger.With(zap.String("component", "api_tool")),
	}
}

func (h *APIHandler) Execute(ctx context.Context, call *engine.ToolRequest) (map[string]any, error) {
	endpoint := call.Spec.ConfigString("endpoint")
	if endpoint == "" {
		endpoint = paramString(call.Params, "endpoint")
	}
	target, err := ValidateURL(endpoint)
	if err != nil {
		return nil, err
	}

	method, err := resolveMethod(call)
	if err != nil {
		return nil, err
	}

	timeout := h.config.Timeout
	if secs := call.Spec.ConfigFloat("timeout"); secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := requestParams(call.Params)

	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		query := target.Query()
		for key, value := range params {
			query.Set(key, queryValue(value))
		}
		target.RawQuery = query.Encode()
	} else {
		encoded, merr := json.Marshal(params)
		if merr != nil {
			return nil, types.Errorf(types.ErrValidation, "api tool %s has unencodable parameters", call.Spec.ToolID).WithCause(merr)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, types.Errorf(types.ErrValidation, "building request for tool %s failed", call.Spec.ToolID).WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range configHeaders(call.Spec) {
		req.Header.Set(key, value)
	}

	h.logger.Debug("api request",
		zap.String("tool_id", call.Spec.ToolID),
		zap.String("method", method),
		zap.String("host", target.Host))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, types.Errorf(types.ErrToolFetchFailed, "request to %s failed", target.Host).WithCause(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, apiResponseLimit))
	if err != nil {
		return nil, types.Errorf(types.ErrToolFetchFailed, "reading response from %s failed", target.Host).WithCause(err)
	}

	h.logger.Debug("api response",
		zap.String("tool_id", call.Spec.ToolID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(payload)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		uerr := types.Errorf(types.ErrToolUpstreamStatus, "api tool %s got status %d", call.Spec.ToolID, resp.StatusCode).
			WithHTTPStatus(resp.StatusCode)
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			uerr = uerr.WithRetryable(false)
		}
		return nil, uerr
	}

	return decodeAPIResponse(payload), nil
}

// decodeAPIResponse maps the upstream body to a tool result. JSON
// objects pass through unchanged; everything else is wrapped so the
// caller always gets a map.
func decodeAPIResponse(payload []byte) map[string]any {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return map[string]any{"success": true}
	}
	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err == nil {
		if object, ok := decoded.(map[string]any); ok {
			return object
		}
		return map[string]any{"success": true, "result": decoded}
	}
	return map[string]any{"success": true, "result": string(trimmed)}
}

func resolveMethod(call *engine.ToolRequest) (string, error) {
	method := strings.ToUpper(call.Spec.ConfigString("method"))
	if method == "" {
		method = strings.ToUpper(paramString(call.Params, "method"))
	}
	if method == "" {
		return http.MethodGet, nil
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return method, nil
	default:
		return "", types.Errorf(types.ErrValidation, "api tool %s has unsupported method %s", call.Spec.ToolID, method)
	}
}

// requestParams strips transport directives so only payload values go
// out on the wire.
func requestParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for key, value := range params {
		switch key {
		case "endpoint", "method":
			continue
		}
		out[key] = value
	}
	return out
}

func queryValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64, int, int64, bool:
		return fmt.Sprint(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

func configHeaders(spec *types.ToolSpec) map[string]string {
	raw, ok := spec.Config["headers"].(map[string]any)
	if !ok {
		return nil
	}
	headers := make(map[string]string, len(raw))
	for key, value := range raw {
		if text, ok := value.(string); ok {
			headers[key] = text
		}
	}
	return headers
}
