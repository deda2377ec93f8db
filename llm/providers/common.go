// Package providers implements the upstream completion APIs. Each
// provider is a hand-rolled net/http client; shared wire shapes and
// status mapping live here.
package providers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tulparlabs/agentrun/types"
)

// errorEnvelope is the {"error": {"message": ...}} shape OpenAI-style
// APIs and Gemini both use for failures.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// ReadErrorMessage extracts a human-readable message from an error
// response body, falling back to the raw body.
func ReadErrorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	var envelope errorEnvelope
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(data)
}

// MapHTTPError converts an upstream status into a provider error.
// Rate limits and server-side failures are retryable; auth and request
// shape problems are not.
func MapHTTPError(status int, msg, provider string) *types.Error {
	err := types.Errorf(types.ErrProvider, "%s: %s", provider, msg).WithHTTPStatus(status)
	return err.WithRetryable(status == http.StatusTooManyRequests || status >= 500)
}

// ChooseModel picks the request model, falling back to the provider's
// configured default.
func ChooseModel(requested, configured string) string {
	if requested != "" {
		return requested
	}
	return configured
}
