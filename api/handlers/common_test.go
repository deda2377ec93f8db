package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/types"
)

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"mesaj": "merhaba"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"mesaj":"merhaba"}`, w.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"anahtar": "deger"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop()

	tests := []struct {
		name       string
		err        *types.Error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "validation error",
			err:        types.NewError(types.ErrValidation, "agent_id is required"),
			wantStatus: http.StatusBadRequest,
			wantCode:   string(types.ErrValidation),
		},
		{
			name:       "not found",
			err:        types.NewError(types.ErrNotFound, "unknown agent"),
			wantStatus: http.StatusNotFound,
			wantCode:   string(types.ErrNotFound),
		},
		{
			name:       "timeout",
			err:        types.NewError(types.ErrTimeout, "node deadline exceeded"),
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   string(types.ErrTimeout),
		},
		{
			name:       "store error",
			err:        types.NewError(types.ErrStore, "record query failed"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   string(types.ErrStore),
		},
		{
			name:       "explicit status wins over mapping",
			err:        types.NewError(types.ErrValidation, "agent id is already taken").WithHTTPStatus(http.StatusConflict),
			wantStatus: http.StatusConflict,
			wantCode:   string(types.ErrValidation),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			WriteError(w, tt.err, logger)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrValidation, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrUnknownTool, http.StatusUnprocessableEntity},
		{types.ErrUnknownNode, http.StatusUnprocessableEntity},
		{types.ErrMalformedMarker, http.StatusUnprocessableEntity},
		{types.ErrStepLimitExceeded, http.StatusUnprocessableEntity},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrToolUpstreamStatus, http.StatusBadGateway},
		{types.ErrToolFetchFailed, http.StatusBadGateway},
		{types.ErrToolDeliveryFailed, http.StatusBadGateway},
		{types.ErrProvider, http.StatusBadGateway},
		{types.ErrToolUnsupportedOp, http.StatusNotImplemented},
		{types.ErrStore, http.StatusInternalServerError},
		{types.ErrConfig, http.StatusInternalServerError},
		{types.ErrInternal, http.StatusInternalServerError},
		{"BILINMEYEN_KOD", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantStatus, mapErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestDecodeJSONBody(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop()

	type payload struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
		check   func(*testing.T, *payload)
	}{
		{
			name: "valid JSON",
			body: `{"name":"test","value":123}`,
			check: func(t *testing.T, p *payload) {
				assert.Equal(t, "test", p.Name)
				assert.Equal(t, 123, p.Value)
			},
		},
		{
			name:    "invalid JSON",
			body:    `{"name":"test",}`,
			wantErr: true,
		},
		{
			name:    "unknown field",
			body:    `{"name":"test","bilinmeyen":"alan"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))

			var result payload
			err := DecodeJSONBody(w, r, &result, logger)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, w.Code)
			} else {
				assert.NoError(t, err)
				if tt.check != nil {
					tt.check(t, &result)
				}
			}
		})
	}
}

func TestDecodeJSONBody_BodyLimit(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop()

	type payload struct {
		Name string `json:"name"`
	}

	oversized := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(oversized))

	var result payload
	err := DecodeJSONBody(w, r, &result, logger)
	assert.Error(t, err, "body over the limit is rejected")

	small := `{"name":"kucuk"}`
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(small))

	require.NoError(t, DecodeJSONBody(w, r, &result, logger))
	assert.Equal(t, "kucuk", result.Name)
}

func TestValidateContentType(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop()

	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{"plain json", "application/json", true},
		{"with charset", "application/json; charset=utf-8", true},
		{"uppercase charset", "application/json; charset=UTF-8", true},
		{"extra whitespace", "application/json;  charset=utf-8", true},
		{"text plain", "text/plain", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, ValidateContentType(w, r, logger))
		})
	}
}

func TestResponseWriter(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)

	// A second status write is ignored.
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}
