package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

// stubRunner returns canned results and records what it was asked.
type stubRunner struct {
	result *types.RunResult
	err    error

	agentID    string
	workflowID string
	userID     string
	message    string
	initial    map[string]any
}

func (s *stubRunner) Run(_ context.Context, agentID, workflowID string, initial map[string]any, _ ...engine.RunOption) (*types.RunResult, error) {
	s.agentID, s.workflowID, s.initial = agentID, workflowID, initial
	return s.result, s.err
}

func (s *stubRunner) HandleMessage(_ context.Context, agentID, userID, message string, _ ...engine.RunOption) (*types.RunResult, error) {
	s.agentID, s.userID, s.message = agentID, userID, message
	return s.result, s.err
}

func completedResult() *types.RunResult {
	now := time.Now()
	return &types.RunResult{
		RunID:      "run-1",
		AgentID:    "rapor-botu",
		WorkflowID: "gunluk-rapor",
		State:      types.RunCompleted,
		Responses:  []string{"rapor hazır"},
		Steps:      3,
		StartedAt:  now.Add(-time.Second),
		EndedAt:    now,
	}
}

func postJSON(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// ---- start run ----

func TestRunHandler_Start(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{result: completedResult()}
	h := NewRunHandler(runner, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleStart(w, postJSON("/api/v1/runs",
		`{"agent_id":"rapor-botu","workflow_id":"gunluk-rapor","initial":{"konu":"hava"}}`))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result types.RunResult
	resp := decodeEnvelope(t, w, &result)
	assert.True(t, resp.Success)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, types.RunCompleted, result.State)
	assert.Equal(t, []string{"rapor hazır"}, result.Responses)

	assert.Equal(t, "rapor-botu", runner.agentID)
	assert.Equal(t, "gunluk-rapor", runner.workflowID)
	assert.Equal(t, map[string]any{"konu": "hava"}, runner.initial)
}

func TestRunHandler_Start_MissingFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"no agent", `{"workflow_id":"gunluk-rapor"}`},
		{"no workflow", `{"agent_id":"rapor-botu"}`},
		{"empty body", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewRunHandler(&stubRunner{}, zap.NewNop())
			w := httptest.NewRecorder()
			h.HandleStart(w, postJSON("/api/v1/runs", tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)

			resp := decodeEnvelope(t, w, nil)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrValidation), resp.Error.Code)
		})
	}
}

func TestRunHandler_Start_UnknownAgent(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{err: types.Errorf(types.ErrNotFound, "unknown agent %q", "hayalet")}
	h := NewRunHandler(runner, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleStart(w, postJSON("/api/v1/runs", `{"agent_id":"hayalet","workflow_id":"x"}`))

	require.Equal(t, http.StatusNotFound, w.Code)

	resp := decodeEnvelope(t, w, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)
}

func TestRunHandler_Start_FailedRunStaysOK(t *testing.T) {
	t.Parallel()

	// A run that executed and failed is payload, not a transport error:
	// the failure detail rides inside the result.
	failed := completedResult()
	failed.State = types.RunFailed
	failed.FailureCode = types.ErrTimeout
	failed.FailureMessage = "node deadline exceeded"
	runner := &stubRunner{
		result: failed,
		err:    types.NewError(types.ErrTimeout, "node deadline exceeded"),
	}
	h := NewRunHandler(runner, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleStart(w, postJSON("/api/v1/runs", `{"agent_id":"rapor-botu","workflow_id":"gunluk-rapor"}`))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result types.RunResult
	resp := decodeEnvelope(t, w, &result)
	assert.True(t, resp.Success)
	assert.Equal(t, types.RunFailed, result.State)
	assert.Equal(t, types.ErrTimeout, result.FailureCode)
}

func TestRunHandler_Start_ErrorWithoutResult(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{err: types.NewError(types.ErrInternal, "engine wedged")}
	h := NewRunHandler(runner, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleStart(w, postJSON("/api/v1/runs", `{"agent_id":"rapor-botu","workflow_id":"gunluk-rapor"}`))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// ---- message ----

func TestRunHandler_Message(t *testing.T) {
	t.Parallel()

	result := completedResult()
	result.AgentID = "sohbet-botu"
	result.UserID = "ayse"
	result.Responses = []string{"merhaba"}
	runner := &stubRunner{result: result}
	h := NewRunHandler(runner, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleMessage(w, postJSON("/api/v1/messages",
		`{"agent_id":"sohbet-botu","user_id":"ayse","message":"selam"}`))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got types.RunResult
	decodeEnvelope(t, w, &got)
	assert.Equal(t, []string{"merhaba"}, got.Responses)

	assert.Equal(t, "sohbet-botu", runner.agentID)
	assert.Equal(t, "ayse", runner.userID)
	assert.Equal(t, "selam", runner.message)
}

func TestRunHandler_Message_MissingFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"no user", `{"agent_id":"sohbet-botu","message":"selam"}`},
		{"no message", `{"agent_id":"sohbet-botu","user_id":"ayse"}`},
		{"no agent", `{"user_id":"ayse","message":"selam"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewRunHandler(&stubRunner{}, zap.NewNop())
			w := httptest.NewRecorder()
			h.HandleMessage(w, postJSON("/api/v1/messages", tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRunHandler_Message_MalformedBody(t *testing.T) {
	t.Parallel()

	h := NewRunHandler(&stubRunner{}, zap.NewNop())
	w := httptest.NewRecorder()
	h.HandleMessage(w, postJSON("/api/v1/messages", `{"agent_id":`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
