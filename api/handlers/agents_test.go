package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/agents"
	"github.com/tulparlabs/agentrun/api"
	"github.com/tulparlabs/agentrun/testutil"
	"github.com/tulparlabs/agentrun/testutil/fixtures"
	"github.com/tulparlabs/agentrun/types"
)

func newAgentHandler(t *testing.T, opts ...AgentHandlerOption) (*AgentHandler, *agents.FileStore) {
	t.Helper()

	store, err := agents.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewAgentHandler(store, zap.NewNop(), opts...), store
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data any) *Response {
	t.Helper()

	raw := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *ErrorInfo      `json:"error"`
	}{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return &Response{Success: raw.Success, Error: raw.Error}
}

// ---- list ----

func TestAgentHandler_List(t *testing.T) {
	t.Parallel()

	h, store := newAgentHandler(t)
	require.NoError(t, store.Save(fixtures.ReportAgent()))
	require.NoError(t, store.Save(fixtures.ChatAgent()))

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var list api.AgentListResponse
	resp := decodeEnvelope(t, w, &list)
	assert.True(t, resp.Success)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "rapor-botu", list.Agents[0].AgentID)
	assert.Equal(t, "sohbet-botu", list.Agents[1].AgentID)
	assert.Equal(t, 1, list.Agents[0].Tools)
	assert.Equal(t, 1, list.Agents[0].Schedules)
}

func TestAgentHandler_List_OwnerFilter(t *testing.T) {
	t.Parallel()

	h, store := newAgentHandler(t)
	require.NoError(t, store.Save(fixtures.ReportAgent()))
	require.NoError(t, store.Save(fixtures.ChatAgent()))

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents?owner=ayse", nil))

	var list api.AgentListResponse
	decodeEnvelope(t, w, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "rapor-botu", list.Agents[0].AgentID)
	assert.Equal(t, "ayse", list.Agents[0].Owner)
}

// ---- get ----

func TestAgentHandler_Get(t *testing.T) {
	t.Parallel()

	h, store := newAgentHandler(t)
	require.NoError(t, store.Save(fixtures.ReportAgent()))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/rapor-botu", nil)
	r.SetPathValue("id", "rapor-botu")
	w := httptest.NewRecorder()
	h.HandleGet(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var def types.AgentDefinition
	resp := decodeEnvelope(t, w, &def)
	assert.True(t, resp.Success)
	assert.Equal(t, "rapor-botu", def.AgentID)
	assert.Len(t, def.Workflows, 1)
}

func TestAgentHandler_Get_Unknown(t *testing.T) {
	t.Parallel()

	h, _ := newAgentHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/hayalet", nil)
	r.SetPathValue("id", "hayalet")
	w := httptest.NewRecorder()
	h.HandleGet(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)

	resp := decodeEnvelope(t, w, nil)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)
}

// ---- create ----

func TestAgentHandler_Create(t *testing.T) {
	t.Parallel()

	var hookedID string
	var hooked *types.AgentDefinition
	h, store := newAgentHandler(t, WithAgentChangeHook(func(agentID string, def *types.AgentDefinition) {
		hookedID, hooked = agentID, def
	}))

	body := testutil.MustJSON(fixtures.ChatAgent())
	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleCreate(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.True(t, store.Exists("sohbet-botu"))
	_, err := os.Stat(store.Path("sohbet-botu"))
	assert.NoError(t, err, "definition file lands on disk")

	require.NotNil(t, hooked)
	assert.Equal(t, "sohbet-botu", hookedID)
	assert.Equal(t, "sohbet-botu", hooked.AgentID)
}

func TestAgentHandler_Create_Conflict(t *testing.T) {
	t.Parallel()

	h, store := newAgentHandler(t)
	require.NoError(t, store.Save(fixtures.ChatAgent()))

	body := testutil.MustJSON(fixtures.ChatAgent())
	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleCreate(w, r)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAgentHandler_Create_InvalidDefinition(t *testing.T) {
	t.Parallel()

	h, _ := newAgentHandler(t)

	// No workflows: the store's validator rejects it.
	def := fixtures.ChatAgent()
	def.Workflows = nil

	body := testutil.MustJSON(def)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleCreate(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeEnvelope(t, w, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrValidation), resp.Error.Code)
}

func TestAgentHandler_Create_WrongContentType(t *testing.T) {
	t.Parallel()

	h, _ := newAgentHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents", strings.NewReader("agent"))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.HandleCreate(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---- update ----

func TestAgentHandler_Update(t *testing.T) {
	t.Parallel()

	h, store := newAgentHandler(t)
	require.NoError(t, store.Save(fixtures.ChatAgent()))

	updated := fixtures.ChatAgent()
	updated.AgentName = "Sohbet Botu v2"
	updated.Version = "2.0.0"

	body := testutil.MustJSON(updated)
	r := httptest.NewRequest(http.MethodPut, "/api/v1/agents/sohbet-botu", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.SetPathValue("id", "sohbet-botu")
	w := httptest.NewRecorder()
	h.HandleUpdate(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	def, ok := store.Get("sohbet-botu")
	require.True(t, ok)
	assert.Equal(t, "Sohbet Botu v2", def.AgentName)
	assert.Equal(t, "2.0.0", def.Version)
}

func TestAgentHandler_Update_BodyWithoutID(t *testing.T) {
	t.Parallel()

	h, store := newAgentHandler(t)
	require.NoError(t, store.Save(fixtures.ChatAgent()))

	updated := fixtures.ChatAgent()
	updated.AgentID = ""
	updated.AgentName = "Adsiz"

	body := testutil.MustJSON(updated)
	r := httptest.NewRequest(http.MethodPut, "/api/v1/agents/sohbet-botu", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.SetPathValue("id", "sohbet-botu")
	w := httptest.NewRecorder()
	h.HandleUpdate(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	def, ok := store.Get("sohbet-botu")
	require.True(t, ok)
	assert.Equal(t, "Adsiz", def.AgentName)
}

func TestAgentHandler_Update_IDMismatch(t *testing.T) {
	t.Parallel()

	h, store := newAgentHandler(t)
	require.NoError(t, store.Save(fixtures.ChatAgent()))

	body := testutil.MustJSON(fixtures.ReportAgent())
	r := httptest.NewRequest(http.MethodPut, "/api/v1/agents/sohbet-botu", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.SetPathValue("id", "sohbet-botu")
	w := httptest.NewRecorder()
	h.HandleUpdate(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentHandler_Update_Unknown(t *testing.T) {
	t.Parallel()

	h, _ := newAgentHandler(t)

	body := testutil.MustJSON(fixtures.ChatAgent())
	r := httptest.NewRequest(http.MethodPut, "/api/v1/agents/sohbet-botu", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.SetPathValue("id", "sohbet-botu")
	w := httptest.NewRecorder()
	h.HandleUpdate(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---- delete ----

func TestAgentHandler_Delete(t *testing.T) {
	t.Parallel()

	hookCalls := 0
	hookedID := ""
	var hookedDef *types.AgentDefinition
	h, store := newAgentHandler(t, WithAgentChangeHook(func(agentID string, def *types.AgentDefinition) {
		hookCalls++
		hookedID, hookedDef = agentID, def
	}))
	require.NoError(t, store.Save(fixtures.ChatAgent()))

	r := httptest.NewRequest(http.MethodDelete, "/api/v1/agents/sohbet-botu", nil)
	r.SetPathValue("id", "sohbet-botu")
	w := httptest.NewRecorder()
	h.HandleDelete(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.False(t, store.Exists("sohbet-botu"))
	_, err := os.Stat(store.Path("sohbet-botu"))
	assert.True(t, os.IsNotExist(err), "definition file is gone")

	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, "sohbet-botu", hookedID)
	assert.Nil(t, hookedDef, "delete hook gets a nil definition")
}

func TestAgentHandler_Delete_Unknown(t *testing.T) {
	t.Parallel()

	h, _ := newAgentHandler(t)

	r := httptest.NewRequest(http.MethodDelete, "/api/v1/agents/hayalet", nil)
	r.SetPathValue("id", "hayalet")
	w := httptest.NewRecorder()
	h.HandleDelete(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---- path extraction ----

func TestExtractAgentID(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/rapor-botu", nil)
	assert.Equal(t, "rapor-botu", extractAgentID(r), "prefix trim fallback")

	r = httptest.NewRequest(http.MethodGet, "/api/v1/agents/rapor-botu/extra", nil)
	assert.Equal(t, "rapor-botu", extractAgentID(r), "trailing segments are dropped")

	r = httptest.NewRequest(http.MethodGet, "/api/v1/agents/other", nil)
	r.SetPathValue("id", "rapor-botu")
	assert.Equal(t, "rapor-botu", extractAgentID(r), "path value wins")
}
