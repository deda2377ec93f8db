package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tulparlabs/agentrun/types"
)

func validDef() *types.AgentDefinition {
	return &types.AgentDefinition{
		AgentID:      "musteri-takip",
		Owner:        "tulpar",
		AgentName:    "Müşteri Takip",
		SystemPrompt: "Sen bir müşteri kayıt asistanısın.",
		LLMConfig:    types.LLMConfig{Provider: "deepseek", Model: "deepseek-chat"},
		DataSchema: types.DataSchema{
			CollectionName: "musteriler",
			Schema: map[string]any{
				"bsonType": "object",
				"properties": map[string]any{
					"ad":      map[string]any{"bsonType": "string"},
					"telefon": map[string]any{"bsonType": "string"},
				},
			},
		},
		Tools: []types.ToolSpec{
			{ToolID: "veritabani_islemleri", Type: types.ToolDatabase},
			{ToolID: "hava_durumu", Type: types.ToolAPI, Config: map[string]any{"endpoint": "https://api.example.com/weather"}},
		},
		Workflows: []types.WorkflowSpec{
			{
				WorkflowID: "kayit",
				Trigger:    "kayıt",
				Nodes: []types.Node{
					{NodeID: "cikar", Type: types.NodeLLMPrompt, Prompt: "Bilgileri çıkar: $message", OutputVariable: "bilgiler"},
					{NodeID: "kaydet", Type: types.NodeToolCall, ToolID: "veritabani_islemleri", Params: map[string]any{"operation": "insert_document"}},
					{NodeID: "dallan", Type: types.NodeConditional, Condition: "$bilgiler != null", OnTrue: "bildir", OnFalse: "halt"},
					{NodeID: "bildir", Type: types.NodeSendResponse, Message: "Kaydedildi."},
				},
			},
		},
		Schedules: []types.Schedule{
			{ScheduleID: "gunluk", Cron: "0 9 * * *", WorkflowID: "kayit"},
		},
	}
}

func TestValidate_AcceptsCompleteDefinition(t *testing.T) {
	t.Parallel()
	require.NoError(t, Validate(validDef()))
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(def *types.AgentDefinition)
		wantMsg string
	}{
		{
			name:    "nil definition handled by caller",
			mutate:  nil,
			wantMsg: "agent definition is nil",
		},
		{
			name:    "agent id with path characters",
			mutate:  func(d *types.AgentDefinition) { d.AgentID = "../etc/passwd" },
			wantMsg: "must match",
		},
		{
			name:    "missing collection name",
			mutate:  func(d *types.AgentDefinition) { d.DataSchema.CollectionName = " " },
			wantMsg: "dataSchema.collectionName",
		},
		{
			name: "duplicate tool id",
			mutate: func(d *types.AgentDefinition) {
				d.Tools = append(d.Tools, types.ToolSpec{ToolID: "veritabani_islemleri", Type: types.ToolDatabase})
			},
			wantMsg: "declares tool veritabani_islemleri twice",
		},
		{
			name: "unknown tool type",
			mutate: func(d *types.AgentDefinition) {
				d.Tools[0].Type = "BLOCKCHAIN"
			},
			wantMsg: "unknown type",
		},
		{
			name: "duplicate workflow id",
			mutate: func(d *types.AgentDefinition) {
				d.Workflows = append(d.Workflows, types.WorkflowSpec{
					WorkflowID: "kayit",
					Nodes:      []types.Node{{NodeID: "x", Type: types.NodeSendResponse, Message: "m"}},
				})
			},
			wantMsg: "declares workflow kayit twice",
		},
		{
			name: "duplicate node id",
			mutate: func(d *types.AgentDefinition) {
				d.Workflows[0].Nodes = append(d.Workflows[0].Nodes, types.Node{
					NodeID: "cikar", Type: types.NodeSendResponse, Message: "m",
				})
			},
			wantMsg: "declares node cikar twice",
		},
		{
			name: "llm_prompt without prompt",
			mutate: func(d *types.AgentDefinition) {
				d.Workflows[0].Nodes[0].Prompt = ""
			},
			wantMsg: "missing required field prompt",
		},
		{
			name: "llm_prompt without output variable",
			mutate: func(d *types.AgentDefinition) {
				d.Workflows[0].Nodes[0].OutputVariable = ""
			},
			wantMsg: "missing required field output_variable",
		},
		{
			name: "tool_call referencing undeclared tool",
			mutate: func(d *types.AgentDefinition) {
				d.Workflows[0].Nodes[1].ToolID = "hayalet_tool"
			},
			wantMsg: "undeclared tool hayalet_tool",
		},
		{
			name: "conditional without condition",
			mutate: func(d *types.AgentDefinition) {
				d.Workflows[0].Nodes[2].Condition = ""
			},
			wantMsg: "missing required field condition",
		},
		{
			name: "conditional branching to unknown node",
			mutate: func(d *types.AgentDefinition) {
				d.Workflows[0].Nodes[2].OnTrue = "olmayan_node"
			},
			wantMsg: "branches to unknown node olmayan_node",
		},
		{
			name: "send_response without message",
			mutate: func(d *types.AgentDefinition) {
				d.Workflows[0].Nodes[3].Message = ""
			},
			wantMsg: "missing required field message",
		},
		{
			name: "data_store without action",
			mutate: func(d *types.AgentDefinition) {
				d.Workflows[0].Nodes = []types.Node{{NodeID: "ds", Type: types.NodeDataStore, Collection: "c"}}
			},
			wantMsg: "missing required field action",
		},
		{
			name: "schedule without cron",
			mutate: func(d *types.AgentDefinition) {
				d.Schedules[0].Cron = ""
			},
			wantMsg: "no cron expression",
		},
		{
			name: "schedule referencing unknown workflow",
			mutate: func(d *types.AgentDefinition) {
				d.Schedules[0].WorkflowID = "olmayan_wf"
			},
			wantMsg: `references unknown workflow "olmayan_wf"`,
		},
		{
			name: "duplicate schedule id",
			mutate: func(d *types.AgentDefinition) {
				d.Schedules = append(d.Schedules, types.Schedule{ScheduleID: "gunluk", Cron: "* * * * *", WorkflowID: "kayit"})
			},
			wantMsg: "declares schedule gunluk twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var def *types.AgentDefinition
			if tt.mutate != nil {
				def = validDef()
				tt.mutate(def)
			}
			err := Validate(def)
			require.Error(t, err)
			assert.Equal(t, types.ErrValidation, types.GetCode(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_BranchKeywordsAndFallthrough(t *testing.T) {
	t.Parallel()
	def := validDef()
	def.Workflows[0].Nodes[2].OnTrue = "HALT" // keyword is case-insensitive
	def.Workflows[0].Nodes[2].OnFalse = ""    // empty means fallthrough
	require.NoError(t, Validate(def))
}

func TestValidate_DataStoreFallsBackToAgentCollection(t *testing.T) {
	t.Parallel()
	def := validDef()
	def.Workflows[0].Nodes = []types.Node{
		{NodeID: "ds", Type: types.NodeDataStore, Action: "insert"},
	}
	require.NoError(t, Validate(def), "node without collection uses the agent's dataSchema collection")
}
