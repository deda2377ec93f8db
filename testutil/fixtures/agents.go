// Package fixtures provides canned agent definitions and provider
// responses shared by integration-style tests.
package fixtures

import (
	"github.com/tulparlabs/agentrun/types"
)

// ReportAgent is a three-node reporting agent: gather facts with the
// LLM, insert them through the database tool, and send the stored
// result back. It also carries a morning cron schedule.
func ReportAgent() *types.AgentDefinition {
	return &types.AgentDefinition{
		AgentID:      "rapor-botu",
		Owner:        "ayse",
		AgentName:    "Rapor Botu",
		Version:      "1.0.0",
		SystemPrompt: "Sen günlük raporları derleyen bir asistansın.",
		LLMConfig: types.LLMConfig{
			Provider:    "deepseek",
			Model:       "deepseek-chat",
			Temperature: 0.3,
			MaxTokens:   1024,
		},
		DataSchema: types.DataSchema{
			CollectionName: "raporlar",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ozet":  map[string]any{"type": "string"},
					"tarih": map[string]any{"type": "string"},
				},
			},
		},
		Tools: []types.ToolSpec{
			{
				ToolID:      "veritabani_islemleri",
				Type:        types.ToolDatabase,
				Name:        "Veritabanı",
				Description: "Rapor koleksiyonu üzerinde işlem yapar.",
			},
		},
		Workflows: []types.WorkflowSpec{
			{
				WorkflowID:  "gunluk-rapor",
				Description: "Günün özetini derler ve kaydeder.",
				Trigger:     "rapor",
				Nodes: []types.Node{
					{
						NodeID:         "bilgi-topla",
						Type:           types.NodeLLMPrompt,
						Prompt:         "Bugünün ($current_date) özetini hazırla: $message",
						OutputVariable: "temel_bilgiler",
					},
					{
						NodeID: "kaydet",
						Type:   types.NodeToolCall,
						ToolID: "veritabani_islemleri",
						Params: map[string]any{
							"operation": "insert_document",
							"document": map[string]any{
								"ozet":  "$temel_bilgiler",
								"tarih": "$current_date",
							},
						},
						OutputVariable: "kayit_sonucu",
					},
					{
						NodeID:  "yanit-gonder",
						Type:    types.NodeSendResponse,
						Message: "$kayit_sonucu",
					},
				},
			},
		},
		Schedules: []types.Schedule{
			{
				ScheduleID:  "sabah-raporu",
				Cron:        "0 9 * * *",
				Description: "Her sabah 09:00 raporu",
				WorkflowID:  "gunluk-rapor",
			},
		},
	}
}

// ChatAgent is the smallest useful agent: one default-triggered
// workflow that answers with the LLM and sends the answer back.
func ChatAgent() *types.AgentDefinition {
	return &types.AgentDefinition{
		AgentID:      "sohbet-botu",
		Owner:        "kemal",
		AgentName:    "Sohbet Botu",
		SystemPrompt: "Kısa ve nazik cevaplar ver.",
		LLMConfig: types.LLMConfig{
			Provider: "deepseek",
			Model:    "deepseek-chat",
		},
		DataSchema: types.DataSchema{CollectionName: "sohbetler"},
		Workflows: []types.WorkflowSpec{
			{
				WorkflowID: "default",
				Trigger:    "default",
				Nodes: []types.Node{
					{
						NodeID:         "cevapla",
						Type:           types.NodeLLMPrompt,
						Prompt:         "$message",
						OutputVariable: "yanit",
					},
					{
						NodeID:  "gonder",
						Type:    types.NodeSendResponse,
						Message: "$yanit",
					},
				},
			},
		},
	}
}
