package backend

import (
	"encoding/json"
	"fmt"
)

type geminiEvent struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	Model      string          `json:"model,omitempty"`
	Role       string          `json:"role,omitempty"`
	Content    string          `json:"content,omitempty"`
	Delta      bool            `json:"delta,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Status     string          `json:"status,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

type geminiParser struct{}

func (geminiParser) Parse(line []byte) (Event, error) {
	var raw geminiEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return Event{}, fmt.Errorf("decode gemini event: %w", err)
	}
	if raw.Type == "" {
		return Event{}, fmt.Errorf("gemini event without type")
	}

	ev := Event{
		SessionID: raw.SessionID,
		Model:     raw.Model,
		Error:     parseErrorField(raw.Error),
	}

	switch raw.Type {
	case "init":
		ev.Kind = EventInit
	case "message":
		if raw.Role != "assistant" {
			ev.Kind = EventOther
			break
		}
		ev.Kind = EventAssistant
		ev.Delta = raw.Delta
		if raw.Content != "" {
			ev.Blocks = []Block{{Type: BlockText, Text: raw.Content}}
		}
	case "tool_use":
		ev.Kind = EventToolUse
		ev.Blocks = []Block{{
			Type: BlockToolUse,
			Tool: &ToolUse{ID: raw.ToolID, Name: raw.ToolName, Input: raw.Parameters},
		}}
	case "tool_result":
		ev.Kind = EventToolResult
	case "result":
		// gemini carries no final text; the accumulator is the response
		ev.Kind = EventResult
		ev.IsError = raw.Status == "error"
	case "error":
		ev.Kind = EventError
	default:
		ev.Kind = EventOther
	}
	return ev, nil
}
