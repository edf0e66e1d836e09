package backend

import (
	"encoding/json"
	"fmt"
)

type claudeContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type claudeEvent struct {
	Type      string          `json:"type"`
	SubType   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Model     string          `json:"model,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	Message   *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message,omitempty"`
}

type claudeParser struct{}

func (claudeParser) Parse(line []byte) (Event, error) {
	var raw claudeEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return Event{}, fmt.Errorf("decode claude event: %w", err)
	}
	if raw.Type == "" {
		return Event{}, fmt.Errorf("claude event without type")
	}

	ev := Event{
		SessionID: raw.SessionID,
		Model:     raw.Model,
		Result:    raw.Result,
		IsError:   raw.IsError,
		Error:     parseErrorField(raw.Error),
	}

	switch raw.Type {
	case "system":
		ev.Kind = EventOther
		if raw.SubType == "init" {
			ev.Kind = EventInit
		}
	case "assistant":
		ev.Kind = EventAssistant
		ev.Blocks = claudeBlocks(raw.Message)
	case "user":
		ev.Kind = EventToolResult
	case "result":
		ev.Kind = EventResult
	case "error":
		ev.Kind = EventError
		if ev.Error == "" {
			ev.Error = raw.Result
		}
	default:
		ev.Kind = EventOther
	}
	return ev, nil
}

func claudeBlocks(msg *struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}) []Block {
	if msg == nil || len(msg.Content) == 0 {
		return nil
	}

	// content is usually an array of blocks, occasionally a bare string
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		return []Block{{Type: BlockText, Text: text}}
	}

	var content []claudeContent
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		return nil
	}

	blocks := make([]Block, 0, len(content))
	for _, c := range content {
		switch c.Type {
		case "text":
			if c.Text != "" {
				blocks = append(blocks, Block{Type: BlockText, Text: c.Text})
			}
		case "tool_use":
			blocks = append(blocks, Block{
				Type: BlockToolUse,
				Tool: &ToolUse{ID: c.ID, Name: c.Name, Input: c.Input},
			})
		}
	}
	return blocks
}
