package backend

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

type EventKind string

const (
	EventInit       EventKind = "init"
	EventAssistant  EventKind = "assistant"
	EventToolUse    EventKind = "tool_use"
	EventToolResult EventKind = "tool_result"
	EventError      EventKind = "error"
	EventResult     EventKind = "result"
	EventOther      EventKind = "other"
)

const (
	BlockText    = "text"
	BlockToolUse = "tool_use"
)

type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Block is one ordered piece of assistant output.
type Block struct {
	Type string
	Text string
	Tool *ToolUse
}

// Event is a backend stream event normalized across CLIs.
type Event struct {
	Kind      EventKind
	Blocks    []Block
	Delta     bool
	Result    string
	IsError   bool
	Error     string
	SessionID string
	Model     string
}

// Text concatenates the text blocks of the event.
func (e Event) Text() string {
	var sb strings.Builder
	for _, b := range e.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Parser turns one stdout line into an Event.
type Parser interface {
	Parse(line []byte) (Event, error)
}

// FormatToolDisplay renders a tool invocation as a one-line activity
// notice, e.g. "🔧 Bash: run tests".
func FormatToolDisplay(t *ToolUse) string {
	if t == nil || t.Name == "" {
		return ""
	}

	var input struct {
		Description string `json:"description"`
		Command     string `json:"command"`
		FilePath    string `json:"file_path"`
		Path        string `json:"path"`
		Pattern     string `json:"pattern"`
		URL         string `json:"url"`
		Query       string `json:"query"`
	}
	_ = json.Unmarshal(t.Input, &input)

	detail := ""
	switch strings.ToLower(t.Name) {
	case "bash", "run_shell_command", "shell":
		detail = input.Description
		if detail == "" {
			detail = truncate(input.Command, 50)
		}
	case "read", "view", "edit", "write", "multiedit", "read_file", "write_file", "replace":
		p := input.FilePath
		if p == "" {
			p = input.Path
		}
		if p != "" {
			detail = path.Base(p)
		}
	case "grep", "glob", "search_file_content":
		detail = truncate(input.Pattern, 30)
	case "webfetch", "web_fetch":
		detail = truncate(input.URL, 60)
	case "websearch", "google_web_search":
		detail = truncate(input.Query, 50)
	case "task":
		detail = input.Description
	}

	if detail == "" {
		return fmt.Sprintf("🔧 %s", t.Name)
	}
	return fmt.Sprintf("🔧 %s: %s", t.Name, detail)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// parseErrorField accepts both `"error": "rate_limit"` and
// `"error": {"message": "...", "type": "..."}`.
func parseErrorField(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw)
	}

	parts := make([]string, 0, 3)
	for _, p := range []string{obj.Type, fmt.Sprint(valueOrEmpty(obj.Code)), obj.Message} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ": ")
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
