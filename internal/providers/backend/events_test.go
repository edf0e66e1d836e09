package backend

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatToolDisplay(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input string
		want  string
	}{
		{"bash with description", "Bash", `{"command":"go test ./...","description":"Run tests"}`, "🔧 Bash: Run tests"},
		{"bash falls back to command", "Bash", `{"command":"ls -la"}`, "🔧 Bash: ls -la"},
		{"read uses basename", "Read", `{"file_path":"/home/me/project/main.go"}`, "🔧 Read: main.go"},
		{"gemini write_file", "write_file", `{"path":"/tmp/out.txt"}`, "🔧 write_file: out.txt"},
		{"grep pattern", "Grep", `{"pattern":"func main"}`, "🔧 Grep: func main"},
		{"web fetch", "WebFetch", `{"url":"https://example.com"}`, "🔧 WebFetch: https://example.com"},
		{"unknown tool", "TodoWrite", `{"todos":[]}`, "🔧 TodoWrite"},
		{"mcp tool", "mcp__tuskbridge__send_image", `{"path":"/tmp/a.png"}`, "🔧 mcp__tuskbridge__send_image"},
		{"bad input", "Bash", `not json`, "🔧 Bash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatToolDisplay(&ToolUse{Name: tt.tool, Input: json.RawMessage(tt.input)})
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Empty(t, FormatToolDisplay(nil))
}

func TestFormatToolDisplay_TruncatesLongCommands(t *testing.T) {
	long := `{"command":"echo aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}`
	got := FormatToolDisplay(&ToolUse{Name: "Bash", Input: json.RawMessage(long)})
	assert.LessOrEqual(t, len(got), len("🔧 Bash: ")+50)
	assert.Contains(t, got, "...")

	cyr := `{"command":"echo 'привет мир, это длинная команда для проверки обрезки'"}`
	got = FormatToolDisplay(&ToolUse{Name: "Bash", Input: json.RawMessage(cyr)})
	assert.True(t, utf8.ValidString(got), got)
	assert.LessOrEqual(t, len(got), len("🔧 Bash: ")+50)
	assert.True(t, strings.HasSuffix(got, "..."), got)
}

func TestTruncate_KeepsRuneBoundaries(t *testing.T) {
	for n := 4; n < 40; n++ {
		got := truncate("ёжик в тумане 🌫️ идёт домой", n)
		assert.True(t, utf8.ValidString(got), "n=%d: %q", n, got)
		assert.LessOrEqual(t, len(got), n)
	}
}

func TestClaudeParser(t *testing.T) {
	p := claudeParser{}

	ev, err := p.Parse([]byte(`{"type":"system","subtype":"init","session_id":"abc","model":"claude-sonnet"}`))
	require.NoError(t, err)
	assert.Equal(t, EventInit, ev.Kind)
	assert.Equal(t, "abc", ev.SessionID)

	ev, err = p.Parse([]byte(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"a"},{"type":"tool_use","id":"1","name":"Read","input":{"file_path":"x.go"}},{"type":"text","text":"b"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, EventAssistant, ev.Kind)
	require.Len(t, ev.Blocks, 3)
	assert.Equal(t, BlockToolUse, ev.Blocks[1].Type)
	assert.Equal(t, "Read", ev.Blocks[1].Tool.Name)
	assert.Equal(t, "ab", ev.Text())

	ev, err = p.Parse([]byte(`{"type":"result","subtype":"success","is_error":false,"result":"done","total_cost_usd":0.01}`))
	require.NoError(t, err)
	assert.Equal(t, EventResult, ev.Kind)
	assert.Equal(t, "done", ev.Result)

	ev, err = p.Parse([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "rate_limit_error: slow down", ev.Error)

	ev, err = p.Parse([]byte(`{"type":"assistant","message":{"content":"plain"},"error":"rate_limit"}`))
	require.NoError(t, err)
	assert.Equal(t, "rate_limit", ev.Error)
	assert.Equal(t, "plain", ev.Text())

	_, err = p.Parse([]byte(`{"no_type":true}`))
	assert.Error(t, err)
	_, err = p.Parse([]byte(`garbage`))
	assert.Error(t, err)
}

func TestGeminiParser(t *testing.T) {
	p := geminiParser{}

	ev, err := p.Parse([]byte(`{"type":"message","role":"assistant","content":"hi","delta":true}`))
	require.NoError(t, err)
	assert.Equal(t, EventAssistant, ev.Kind)
	assert.True(t, ev.Delta)
	assert.Equal(t, "hi", ev.Text())

	ev, err = p.Parse([]byte(`{"type":"message","role":"user","content":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, EventOther, ev.Kind)

	ev, err = p.Parse([]byte(`{"type":"tool_use","tool_name":"run_shell_command","tool_id":"t","parameters":{"command":"pwd"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventToolUse, ev.Kind)
	assert.Equal(t, "🔧 run_shell_command: pwd", FormatToolDisplay(ev.Blocks[0].Tool))

	ev, err = p.Parse([]byte(`{"type":"error","error":{"message":"Quota exceeded","code":429}}`))
	require.NoError(t, err)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "429: Quota exceeded", ev.Error)
	assert.True(t, isRateLimitSignal(ev.Error))

	ev, err = p.Parse([]byte(`{"type":"result","status":"error"}`))
	require.NoError(t, err)
	assert.Equal(t, EventResult, ev.Kind)
	assert.True(t, ev.IsError)
}

func TestClassify(t *testing.T) {
	for _, s := range []string{"Rate limited", "usage LIMIT reached", "quota exhausted", "HTTP 429"} {
		assert.True(t, isRateLimitSignal(s), s)
	}
	assert.False(t, isRateLimitSignal("authentication failed"))

	for _, s := range []string{"API Error: 500 {}", "  API Error: 529 overloaded"} {
		assert.True(t, isAPIError(s, false), s)
	}
	for _, s := range []string{
		"500 Internal Server Error",
		`{"type": "api_error"}`,
		"error: internal_server_error",
	} {
		assert.True(t, isAPIError(s, true), s)
		assert.False(t, isAPIError(s, false), s)
	}
	assert.False(t, isAPIError("all good, served 500 requests", true))
	assert.False(t, isAPIError("An Internal Server Error usually means the upstream crashed.", false))
	assert.False(t, isAPIError("The log shows API Error: 500 at 10:42.", false))
}
