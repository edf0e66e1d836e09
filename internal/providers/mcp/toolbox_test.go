package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/tuskbridge/internal/service/outbox"
)

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content %T", res.Content[0])
	return ""
}

func newTestToolbox(t *testing.T) (*Toolbox, *outbox.Outbox) {
	t.Helper()
	ob := outbox.New(filepath.Join(t.TempDir(), "outbox"))
	return NewToolbox(ob), ob
}

func TestToolbox_SendImage(t *testing.T) {
	t.Parallel()
	tb, ob := newTestToolbox(t)
	ctx := context.Background()

	img := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG fake"), 0o644))

	res, err := tb.handleSendImage(ctx, callReq(ToolSendImage, map[string]any{"path": img, "caption": "weekly"}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))

	envs, err := ob.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, outbox.KindImage, envs[0].Kind)
	assert.Equal(t, "weekly", envs[0].Caption)
	assert.Equal(t, []byte("\x89PNG fake"), envs[0].Data)
}

func TestToolbox_SendImage_Rejects(t *testing.T) {
	t.Parallel()
	tb, ob := newTestToolbox(t)
	ctx := context.Background()

	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hi"), 0o644))

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing path", map[string]any{}},
		{"relative path", map[string]any{"path": "chart.png"}},
		{"not an image", map[string]any{"path": txt}},
		{"missing file", map[string]any{"path": filepath.Join(dir, "gone.png")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tb.handleSendImage(ctx, callReq(ToolSendImage, tt.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}

	envs, err := ob.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestToolbox_PinNote(t *testing.T) {
	t.Parallel()
	tb, ob := newTestToolbox(t)
	ctx := context.Background()

	res, err := tb.handlePinNote(ctx, callReq(ToolPinNote, map[string]any{"text": "  prefers metric units "}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = tb.handlePinNote(ctx, callReq(ToolPinNote, map[string]any{"text": "   "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	envs, err := ob.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, outbox.KindPin, envs[0].Kind)
	assert.Equal(t, "prefers metric units", envs[0].Text)
}

func TestToolbox_ServerListsTools(t *testing.T) {
	t.Parallel()
	tb, _ := newTestToolbox(t)

	msg := tb.Server().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	assert.Contains(t, string(raw), `"name":"send_image"`)
	assert.Contains(t, string(raw), `"name":"pin_note"`)
}
