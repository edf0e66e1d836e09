package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/internal/service/outbox"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

const (
	ToolSendImage = "send_image"
	ToolPinNote   = "pin_note"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// Toolbox exposes bridge side effects to the backend. Calls only write
// outbox envelopes; the bridge delivers them after the turn.
type Toolbox struct {
	outbox *outbox.Outbox
}

func NewToolbox(ob *outbox.Outbox) *Toolbox {
	return &Toolbox{outbox: ob}
}

func (t *Toolbox) Server() *server.MCPServer {
	s := server.NewMCPServer(
		core.BridgeName,
		core.BridgeVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool(ToolSendImage,
		mcp.WithDescription("Send an image file from the local disk to the user's chat. Use it for charts, screenshots or generated pictures."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path to a png, jpg, gif or webp file, at most 10MB")),
		mcp.WithString("caption", mcp.Description("Optional caption shown under the image")),
	), t.handleSendImage)

	s.AddTool(mcp.NewTool(ToolPinNote,
		mcp.WithDescription("Pin a short note into long-term context. Pinned notes survive compaction and appear in every future prompt."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The note to remember")),
	), t.handlePinNote)

	return s
}

// Serve speaks MCP over the given stdio pair until ctx is done or in
// reaches EOF.
func (t *Toolbox) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	log.FromCtx(ctx).Info().Str("outbox", t.outbox.Dir()).Msg("toolbox serving on stdio")
	return server.NewStdioServer(t.Server()).Listen(ctx, in, out)
}

func (t *Toolbox) handleSendImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	caption := req.GetString("caption", "")

	if !filepath.IsAbs(path) {
		return mcp.NewToolResultError("path must be absolute"), nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !imageExts[ext] {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported image type %q", ext)), nil
	}

	if _, err := t.outbox.Put(outbox.Envelope{Kind: outbox.KindImage, Path: path, Caption: caption}); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("path", path).Msg("send_image rejected")
		if errors.Is(err, outbox.ErrTooLarge) {
			return mcp.NewToolResultError("image is larger than 10MB"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Image queued. It will be sent after your reply."), nil
}

func (t *Toolbox) handlePinNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if _, err := t.outbox.Put(outbox.Envelope{Kind: outbox.KindPin, Text: text}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Note will be pinned after this turn."), nil
}
