package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// saveAttachments downloads each attachment into the inbox and returns
// one "[Attachment: path]" line per stored file. Failures are reported
// inline so the backend knows something was sent.
func (a *Agent) saveAttachments(ctx context.Context, atts []core.Attachment) []string {
	if len(atts) == 0 {
		return nil
	}
	logger := log.FromCtx(ctx)

	if err := os.MkdirAll(a.opts.InboxDir, 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create inbox")
		return []string{"[Attachment could not be stored]"}
	}

	refs := make([]string, 0, len(atts))
	for _, att := range atts {
		data, err := a.messenger.GetFile(ctx, att.Ref)
		if err != nil {
			logger.Warn().Err(err).Str("name", att.Name).Msg("failed to download attachment")
			refs = append(refs, fmt.Sprintf("[Attachment %s could not be downloaded]", displayName(att)))
			continue
		}

		path := filepath.Join(a.opts.InboxDir, a.inboxName(att))
		if _, err := os.Stat(path); err == nil {
			// same name within the same second, e.g. an album of photos
			dir, base := filepath.Split(path)
			path = filepath.Join(dir, uuid.NewString()[:8]+"-"+base)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to store attachment")
			refs = append(refs, fmt.Sprintf("[Attachment %s could not be stored]", displayName(att)))
			continue
		}
		logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("attachment stored")
		refs = append(refs, fmt.Sprintf("[Attachment: %s]", path))
	}
	return refs
}

func (a *Agent) inboxName(att core.Attachment) string {
	name := unsafeName.ReplaceAllString(filepath.Base(att.Name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = uuid.NewString()[:8] + extForMIME(att.MIME)
	}
	return a.opts.Clock.Now().Format("20060102-150405") + "-" + name
}

func displayName(att core.Attachment) string {
	if att.Name != "" {
		return att.Name
	}
	return att.Ref
}

func extForMIME(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "audio/ogg":
		return ".ogg"
	case "application/pdf":
		return ".pdf"
	}
	return ""
}
