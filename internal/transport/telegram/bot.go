package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

const baseContextKey = "base_context"

// maxDownloadSize is the Bot API getFile ceiling.
const maxDownloadSize = 20 << 20

// Bot is the Telegram messenger. It talks to exactly one chat, the
// owner's private chat.
type Bot struct {
	bot     *tele.Bot
	sender  *sender
	ownerID int64
}

func NewBot(cfg *config.TelegramConfig) (*Bot, error) {
	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		// keep updates in arrival order
		Synchronous: true,
	}

	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Bot{
		bot:     b,
		sender:  newSender(b),
		ownerID: cfg.OwnerID,
	}, nil
}

func (b *Bot) owner() tele.Recipient {
	return tele.ChatID(b.ownerID)
}

// Listen polls for updates until ctx is done.
func (b *Bot) Listen(ctx context.Context, onMessage core.MessageHandler) error {
	logger := log.FromCtx(ctx)

	// Use context from Signal with logger
	b.bot.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			c.Set(baseContextKey, ctx)
			return next(c)
		}
	})

	// Middleware: Only allow the owner
	b.bot.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Sender() == nil || c.Sender().ID != b.ownerID {
				return nil // Ignore unauthorized users
			}
			return next(c)
		}
	})

	handle := func(c tele.Context) error {
		hctx := c.Get(baseContextKey).(context.Context)
		if msg, ok := toIncoming(c.Message()); ok {
			onMessage(hctx, msg)
		}
		return nil
	}
	for _, ev := range []string{tele.OnText, tele.OnPhoto, tele.OnDocument, tele.OnVoice, tele.OnAudio, tele.OnVideo} {
		b.bot.Handle(ev, handle)
	}

	logger.Info().Int64("owner", b.ownerID).Msg("starting telegram bot")
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.bot.Start()
	}()

	<-ctx.Done()
	b.bot.Stop()
	<-done
	logger.Info().Msg("telegram bot stopped")
	return nil
}

func (b *Bot) Send(ctx context.Context, text string) error {
	return b.sender.sendMarkdown(ctx, b.owner(), text, false)
}

func (b *Bot) SendImage(ctx context.Context, data []byte, caption string) error {
	photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(data)), Caption: caption}
	if _, err := b.bot.Send(b.owner(), photo); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

// SetAvatar is not available to bots through the Bot API.
func (b *Bot) SetAvatar(context.Context, []byte) error {
	return core.ErrUnsupported
}

func (b *Bot) GetFile(ctx context.Context, ref string) ([]byte, error) {
	rc, err := b.bot.File(&tele.File{FileID: ref})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ref, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("file %s exceeds 20MB", ref)
	}
	return data, nil
}

func (b *Bot) Typing(context.Context) error {
	return b.bot.Notify(b.owner(), tele.Typing)
}

// toIncoming maps text and media messages. Media captions become the
// message text.
func toIncoming(m *tele.Message) (core.IncomingMessage, bool) {
	if m == nil {
		return core.IncomingMessage{}, false
	}
	msg := core.IncomingMessage{Text: m.Text, ReceivedAt: m.Time()}
	if msg.Text == "" {
		msg.Text = m.Caption
	}

	switch {
	case m.Photo != nil:
		msg.Attachments = append(msg.Attachments, core.Attachment{
			Ref: m.Photo.FileID, Name: "photo.jpg", MIME: "image/jpeg", Size: m.Photo.FileSize,
		})
	case m.Document != nil:
		msg.Attachments = append(msg.Attachments, core.Attachment{
			Ref: m.Document.FileID, Name: m.Document.FileName, MIME: m.Document.MIME, Size: m.Document.FileSize,
		})
	case m.Voice != nil:
		msg.Attachments = append(msg.Attachments, core.Attachment{
			Ref: m.Voice.FileID, Name: "voice.ogg", MIME: m.Voice.MIME, Size: m.Voice.FileSize,
		})
	case m.Audio != nil:
		msg.Attachments = append(msg.Attachments, core.Attachment{
			Ref: m.Audio.FileID, Name: m.Audio.FileName, MIME: m.Audio.MIME, Size: m.Audio.FileSize,
		})
	case m.Video != nil:
		msg.Attachments = append(msg.Attachments, core.Attachment{
			Ref: m.Video.FileID, Name: m.Video.FileName, MIME: m.Video.MIME, Size: m.Video.FileSize,
		})
	}

	if msg.Text == "" && len(msg.Attachments) == 0 {
		return core.IncomingMessage{}, false
	}
	return msg, true
}
