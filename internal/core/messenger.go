package core

import (
	"context"
	"time"
)

type Attachment struct {
	Ref  string
	Name string
	MIME string
	Size int64
}

type IncomingMessage struct {
	Text        string
	Attachments []Attachment
	ReceivedAt  time.Time
}

type MessageHandler func(ctx context.Context, msg IncomingMessage)

// Messenger is the chat transport. Send is responsible for chunking
// oversized text.
type Messenger interface {
	Listen(ctx context.Context, onMessage MessageHandler) error
	Send(ctx context.Context, text string) error
	SendImage(ctx context.Context, data []byte, caption string) error
	SetAvatar(ctx context.Context, data []byte) error
	GetFile(ctx context.Context, ref string) ([]byte, error)
}

// TypingNotifier is implemented by transports that can show activity.
type TypingNotifier interface {
	Typing(ctx context.Context) error
}
