package core

import "context"

// AIProvider is a single-shot chat completion.
type AIProvider interface {
	Chat(ctx context.Context, history []Message) (Message, error)
}
