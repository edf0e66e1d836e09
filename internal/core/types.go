package core

import "errors"

const (
	BridgeName          = "TuskBridge"
	BridgeUserAgent     = "TuskBridge/0.1"
	BridgeRepositoryURL = "https://github.com/sandevgo/tuskbridge"
	BridgeVersion       = "0.1.0"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUnsupported is returned by transports for capabilities they lack,
// for example SetAvatar on Telegram.
var ErrUnsupported = errors.New("operation not supported by transport")

// Message is one chat message for HTTP chat providers.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
