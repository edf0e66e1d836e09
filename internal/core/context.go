package core

// MessagePair is one completed exchange.
type MessagePair struct {
	ID            int64  `json:"id"`
	UserText      string `json:"userText"`
	AssistantText string `json:"assistantText"`
	Timestamp     int64  `json:"timestamp"`
	Pinned        bool   `json:"pinned,omitempty"`
}

// PinnedItem is a free-text note that survives compaction.
type PinnedItem struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ContextState is the persisted counter block. NextID is shared by
// pairs and pins.
type ContextState struct {
	NextID     int64        `json:"nextId"`
	TotalPairs int64        `json:"totalPairs"`
	Pins       []PinnedItem `json:"pins"`
}
