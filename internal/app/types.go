package app

// FinishReason is the terminal state reported for an exchange. An empty
// value means the request is still in flight.
type FinishReason string

const (
	FinishPending       FinishReason = ""
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	// FinishError marks an exchange whose request failed or was cancelled.
	// The user half is kept so typed input is never lost.
	FinishError FinishReason = "error"
)

// DetachedChatID is the sentinel ChatID for a saved exchange whose owning
// chat was deleted.
const DetachedChatID int64 = 0

type Chat struct {
	ID            int64  `json:"id"`
	Title         string `json:"title,omitempty"`
	SystemMessage string `json:"system_message,omitempty"`
	// UserMessageTemplate, when set, has the user's raw input substituted
	// for the {message} placeholder before sending and storing.
	UserMessageTemplate string `json:"user_message_template,omitempty"`
	// ContextThreshold is the fraction of the model window reserved for
	// history, clamped to [0, 0.95].
	ContextThreshold float64 `json:"context_threshold"`

	// Cumulative counters over completed exchanges. They only grow, and
	// only on successful responses; their ratio is the calibration factor.
	CharCount  int `json:"char_count"`
	TokenCount int `json:"token_count"`

	ConversationCount int   `json:"conversation_count"`
	UpdateTimestamp   int64 `json:"update_timestamp"`
}

// Exchange is one user-message/assistant-reply pair. Its ID is the unix
// millisecond timestamp of submission, which doubles as creation order.
type Exchange struct {
	ID               int64        `json:"id"`
	ChatID           int64        `json:"chat_id"`
	UserMessage      string       `json:"user_message"`
	AssistantMessage string       `json:"assistant_message"`
	FinishReason     FinishReason `json:"finish_reason"`
	// SaveTimestamp is 0 unless the user saved the exchange; a saved
	// exchange survives deletion of its chat.
	SaveTimestamp int64 `json:"save_timestamp"`
}

// Pending reports whether the exchange is still waiting on a response.
func (e Exchange) Pending() bool {
	return e.FinishReason == FinishPending
}

// Saved reports whether the exchange is protected from deletion.
func (e Exchange) Saved() bool {
	return e.SaveTimestamp != 0
}

// ContextTag is derived per exchange on every recomputation and never
// persisted.
type ContextTag int

const (
	// TagDefault marks an exchange excluded from the next request.
	TagDefault ContextTag = iota
	// TagContext marks an exchange that fits the context budget.
	TagContext
	// TagRequesting marks the exchange whose response is in flight.
	TagRequesting
)

func (t ContextTag) String() string {
	switch t {
	case TagContext:
		return "context"
	case TagRequesting:
		return "requesting"
	default:
		return "default"
	}
}

// TaggedExchange is the read-only view handed to the UI.
type TaggedExchange struct {
	Exchange
	Tag ContextTag
}

// Usage is the process-wide monotonic ledger of completed requests.
type Usage struct {
	TokenCount    int `json:"token_count"`
	ExchangeCount int `json:"exchange_count"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged turn of an outbound completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
