package app

// maxContextThreshold caps the history budget below the full window so
// there is always room left for the reply itself.
const maxContextThreshold = 0.95

// ClampThreshold bounds a context threshold to its valid range.
func ClampThreshold(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > maxContextThreshold {
		return maxContextThreshold
	}
	return t
}

// SelectContext tags each exchange as in or out of the next request's
// context. Exchanges arrive oldest to newest; the walk runs newest to
// oldest against a token budget, and once the budget is exceeded every
// older exchange is excluded too, so the in-context set is always a
// contiguous suffix of recent history. A pending exchange keeps its
// requesting tag no matter what the arithmetic says.
//
// This is a pure function of (chat, exchanges); it is recomputed after
// every mutation rather than patched incrementally, because a threshold
// change or a new exchange can retroactively evict older ones.
func SelectContext(chat *Chat, exchanges []Exchange, modelMaxTokens int) []TaggedExchange {
	ratio := Calibration(chat)
	budget := ClampThreshold(chat.ContextThreshold) * float64(modelMaxTokens)

	used := 0.0
	if chat.SystemMessage != "" {
		used += float64(len(chat.SystemMessage)+perMessageOverhead) * ratio
	}

	tagged := make([]TaggedExchange, len(exchanges))
	for i := len(exchanges) - 1; i >= 0; i-- {
		ex := exchanges[i]
		tagged[i] = TaggedExchange{Exchange: ex, Tag: TagDefault}

		if used > budget {
			// Already over: this exchange and everything older stay out,
			// even if one of them would individually be cheap.
			if ex.Pending() {
				tagged[i].Tag = TagRequesting
			}
			continue
		}

		cost := float64(len(ex.UserMessage)+len(ex.AssistantMessage)+2*perMessageOverhead) * ratio
		used += cost
		if ex.Pending() {
			tagged[i].Tag = TagRequesting
		} else if used <= budget {
			tagged[i].Tag = TagContext
		}
	}
	return tagged
}

// BuildRequestMessages assembles the outbound message list: the system
// message first, then for every in-context exchange in creation order a
// user turn and, unless it is the pending exchange itself, the assistant
// turn.
func BuildRequestMessages(chat *Chat, tagged []TaggedExchange) []Message {
	msgs := make([]Message, 0, 2*len(tagged)+1)
	if chat.SystemMessage != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: chat.SystemMessage})
	}
	for _, te := range tagged {
		switch te.Tag {
		case TagContext:
			msgs = append(msgs, Message{Role: RoleUser, Content: te.UserMessage})
			msgs = append(msgs, Message{Role: RoleAssistant, Content: te.AssistantMessage})
		case TagRequesting:
			msgs = append(msgs, Message{Role: RoleUser, Content: te.UserMessage})
		}
	}
	return msgs
}
