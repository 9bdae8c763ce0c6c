package app

// Token cost is estimated from character counts, calibrated against the
// token usage the API actually reports. This is not a tokenizer; the ratio
// varies by language and content (code vs prose), so instead of a fixed
// constant each chat carries a running char/token tally and the estimate is
// the cumulative average over its whole history. A single short exchange
// barely moves it.

const (
	// perMessageOverhead models protocol framing cost (role tags,
	// separators) in chars, charged once per message.
	perMessageOverhead = 8

	// defaultTokensPerChar is the cold-start ratio before any response has
	// been observed, roughly 4 chars per token for English-ish text.
	defaultTokensPerChar = 0.25
)

// Calibration returns the chat's estimated tokens-per-char ratio.
func Calibration(chat *Chat) float64 {
	if chat.CharCount == 0 {
		return defaultTokensPerChar
	}
	return float64(chat.TokenCount) / float64(chat.CharCount)
}

// Recalibrate pairs the character volume of a completed request with the
// token count the API reported for it. The deltas are added to the chat's
// running counters by the caller.
func Recalibrate(sent []Message, responseText string, totalTokens int) (charDelta, tokenDelta int) {
	chars := 0
	for _, m := range sent {
		chars += len(m.Content) + perMessageOverhead
	}
	chars += len(responseText) + perMessageOverhead
	return chars, totalTokens
}
