package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TemplatePlaceholder is the token in a chat's user-message template that
// gets replaced with the raw input.
const TemplatePlaceholder = "{message}"

type EventKind int

const (
	// EventResolved signals that a chat's pending exchange was populated.
	EventResolved EventKind = iota
	// EventFailed signals a transport failure; Notice carries the one-shot
	// notification text. Cancellations never produce an event.
	EventFailed
)

type Event struct {
	Kind       EventKind
	ChatID     int64
	ExchangeID int64
	Notice     string
}

// flight is one in-progress request lifecycle for a chat. Starting a new
// flight for the same chat cancels and replaces the old one; the old
// response, should it still arrive, finds its flight gone and mutates
// nothing.
type flight struct {
	id         string
	chatID     int64
	exchangeID int64
	ctx        context.Context
	cancel     context.CancelFunc
}

// Coordinator drives the request state machine: it assembles outbound
// message lists from in-context exchanges, issues completion calls, and
// reconciles success, failure and cancellation back into the store and
// the usage ledger. At most one flight exists per chat.
//
// All completion errors are absorbed here; the UI only observes state
// transitions plus an optional failure notice on the event channel.
type Coordinator struct {
	store          *Store
	usage          *UsageAccumulator
	client         CompletionClient
	logger         *Logger
	model          string
	modelMaxTokens int

	mu             sync.Mutex
	flights        map[int64]*flight
	templateWarned map[int64]bool
	events         chan Event
}

func NewCoordinator(store *Store, usage *UsageAccumulator, client CompletionClient, logger *Logger, model string, modelMaxTokens int) *Coordinator {
	return &Coordinator{
		store:          store,
		usage:          usage,
		client:         client,
		logger:         logger,
		model:          model,
		modelMaxTokens: modelMaxTokens,
		flights:        make(map[int64]*flight),
		templateWarned: make(map[int64]bool),
		events:         make(chan Event, 16),
	}
}

// Events exposes resolution notifications for the UI.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Submit formats the input, persists a pending exchange, and issues the
// completion call asynchronously. Any outstanding flight for the chat is
// cancelled first. Returns the new exchange's ID.
func (c *Coordinator) Submit(chatID int64, rawInput string) (int64, error) {
	rawInput = strings.TrimSpace(rawInput)
	if rawInput == "" {
		return 0, errors.New("empty input")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	chat, ok := c.store.GetChat(chatID)
	if !ok {
		return 0, fmt.Errorf("chat %d not found", chatID)
	}

	// A new submission supersedes the previous one; cancel before any new
	// state exists so there is a single live mutation path per chat.
	c.cancelLocked(chatID)

	input := c.formatUserMessageLocked(&chat, rawInput)
	id := c.store.NewID()
	c.store.CreateExchange(Exchange{
		ID:           id,
		ChatID:       chatID,
		UserMessage:  input,
		FinishReason: FinishPending,
	})
	c.store.UpdateChat(chatID, func(ch *Chat) {
		ch.UpdateTimestamp = id
	})

	tagged := SelectContext(&chat, c.store.ListForChat(chatID), c.modelMaxTokens)
	messages := BuildRequestMessages(&chat, tagged)

	ctx, cancel := context.WithCancel(context.Background())
	f := &flight{
		id:         uuid.NewString(),
		chatID:     chatID,
		exchangeID: id,
		ctx:        ctx,
		cancel:     cancel,
	}
	c.flights[chatID] = f
	go c.run(f, messages)
	return id, nil
}

func (c *Coordinator) run(f *flight, messages []Message) {
	comp, err := c.client.Complete(f.ctx, c.model, messages)

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.flights[f.chatID]
	if cur == nil || cur.id != f.id {
		// Superseded or cancelled while in flight; the pending exchange
		// was already reverted at cancellation time. Drop the response.
		return
	}
	delete(c.flights, f.chatID)

	// Cancellation is checked at arrival, not just at issuance.
	if f.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		c.revertLocked(f.exchangeID)
		c.logger.Info("request cancelled", map[string]interface{}{"chat": f.chatID})
		return
	}
	if err != nil {
		c.revertLocked(f.exchangeID)
		c.logger.Error("request failed", map[string]interface{}{
			"chat": f.chatID, "error": err.Error(),
		})
		c.emit(Event{
			Kind:       EventFailed,
			ChatID:     f.chatID,
			ExchangeID: f.exchangeID,
			Notice:     "request failed: " + err.Error(),
		})
		return
	}

	charDelta, tokenDelta := Recalibrate(messages, comp.Content, comp.TotalTokens)
	c.store.UpdateChat(f.chatID, func(ch *Chat) {
		ch.CharCount += charDelta
		ch.TokenCount += tokenDelta
		ch.ConversationCount++
	})
	c.usage.Increment(tokenDelta, 1)

	reason := comp.FinishReason
	if reason == FinishPending {
		reason = FinishStop
	}
	c.store.UpdateExchange(f.exchangeID, ExchangePatch{
		AssistantMessage: &comp.Content,
		FinishReason:     &reason,
	})
	c.emit(Event{Kind: EventResolved, ChatID: f.chatID, ExchangeID: f.exchangeID})
}

// Cancel aborts the chat's in-flight request, if any. Silent: the user
// half of the pending exchange is retained, no notification is emitted.
func (c *Coordinator) Cancel(chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(chatID)
}

func (c *Coordinator) cancelLocked(chatID int64) {
	f := c.flights[chatID]
	if f == nil {
		return
	}
	f.cancel()
	delete(c.flights, chatID)
	c.revertLocked(f.exchangeID)
}

// revertLocked turns a pending exchange into a terminal failed one. The
// user message stays; the explicit error reason keeps persisted state
// distinguishable from "still pending".
func (c *Coordinator) revertLocked(exchangeID int64) {
	reason := FinishError
	c.store.UpdateExchange(exchangeID, ExchangePatch{FinishReason: &reason})
}

// emit delivers the event without blocking the reconciliation path.
// When the buffer is full the oldest queued event is evicted, never
// the incoming one, so a failure notice survives backpressure.
func (c *Coordinator) emit(ev Event) {
	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		select {
		case old := <-c.events:
			c.logger.Warn("event evicted", map[string]interface{}{
				"chat": old.ChatID, "exchange": old.ExchangeID,
			})
		default:
		}
	}
}

func (c *Coordinator) formatUserMessageLocked(chat *Chat, raw string) string {
	tmpl := chat.UserMessageTemplate
	if tmpl == "" {
		return raw
	}
	if !strings.Contains(tmpl, TemplatePlaceholder) {
		// Configuration error: send the input unchanged, warn once per chat.
		if !c.templateWarned[chat.ID] {
			c.templateWarned[chat.ID] = true
			c.logger.Warn("user message template lacks placeholder", map[string]interface{}{
				"chat": chat.ID, "placeholder": TemplatePlaceholder,
			})
		}
		return raw
	}
	return strings.ReplaceAll(tmpl, TemplatePlaceholder, raw)
}

// GetTaggedExchanges recomputes context tags for the chat's history.
func (c *Coordinator) GetTaggedExchanges(chatID int64) []TaggedExchange {
	chat, ok := c.store.GetChat(chatID)
	if !ok {
		return nil
	}
	return SelectContext(&chat, c.store.ListForChat(chatID), c.modelMaxTokens)
}

// GetUsage returns the process-wide usage counters.
func (c *Coordinator) GetUsage() Usage {
	return c.usage.Read()
}

// DeleteExchange removes (or detaches, when saved) an exchange. Deleting
// the exchange a flight is waiting on cancels that flight first.
func (c *Coordinator) DeleteExchange(id int64) {
	ex, ok := c.store.GetExchange(id)
	if !ok {
		return
	}
	c.mu.Lock()
	if f := c.flights[ex.ChatID]; f != nil && f.exchangeID == id {
		f.cancel()
		delete(c.flights, ex.ChatID)
		// A saved exchange survives deletion as a detached record, so
		// it must leave the pending state before the store detaches it.
		c.revertLocked(id)
	}
	c.mu.Unlock()
	c.store.DeleteExchange(id)
}

// ToggleSave flips the exchange's saved state.
func (c *Coordinator) ToggleSave(id int64) {
	ex, ok := c.store.GetExchange(id)
	if !ok {
		return
	}
	ts := int64(0)
	if !ex.Saved() {
		ts = time.Now().UnixMilli()
	}
	c.store.UpdateExchange(id, ExchangePatch{SaveTimestamp: &ts})
}

// DeleteChat cancels any outstanding flight, then removes the chat with
// the save-protection policy applied to its exchanges.
func (c *Coordinator) DeleteChat(chatID int64) {
	c.Cancel(chatID)
	c.store.DeleteChat(chatID)
}

// Close cancels every outstanding flight.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for chatID := range c.flights {
		c.cancelLocked(chatID)
	}
}
