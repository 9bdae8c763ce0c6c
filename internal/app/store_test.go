package app

import (
	"io"
	"testing"
)

func newTestStore(t *testing.T) (*Store, *FileStore) {
	t.Helper()
	logger := NewLogger(io.Discard)
	fs := NewFileStore(t.TempDir(), logger)
	t.Cleanup(fs.Close)
	store, err := NewStore(fs, logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, fs
}

func TestCreateChatClampsThreshold(t *testing.T) {
	store, _ := newTestStore(t)
	chat := store.CreateChat("test", "", 2.0)
	if chat.ContextThreshold != 0.95 {
		t.Fatalf("ContextThreshold = %v, want 0.95", chat.ContextThreshold)
	}
}

func TestUpdateExchangeMergesPatch(t *testing.T) {
	store, _ := newTestStore(t)
	chat := store.CreateChat("", "", 0.7)
	store.CreateExchange(Exchange{ID: 100, ChatID: chat.ID, UserMessage: "hi", FinishReason: FinishPending})

	content := "hello there"
	reason := FinishStop
	if !store.UpdateExchange(100, ExchangePatch{AssistantMessage: &content, FinishReason: &reason}) {
		t.Fatal("UpdateExchange reported not found")
	}

	ex, ok := store.GetExchange(100)
	if !ok {
		t.Fatal("exchange disappeared")
	}
	if ex.AssistantMessage != content || ex.FinishReason != FinishStop {
		t.Fatalf("patch not applied: %+v", ex)
	}
	if ex.UserMessage != "hi" {
		t.Fatalf("unpatched field changed: %q", ex.UserMessage)
	}

	if store.UpdateExchange(999, ExchangePatch{FinishReason: &reason}) {
		t.Fatal("update of missing exchange must be a no-op")
	}
}

func TestDeleteExchangeRespectsSaveProtection(t *testing.T) {
	store, _ := newTestStore(t)
	chat := store.CreateChat("", "", 0.7)
	store.CreateExchange(Exchange{ID: 100, ChatID: chat.ID, UserMessage: "unsaved", FinishReason: FinishStop})
	store.CreateExchange(Exchange{ID: 101, ChatID: chat.ID, UserMessage: "saved", FinishReason: FinishStop, SaveTimestamp: 5})

	store.DeleteExchange(100)
	if _, ok := store.GetExchange(100); ok {
		t.Fatal("unsaved exchange should be removed")
	}

	store.DeleteExchange(101)
	ex, ok := store.GetExchange(101)
	if !ok {
		t.Fatal("saved exchange must never be destroyed")
	}
	if ex.ChatID != DetachedChatID {
		t.Fatalf("saved exchange should be detached, ChatID = %d", ex.ChatID)
	}
}

func TestDeleteChatDetachesSavedAndRemovesUnsaved(t *testing.T) {
	store, _ := newTestStore(t)
	chat := store.CreateChat("doomed", "", 0.7)
	other := store.CreateChat("survivor", "", 0.7)
	store.CreateExchange(Exchange{ID: 100, ChatID: chat.ID, UserMessage: "unsaved", FinishReason: FinishStop})
	store.CreateExchange(Exchange{ID: 101, ChatID: chat.ID, UserMessage: "saved", FinishReason: FinishStop, SaveTimestamp: 7})
	store.CreateExchange(Exchange{ID: 102, ChatID: other.ID, UserMessage: "elsewhere", FinishReason: FinishStop})

	store.DeleteChat(chat.ID)

	if _, ok := store.GetChat(chat.ID); ok {
		t.Fatal("chat record should be gone")
	}
	if _, ok := store.GetExchange(100); ok {
		t.Fatal("unsaved exchange should be gone")
	}
	ex, ok := store.GetExchange(101)
	if !ok {
		t.Fatal("saved exchange should persist")
	}
	if ex.ChatID != DetachedChatID {
		t.Fatalf("saved exchange ChatID = %d, want detached sentinel", ex.ChatID)
	}
	if got := store.ListForChat(other.ID); len(got) != 1 {
		t.Fatalf("unrelated chat lost exchanges: %d", len(got))
	}
}

func TestDeleteAllForChatKeepsChatRecord(t *testing.T) {
	store, _ := newTestStore(t)
	chat := store.CreateChat("kept", "", 0.7)
	store.CreateExchange(Exchange{ID: 100, ChatID: chat.ID, FinishReason: FinishStop})
	store.CreateExchange(Exchange{ID: 101, ChatID: chat.ID, FinishReason: FinishStop, SaveTimestamp: 3})

	store.DeleteAllForChat(chat.ID)

	if _, ok := store.GetChat(chat.ID); !ok {
		t.Fatal("chat record should survive a history wipe")
	}
	if got := store.ListForChat(chat.ID); len(got) != 0 {
		t.Fatalf("chat still has %d exchanges", len(got))
	}
	ex, ok := store.GetExchange(101)
	if !ok || ex.ChatID != DetachedChatID {
		t.Fatalf("saved exchange should be detached, got %+v (ok=%v)", ex, ok)
	}
}

func TestListForChatOrdersByCreation(t *testing.T) {
	store, _ := newTestStore(t)
	chat := store.CreateChat("", "", 0.7)
	store.CreateExchange(Exchange{ID: 300, ChatID: chat.ID, FinishReason: FinishStop})
	store.CreateExchange(Exchange{ID: 100, ChatID: chat.ID, FinishReason: FinishStop})
	store.CreateExchange(Exchange{ID: 200, ChatID: chat.ID, FinishReason: FinishStop})

	got := store.ListForChat(chat.ID)
	if len(got) != 3 {
		t.Fatalf("got %d exchanges, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID <= got[i-1].ID {
			t.Fatalf("not in creation order: %d then %d", got[i-1].ID, got[i].ID)
		}
	}
}

func TestListChatsOrdersByActivity(t *testing.T) {
	store, _ := newTestStore(t)
	a := store.CreateChat("a", "", 0.7)
	b := store.CreateChat("b", "", 0.7)

	store.UpdateChat(a.ID, func(c *Chat) { c.UpdateTimestamp = b.UpdateTimestamp + 1000 })

	chats := store.ListChats()
	if len(chats) != 2 || chats[0].ID != a.ID {
		t.Fatalf("most recently active chat should come first: %+v", chats)
	}
}

func TestNewIDIsStrictlyIncreasing(t *testing.T) {
	store, _ := newTestStore(t)
	prev := int64(0)
	for i := 0; i < 100; i++ {
		id := store.NewID()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestStateRoundTripsThroughStorage(t *testing.T) {
	root := t.TempDir()
	logger := NewLogger(io.Discard)

	fs := NewFileStore(root, logger)
	store, err := NewStore(fs, logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	usage, err := NewUsageAccumulator(fs)
	if err != nil {
		t.Fatalf("NewUsageAccumulator: %v", err)
	}

	chat := store.CreateChat("persisted", "system prompt", 0.6)
	store.UpdateChat(chat.ID, func(c *Chat) {
		c.CharCount = 1234
		c.TokenCount = 321
		c.ConversationCount = 2
	})
	store.CreateExchange(Exchange{ID: 100, ChatID: chat.ID, UserMessage: "q1", AssistantMessage: "a1", FinishReason: FinishStop})
	store.CreateExchange(Exchange{ID: 101, ChatID: chat.ID, UserMessage: "q2", AssistantMessage: "a2", FinishReason: FinishLength, SaveTimestamp: 9})
	usage.Increment(321, 2)
	fs.Close() // flush

	fs2 := NewFileStore(root, logger)
	defer fs2.Close()
	store2, err := NewStore(fs2, logger)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	usage2, err := NewUsageAccumulator(fs2)
	if err != nil {
		t.Fatalf("reload usage: %v", err)
	}

	got, ok := store2.GetChat(chat.ID)
	if !ok {
		t.Fatal("chat lost in round trip")
	}
	if got.Title != "persisted" || got.SystemMessage != "system prompt" ||
		got.CharCount != 1234 || got.TokenCount != 321 || got.ConversationCount != 2 {
		t.Fatalf("chat fields lost: %+v", got)
	}

	exchanges := store2.ListForChat(chat.ID)
	if len(exchanges) != 2 {
		t.Fatalf("got %d exchanges after reload, want 2", len(exchanges))
	}
	if exchanges[0].ID != 100 || exchanges[1].ID != 101 {
		t.Fatalf("exchange order lost: %d, %d", exchanges[0].ID, exchanges[1].ID)
	}
	if exchanges[1].FinishReason != FinishLength || exchanges[1].SaveTimestamp != 9 {
		t.Fatalf("exchange fields lost: %+v", exchanges[1])
	}

	if u := usage2.Read(); u.TokenCount != 321 || u.ExchangeCount != 2 {
		t.Fatalf("usage lost: %+v", u)
	}
}

func TestReloadMarksOrphanedPendingFailed(t *testing.T) {
	root := t.TempDir()
	logger := NewLogger(io.Discard)

	// A pending exchange flushed mid-flight: the process dies before any
	// response reconciles it.
	fs := NewFileStore(root, logger)
	store, err := NewStore(fs, logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	chat := store.CreateChat("", "", 0.7)
	store.CreateExchange(Exchange{ID: 100, ChatID: chat.ID, UserMessage: "interrupted", FinishReason: FinishPending})
	fs.Close() // flush

	fs2 := NewFileStore(root, logger)
	defer fs2.Close()
	store2, err := NewStore(fs2, logger)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}

	ex, ok := store2.GetExchange(100)
	if !ok {
		t.Fatal("exchange lost in reload")
	}
	if ex.Pending() || ex.FinishReason != FinishError {
		t.Fatalf("orphaned pending exchange not marked failed: %+v", ex)
	}
	if ex.UserMessage != "interrupted" {
		t.Fatalf("user message lost: %+v", ex)
	}
}
