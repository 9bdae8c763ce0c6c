package app

import (
	"sort"
	"sync"
	"time"
)

// ExchangePatch carries the fields of a partial exchange update. Nil
// fields are left untouched.
type ExchangePatch struct {
	ChatID           *int64
	AssistantMessage *string
	FinishReason     *FinishReason
	SaveTimestamp    *int64
}

// Store owns the canonical chat and exchange records. All mutations go
// through it; callers only ever see copies. The in-memory state is
// authoritative and every mutation is mirrored to the FileStore as a
// write-behind snapshot of the whole collection.
type Store struct {
	mu        sync.Mutex
	chats     []Chat
	exchanges []Exchange
	fs        *FileStore
	logger    *Logger
	lastID    int64
}

func NewStore(fs *FileStore, logger *Logger) (*Store, error) {
	s := &Store{fs: fs, logger: logger}
	if _, err := fs.Load(collectionChats, &s.chats); err != nil {
		return nil, err
	}
	if _, err := fs.Load(collectionConversation, &s.exchanges); err != nil {
		return nil, err
	}
	sort.Slice(s.chats, func(i, j int) bool { return s.chats[i].ID < s.chats[j].ID })
	sort.Slice(s.exchanges, func(i, j int) bool { return s.exchanges[i].ID < s.exchanges[j].ID })
	stale := false
	for i := range s.exchanges {
		if s.exchanges[i].ID > s.lastID {
			s.lastID = s.exchanges[i].ID
		}
		// A pending record on disk belonged to a flight that did not
		// survive the previous process. Nothing will ever resolve it,
		// so it lands as a terminal failure.
		if s.exchanges[i].FinishReason == FinishPending {
			s.exchanges[i].FinishReason = FinishError
			stale = true
		}
	}
	if stale {
		logger.Warn("marked stale pending exchanges failed", nil)
		s.persistExchangesLocked()
	}
	return s, nil
}

// NewID returns a fresh creation-timestamp identifier, bumped past the
// last issued one so two submissions in the same millisecond stay
// distinct and sortable.
func (s *Store) NewID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newIDLocked()
}

func (s *Store) newIDLocked() int64 {
	id := time.Now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

func (s *Store) persistChatsLocked() {
	snapshot := make([]Chat, len(s.chats))
	copy(snapshot, s.chats)
	s.fs.Put(collectionChats, snapshot)
}

func (s *Store) persistExchangesLocked() {
	snapshot := make([]Exchange, len(s.exchanges))
	copy(snapshot, s.exchanges)
	s.fs.Put(collectionConversation, snapshot)
}

// CreateChat registers a new chat and returns a copy of it.
func (s *Store) CreateChat(title, systemMessage string, contextThreshold float64) Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newIDLocked()
	chat := Chat{
		ID:               id,
		Title:            title,
		SystemMessage:    systemMessage,
		ContextThreshold: ClampThreshold(contextThreshold),
		UpdateTimestamp:  id,
	}
	s.chats = append(s.chats, chat)
	s.persistChatsLocked()
	return chat
}

// GetChat returns a copy of the chat.
func (s *Store) GetChat(id int64) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chats {
		if s.chats[i].ID == id {
			return s.chats[i], true
		}
	}
	return Chat{}, false
}

// UpdateChat applies mutate to the chat record in place. No-op when the
// chat does not exist.
func (s *Store) UpdateChat(id int64, mutate func(*Chat)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chats {
		if s.chats[i].ID == id {
			mutate(&s.chats[i])
			s.chats[i].ContextThreshold = ClampThreshold(s.chats[i].ContextThreshold)
			s.persistChatsLocked()
			return true
		}
	}
	return false
}

// ListChats returns chats ordered most recently active first.
func (s *Store) ListChats() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chat, len(s.chats))
	copy(out, s.chats)
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdateTimestamp == out[j].UpdateTimestamp {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdateTimestamp > out[j].UpdateTimestamp
	})
	return out
}

// DeleteChat removes a chat and applies the save-protection policy to its
// exchanges: unsaved ones are removed, saved ones are detached and kept.
func (s *Store) DeleteChat(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chats[:0]
	for _, c := range s.chats {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.chats = kept
	s.deleteAllForChatLocked(id)
	s.persistChatsLocked()
	s.persistExchangesLocked()
}

// CreateExchange appends an exchange to its chat's history.
func (s *Store) CreateExchange(ex Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ex.ID > s.lastID {
		s.lastID = ex.ID
	}
	s.exchanges = append(s.exchanges, ex)
	sort.Slice(s.exchanges, func(i, j int) bool { return s.exchanges[i].ID < s.exchanges[j].ID })
	s.persistExchangesLocked()
}

// GetExchange returns a copy of the exchange.
func (s *Store) GetExchange(id int64) (Exchange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.exchanges {
		if s.exchanges[i].ID == id {
			return s.exchanges[i], true
		}
	}
	return Exchange{}, false
}

// UpdateExchange merges the patch into the matching record. No-op when
// not found.
func (s *Store) UpdateExchange(id int64, patch ExchangePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.exchanges {
		if s.exchanges[i].ID != id {
			continue
		}
		if patch.ChatID != nil {
			s.exchanges[i].ChatID = *patch.ChatID
		}
		if patch.AssistantMessage != nil {
			s.exchanges[i].AssistantMessage = *patch.AssistantMessage
		}
		if patch.FinishReason != nil {
			s.exchanges[i].FinishReason = *patch.FinishReason
		}
		if patch.SaveTimestamp != nil {
			s.exchanges[i].SaveTimestamp = *patch.SaveTimestamp
		}
		s.persistExchangesLocked()
		return true
	}
	return false
}

// DeleteExchange removes an unsaved exchange. Deleting a saved exchange
// is never destructive; it is detached instead.
func (s *Store) DeleteExchange(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.exchanges {
		if s.exchanges[i].ID != id {
			continue
		}
		if s.exchanges[i].Saved() {
			s.exchanges[i].ChatID = DetachedChatID
		} else {
			s.exchanges = append(s.exchanges[:i], s.exchanges[i+1:]...)
		}
		s.persistExchangesLocked()
		return true
	}
	return false
}

// DeleteAllForChat applies the chat-deletion policy to the chat's
// exchanges without touching the chat record.
func (s *Store) DeleteAllForChat(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteAllForChatLocked(chatID)
	s.persistExchangesLocked()
}

func (s *Store) deleteAllForChatLocked(chatID int64) {
	kept := s.exchanges[:0]
	for _, ex := range s.exchanges {
		if ex.ChatID != chatID {
			kept = append(kept, ex)
			continue
		}
		if ex.Saved() {
			ex.ChatID = DetachedChatID
			kept = append(kept, ex)
		}
	}
	s.exchanges = kept
}

// ListForChat returns the chat's exchanges in creation order.
func (s *Store) ListForChat(chatID int64) []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Exchange, 0, len(s.exchanges))
	for _, ex := range s.exchanges {
		if ex.ChatID == chatID {
			out = append(out, ex)
		}
	}
	return out
}
