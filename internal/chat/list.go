package chat

import (
	"athena/internal/models"
	"slices"
	"sync"
)

// ChatList holds the chat summaries, most recently active first.
type ChatList struct {
	summaries []models.ChatSummary
	mux       sync.RWMutex
}

func NewChatList() *ChatList {
	return &ChatList{}
}

// Load replaces the list. The backend already returns it in recency order.
func (l *ChatList) Load(summaries []models.ChatSummary) {
	l.mux.Lock()
	defer l.mux.Unlock()

	l.summaries = slices.Clone(summaries)
}

// Add inserts s at the head. An existing entry with the same id is removed.
func (l *ChatList) Add(s models.ChatSummary) {
	l.mux.Lock()
	defer l.mux.Unlock()

	if i := l.index(s.ID); i >= 0 {
		l.summaries = slices.Delete(l.summaries, i, i+1)
	}
	l.summaries = slices.Insert(l.summaries, 0, s)
}

func (l *ChatList) Get(chatID int64) (models.ChatSummary, bool) {
	l.mux.RLock()
	defer l.mux.RUnlock()

	i := l.index(chatID)
	if i < 0 {
		return models.ChatSummary{}, false
	}
	return l.summaries[i], true
}

// Update applies fn to the summary of chatID in place. It returns false when
// the chat is unknown.
func (l *ChatList) Update(chatID int64, fn func(*models.ChatSummary)) bool {
	l.mux.Lock()
	defer l.mux.Unlock()

	i := l.index(chatID)
	if i < 0 {
		return false
	}
	fn(&l.summaries[i])
	return true
}

// MoveToFront moves chatID to the head, keeping the relative order of the
// others.
func (l *ChatList) MoveToFront(chatID int64) bool {
	l.mux.Lock()
	defer l.mux.Unlock()

	i := l.index(chatID)
	if i < 0 {
		return false
	}
	if i == 0 {
		return true
	}
	s := l.summaries[i]
	copy(l.summaries[1:i+1], l.summaries[:i])
	l.summaries[0] = s
	return true
}

func (l *ChatList) Remove(chatID int64) bool {
	l.mux.Lock()
	defer l.mux.Unlock()

	i := l.index(chatID)
	if i < 0 {
		return false
	}
	l.summaries = slices.Delete(l.summaries, i, i+1)
	return true
}

// Summaries returns a copy of the list in display order.
func (l *ChatList) Summaries() []models.ChatSummary {
	l.mux.RLock()
	defer l.mux.RUnlock()
	return slices.Clone(l.summaries)
}

func (l *ChatList) Len() int {
	l.mux.RLock()
	defer l.mux.RUnlock()
	return len(l.summaries)
}

// index must be called with mux held.
func (l *ChatList) index(chatID int64) int {
	return slices.IndexFunc(l.summaries, func(s models.ChatSummary) bool {
		return s.ID == chatID
	})
}
