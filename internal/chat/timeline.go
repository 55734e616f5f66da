package chat

import (
	"athena/internal/models"
	"sync"
)

// Timeline is the ordered message list of one chat. Order is the order in
// which the server delivered the messages; it is never re-sorted.
type Timeline struct {
	ChatID int64

	messages []models.Message
	ids      map[int64]struct{}

	mux sync.RWMutex
}

func NewTimeline(chatID int64) *Timeline {
	return &Timeline{
		ChatID: chatID,
		ids:    make(map[int64]struct{}),
	}
}

// Append adds msg at the end. It returns false when a message with the same
// id is already present.
func (t *Timeline) Append(msg models.Message) bool {
	t.mux.Lock()
	defer t.mux.Unlock()

	if _, ok := t.ids[msg.ID]; ok {
		return false
	}
	t.ids[msg.ID] = struct{}{}
	t.messages = append(t.messages, msg)
	return true
}

// Prepend puts an older page in front of the current list, keeping the
// page's own order. Messages already present are skipped. It returns the
// number of messages added.
func (t *Timeline) Prepend(page []models.Message) int {
	t.mux.Lock()
	defer t.mux.Unlock()

	fresh := make([]models.Message, 0, len(page))
	for _, msg := range page {
		if _, ok := t.ids[msg.ID]; ok {
			continue
		}
		t.ids[msg.ID] = struct{}{}
		fresh = append(fresh, msg)
	}
	if len(fresh) == 0 {
		return 0
	}

	merged := make([]models.Message, 0, len(fresh)+len(t.messages))
	merged = append(merged, fresh...)
	merged = append(merged, t.messages...)
	t.messages = merged
	return len(fresh)
}

// Replace drops the current list and starts over from page.
func (t *Timeline) Replace(page []models.Message) {
	t.mux.Lock()
	defer t.mux.Unlock()

	t.messages = make([]models.Message, 0, len(page))
	t.ids = make(map[int64]struct{}, len(page))
	for _, msg := range page {
		if _, ok := t.ids[msg.ID]; ok {
			continue
		}
		t.ids[msg.ID] = struct{}{}
		t.messages = append(t.messages, msg)
	}
}

// Messages returns a copy of the list.
func (t *Timeline) Messages() []models.Message {
	t.mux.RLock()
	defer t.mux.RUnlock()

	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Timeline) Contains(id int64) bool {
	t.mux.RLock()
	defer t.mux.RUnlock()

	_, ok := t.ids[id]
	return ok
}

func (t *Timeline) Len() int {
	t.mux.RLock()
	defer t.mux.RUnlock()
	return len(t.messages)
}

// Last returns the newest message.
func (t *Timeline) Last() (models.Message, bool) {
	t.mux.RLock()
	defer t.mux.RUnlock()

	if len(t.messages) == 0 {
		return models.Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}
