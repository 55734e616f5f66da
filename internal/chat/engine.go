// Package chat merges live message and notification events into the local
// chat state.
package chat

import (
	"athena/internal/content"
	"athena/internal/models"
	"context"
	"log/slog"
	"sync"
)

const (
	// DefaultPreview is shown for chats without any message yet.
	DefaultPreview = "Clique para ver mensagens"
	// NewChatPreview is shown for a chat created in this session.
	NewChatPreview = "Nova conversa"
)

type Permission int

const (
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	}
	return "default"
}

// Notifier surfaces desktop notifications.
type Notifier interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Notify(ctx context.Context, title, body string) error
}

type Sound interface {
	Play() error
}

// Visibility reports whether the message panel is currently on screen.
type Visibility interface {
	Visible() bool
}

type Config struct {
	UserID     int64
	Notifier   Notifier
	Sound      Sound
	Visibility Visibility
	Logger     *slog.Logger
}

// Alert is a notification raised by an event. It is surfaced with
// Engine.Deliver.
type Alert struct {
	Title string
	Body  string
}

// Result describes what applying one event did.
type Result struct {
	Applied bool
	// Alert is set when the event should be surfaced to the user.
	Alert *Alert
}

// Engine owns the chat list and the per chat timelines.
type Engine struct {
	self       int64
	chats      *ChatList
	timelines  map[int64]*Timeline
	active     int64
	notifier   Notifier
	sound      Sound
	visibility Visibility
	log        *slog.Logger

	mux sync.Mutex
}

func NewEngine(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		self:       cfg.UserID,
		chats:      NewChatList(),
		timelines:  make(map[int64]*Timeline),
		notifier:   cfg.Notifier,
		sound:      cfg.Sound,
		visibility: cfg.Visibility,
		log:        log.With("component", "merge"),
	}
}

// LoadChats replaces the chat list with summaries fetched from the backend.
func (e *Engine) LoadChats(summaries []models.ChatSummary) {
	e.mux.Lock()
	active := e.active
	e.mux.Unlock()

	loaded := make([]models.ChatSummary, len(summaries))
	for i, s := range summaries {
		s.LastContent = content.Preview(s.LastContent)
		if s.LastContent == "" {
			s.LastContent = DefaultPreview
		}
		if s.ID == active {
			s.Unread = 0
		}
		loaded[i] = s
	}
	e.chats.Load(loaded)
}

func (e *Engine) Chats() []models.ChatSummary {
	return e.chats.Summaries()
}

func (e *Engine) Chat(chatID int64) (models.ChatSummary, bool) {
	return e.chats.Get(chatID)
}

// AddChat puts a newly created chat at the head of the list.
func (e *Engine) AddChat(s models.ChatSummary) {
	if s.LastContent == "" {
		s.LastContent = NewChatPreview
	}
	s.Unread = 0
	e.chats.Add(s)
}

// RemoveChat drops a chat and its timeline. The chat stops being active.
func (e *Engine) RemoveChat(chatID int64) {
	e.mux.Lock()
	delete(e.timelines, chatID)
	if e.active == chatID {
		e.active = 0
	}
	e.mux.Unlock()
	e.chats.Remove(chatID)
}

// RenameChat sets the name shown for chatID. It reports false for chats
// missing from the list.
func (e *Engine) RenameChat(chatID int64, name string) bool {
	return e.chats.Update(chatID, func(s *models.ChatSummary) {
		s.Name = name
	})
}

// Activate makes chatID the active chat and resets its unread count.
func (e *Engine) Activate(chatID int64) *Timeline {
	e.mux.Lock()
	e.active = chatID
	tl := e.timeline(chatID)
	e.mux.Unlock()

	e.chats.Update(chatID, func(s *models.ChatSummary) {
		s.Unread = 0
	})
	return tl
}

// Deactivate leaves the active chat. Its timeline is kept.
func (e *Engine) Deactivate() {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.active = 0
}

func (e *Engine) Active() (int64, bool) {
	e.mux.Lock()
	defer e.mux.Unlock()
	return e.active, e.active != 0
}

// Timeline returns the message list of chatID, creating an empty one.
func (e *Engine) Timeline(chatID int64) *Timeline {
	e.mux.Lock()
	defer e.mux.Unlock()
	return e.timeline(chatID)
}

// timeline must be called with mux held.
func (e *Engine) timeline(chatID int64) *Timeline {
	tl, ok := e.timelines[chatID]
	if !ok {
		tl = NewTimeline(chatID)
		e.timelines[chatID] = tl
	}
	return tl
}

// ApplyChatMessage merges a message received on a chat topic:
// - duplicates (by id) are discarded
// - new messages are appended in arrival order
// - the chat summary takes the message as preview and moves to the head
func (e *Engine) ApplyChatMessage(msg models.Message) Result {
	e.mux.Lock()
	tl := e.timeline(msg.ChatID)
	active := e.active
	e.mux.Unlock()

	if !tl.Append(msg) {
		e.log.Debug("duplicate message discarded", "chat_id", msg.ChatID, "message_id", msg.ID)
		return Result{}
	}

	countUnread := msg.ChatID != active && msg.SenderID != e.self
	if !e.touch(msg.ChatID, messagePreview(msg), msg.SentAt, countUnread) {
		e.log.Debug("message for chat missing from list", "chat_id", msg.ChatID)
	}
	return Result{Applied: true}
}

// ApplyNotification merges activity reported on the user topic. Unknown
// chats are discarded. The result carries an Alert when the chat is not in
// front of the user; nothing is surfaced here.
func (e *Engine) ApplyNotification(n models.Notification) Result {
	summary, ok := e.chats.Get(n.ChatID)
	if !ok {
		e.log.Debug("notification for unknown chat discarded", "chat_id", n.ChatID)
		return Result{}
	}

	e.mux.Lock()
	active := e.active
	e.mux.Unlock()

	self := n.SenderID != 0 && n.SenderID == e.self
	preview := content.Preview(n.Summary)
	e.touch(n.ChatID, preview, n.SentAt, n.ChatID != active && !self)

	res := Result{Applied: true}
	if self {
		return res
	}
	if n.ChatID == active && e.visible() {
		return res
	}

	title := n.ChatName
	if title == "" {
		title = summary.DisplayName()
	}
	res.Alert = &Alert{Title: title, Body: preview}
	return res
}

// Deliver raises the desktop notification and plays the sound for a. It
// reports whether the desktop notification was shown. The notifier may
// block, so callers keep it off their event loop.
func (e *Engine) Deliver(ctx context.Context, a Alert) bool {
	notified := e.notify(ctx, a.Title, a.Body)
	e.playSound()
	return notified
}

func (e *Engine) touch(chatID int64, preview string, at models.Timestamp, countUnread bool) bool {
	ok := e.chats.Update(chatID, func(s *models.ChatSummary) {
		s.LastContent = preview
		if !at.IsZero() {
			s.LastMessageAt = at
		}
		if countUnread {
			s.Unread++
		}
	})
	if ok {
		e.chats.MoveToFront(chatID)
	}
	return ok
}

func (e *Engine) visible() bool {
	if e.visibility == nil {
		return true
	}
	return e.visibility.Visible()
}

func (e *Engine) notify(ctx context.Context, title, body string) bool {
	if e.notifier == nil || e.notifier.Permission() != PermissionGranted {
		return false
	}
	if err := e.notifier.Notify(ctx, title, body); err != nil {
		e.log.Warn("desktop notification failed", "error", err)
		return false
	}
	return true
}

func (e *Engine) playSound() {
	if e.sound == nil {
		return
	}
	if err := e.sound.Play(); err != nil {
		e.log.Warn("notification sound failed", "error", err)
	}
}

func messagePreview(msg models.Message) string {
	preview := content.Preview(msg.Content)
	if preview == "" && len(msg.Attachments) > 0 {
		preview = msg.Attachments[0].Name
	}
	return preview
}
