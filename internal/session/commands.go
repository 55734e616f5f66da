package session

import (
	"athena/internal/chat"
	"athena/internal/content"
	"athena/internal/models"
	"athena/internal/pagination"
	"athena/internal/storage"
	"athena/internal/ws"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	unknownUserName = "Usuário"
	// alertTimeout bounds one desktop notification, push included.
	alertTimeout = 10 * time.Second
)

// Start loads the chat list, asks for notification permission and
// connects to the broker.
func (s *Session) Start() {
	s.post(func(ctx context.Context) {
		s.loadChats(ctx)
		s.connect(ctx)
		if s.notifier != nil && s.notifier.Permission() == chat.PermissionDefault {
			s.async(ctx, func(ctx context.Context) func(context.Context) {
				p, err := s.notifier.RequestPermission(ctx)
				if err != nil {
					s.log.Warn("notification permission request failed", "error", err)
				}
				s.log.Debug("notification permission", "permission", p.String())
				return nil
			})
		}
	})
}

// Reload fetches the chat list again.
func (s *Session) Reload() {
	s.post(s.loadChats)
}

func (s *Session) loadChats(ctx context.Context) {
	s.async(ctx, func(ctx context.Context) func(context.Context) {
		chats, err := s.api.ListChats(ctx)
		return func(ctx context.Context) {
			if err != nil {
				s.loadCachedChats(ctx, err)
				return
			}
			s.engine.LoadChats(chats)
			s.saveChats()
			s.chatsChanged()
		}
	})
}

// loadCachedChats shows the last known chat list when the backend cannot
// be reached.
func (s *Session) loadCachedChats(ctx context.Context, cause error) {
	if errors.Is(cause, context.Canceled) || s.cache == nil {
		s.fail(ctx, cause)
		return
	}
	cached, err := s.cache.ListChats()
	if err != nil || len(cached) == 0 || isSessionError(cause) {
		s.fail(ctx, cause)
		return
	}
	s.log.Warn("showing cached chats", "error", cause)
	s.engine.LoadChats(cached)
	s.chatsChanged()
	s.presenter.Error(fmt.Errorf("showing saved chats: %w", cause))
}

// ActivateChat opens chatID: its unread count is cleared, its topic
// replaces the previous chat's topic and the newest page is fetched.
func (s *Session) ActivateChat(chatID int64) {
	s.post(func(ctx context.Context) {
		s.activate(ctx, chatID)
	})
}

func (s *Session) activate(ctx context.Context, chatID int64) {
	if prev, ok := s.engine.Active(); ok && prev != chatID {
		s.conn.Registry().Unsubscribe(ws.ChatTopic(prev))
	}
	tl := s.engine.Activate(chatID)
	s.chatsChanged()
	s.presenter.MessagesChanged(chatID, tl.Messages(), pagination.ScrollNone)

	if s.conn.Connected() {
		s.subscribe(ctx, ws.ChatTopic(chatID))
	}
	s.fetchPage(ctx, s.pager.BeginInitial(chatID))
}

// LoadOlder fetches the page before the oldest loaded message of the
// active chat. Nothing is fetched when the history is exhausted or a page
// is already on its way.
func (s *Session) LoadOlder() {
	s.post(func(ctx context.Context) {
		active, ok := s.engine.Active()
		if !ok {
			return
		}
		req, ok := s.pager.BeginOlder(active)
		if !ok {
			return
		}
		s.fetchPage(ctx, req)
	})
}

func (s *Session) fetchPage(ctx context.Context, req pagination.Request) {
	s.async(ctx, func(ctx context.Context) func(context.Context) {
		page, err := s.api.ListMessages(ctx, req.ChatID, req.Page, req.Size)
		return func(ctx context.Context) {
			s.completePage(ctx, req, page, err)
		}
	})
}

func (s *Session) completePage(ctx context.Context, req pagination.Request, page []models.Message, err error) {
	if err != nil {
		stale := !s.pager.Current(req)
		s.pager.Fail(req)
		if stale && !isSessionError(err) {
			return
		}
		s.fail(ctx, fmt.Errorf("failed to load messages: %w", err))
		return
	}

	tl := s.engine.Timeline(req.ChatID)
	out, err := s.pager.Complete(req, page, tl)
	if errors.Is(err, pagination.ErrStale) {
		return
	}
	if err != nil {
		s.fail(ctx, err)
		return
	}
	s.saveMessages(page)
	s.presenter.MessagesChanged(req.ChatID, tl.Messages(), out.Scroll)
	if req.Initial {
		s.markRead(ctx, page)
	}
}

// Send publishes text to the active chat. The message is shown once the
// broker echoes it on the chat topic. When disconnected nothing is sent,
// the error is reported and a reconnect is started.
func (s *Session) Send(text string) {
	s.post(func(ctx context.Context) {
		active, ok := s.engine.Active()
		if !ok {
			s.presenter.Error(ErrNoActiveChat)
			return
		}
		if err := content.ValidateMessage(text); err != nil {
			s.presenter.Error(err)
			return
		}
		s.publish(ctx, models.OutgoingMessage{
			ChatID:     active,
			SenderID:   s.user.ID,
			SenderName: s.user.Name,
			Content:    strings.TrimSpace(text),
		})
	})
}

func (s *Session) publish(ctx context.Context, msg models.OutgoingMessage) {
	if !s.conn.Connected() {
		s.presenter.Error(ws.ErrNotConnected)
		s.connect(ctx)
		return
	}
	err := s.conn.Publish(ws.SendDestination(msg.ChatID), msg)
	if errors.Is(err, ws.ErrNotConnected) {
		s.presenter.Error(err)
		s.connect(ctx)
		return
	}
	if err != nil {
		s.fail(ctx, err)
	}
}

// SendFile uploads the file at path and sends it to the active chat.
func (s *Session) SendFile(path string) {
	s.post(func(ctx context.Context) {
		active, ok := s.engine.Active()
		if !ok {
			s.presenter.Error(ErrNoActiveChat)
			return
		}
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			att, err := s.upload(ctx, path)
			return func(ctx context.Context) {
				if err != nil {
					s.fail(ctx, err)
					return
				}
				s.saveUpload(active, att)
				s.publish(ctx, models.OutgoingMessage{
					ChatID:      active,
					SenderID:    s.user.ID,
					SenderName:  s.user.Name,
					Attachments: []models.Attachment{att},
				})
			}
		})
	})
}

func (s *Session) upload(ctx context.Context, path string) (models.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return s.api.Upload(ctx, filepath.Base(path), f)
}

// SaveAttachment downloads an attachment of the active chat into the file
// store. An attachment saved before is not downloaded again.
func (s *Session) SaveAttachment(fileID string) {
	s.post(func(ctx context.Context) {
		active, ok := s.engine.Active()
		if !ok {
			s.presenter.Error(ErrNoActiveChat)
			return
		}
		if s.files == nil {
			s.presenter.Error(ErrNoFileStore)
			return
		}
		att, ok := findAttachment(s.engine.Timeline(active).Messages(), fileID)
		if !ok {
			s.presenter.Error(fmt.Errorf("%w: %s", ErrUnknownAttachment, fileID))
			return
		}
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			path, err := s.download(ctx, att)
			return func(ctx context.Context) {
				if err != nil {
					s.fail(ctx, fmt.Errorf("failed to save %s: %w", att.Name, err))
					return
				}
				s.presenter.AttachmentSaved(att, path)
			}
		})
	})
}

func findAttachment(msgs []models.Message, fileID string) (models.Attachment, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		for _, a := range msgs[i].Attachments {
			if a.FileID == fileID {
				return a, true
			}
		}
	}
	return models.Attachment{}, false
}

func (s *Session) download(ctx context.Context, att models.Attachment) (string, error) {
	if path, ok := s.files.Lookup(att.FileID, att.Name); ok {
		return path, nil
	}
	body, err := s.api.Download(ctx, att)
	if err != nil {
		return "", err
	}
	defer body.Close()
	return s.files.Save(body, att.FileID, att.Name)
}

// CreateChat opens a direct chat with a single user, or a group with
// several. The group is named after its members, the current user first.
// The new chat goes to the head of the list and becomes active.
func (s *Session) CreateChat(userIDs ...int64) {
	s.post(func(ctx context.Context) {
		if len(userIDs) == 0 {
			s.presenter.Error(ErrNoRecipients)
			return
		}
		ids := append([]int64(nil), userIDs...)
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			summary, err := s.createChat(ctx, ids)
			return func(ctx context.Context) {
				if err != nil {
					s.fail(ctx, fmt.Errorf("failed to create chat: %w", err))
					return
				}
				if _, ok := s.engine.Chat(summary.ID); !ok {
					s.engine.AddChat(summary)
					s.saveChats()
				}
				s.activate(ctx, summary.ID)
			}
		})
	})
}

func (s *Session) createChat(ctx context.Context, userIDs []int64) (models.ChatSummary, error) {
	now := models.NewTimestamp(time.Now())
	if len(userIDs) == 1 {
		c, err := s.api.CreatePrivateChat(ctx, userIDs[0])
		if err != nil {
			return models.ChatSummary{}, err
		}
		summary := models.SummaryOf(c, chat.NewChatPreview, now)
		summary.Peer = s.userName(ctx, userIDs[0])
		return summary, nil
	}

	names := make([]string, 0, len(userIDs)+1)
	names = append(names, s.user.Name)
	for _, id := range userIDs {
		names = append(names, s.userName(ctx, id))
	}
	g, err := s.api.CreateGroupChat(ctx, strings.Join(names, ", "), userIDs)
	if err != nil {
		return models.ChatSummary{}, err
	}
	if g.ChatID == 0 {
		return models.ChatSummary{}, fmt.Errorf("group %d has no chat", g.ID)
	}
	return models.SummaryOf(models.Chat{
		ID:      g.ChatID,
		Name:    g.Name,
		Type:    models.ChatTypeGroup,
		GroupID: g.ID,
	}, chat.NewChatPreview, now), nil
}

func (s *Session) userName(ctx context.Context, userID int64) string {
	u, err := s.api.GetUser(ctx, userID)
	if err != nil || u.Name == "" {
		s.log.Debug("user name unavailable", "target_user_id", userID, "error", err)
		return unknownUserName
	}
	return u.Name
}

// Logout disconnects, ends the session on the backend and stops Run.
func (s *Session) Logout() {
	s.post(func(ctx context.Context) {
		s.conn.Disconnect()
		s.pager.Reset()
		if err := s.auth.Logout(ctx); err != nil {
			s.presenter.Error(err)
		}
		s.stop(nil)
	})
}

func (s *Session) onEvent(ctx context.Context, ev ws.Event) {
	if !s.conn.Registry().IsCurrent(ev.Topic, ev.SubscriptionID) {
		s.log.Debug("event from replaced subscription dropped", "topic", ev.Topic.String())
		return
	}

	switch ev.Topic.Kind {
	case ws.TopicChat:
		var msg models.Message
		if err := json.Unmarshal(ev.Body, &msg); err != nil {
			s.log.Warn("invalid message frame", "topic", ev.Topic.String(), "error", err)
			return
		}
		if msg.ChatID == 0 {
			msg.ChatID = ev.Topic.ID
		}
		s.onChatMessage(ctx, msg)
	case ws.TopicUser:
		var n models.Notification
		if err := json.Unmarshal(ev.Body, &n); err != nil {
			s.log.Warn("invalid notification frame", "topic", ev.Topic.String(), "error", err)
			return
		}
		res := s.engine.ApplyNotification(n)
		if !res.Applied {
			return
		}
		s.chatsChanged()
		if res.Alert != nil {
			s.alert(ctx, *res.Alert)
		}
	}
}

// alert surfaces a off the loop; a slow push service must not hold up
// events or commands.
func (s *Session) alert(ctx context.Context, a chat.Alert) {
	s.async(ctx, func(ctx context.Context) func(context.Context) {
		ctx, cancel := context.WithTimeout(ctx, alertTimeout)
		defer cancel()
		if !s.engine.Deliver(ctx, a) {
			s.log.Debug("desktop notification not shown", "title", a.Title)
		}
		return nil
	})
}

func (s *Session) onChatMessage(ctx context.Context, msg models.Message) {
	res := s.engine.ApplyChatMessage(msg)
	if !res.Applied {
		return
	}
	s.saveMessages([]models.Message{msg})
	s.chatsChanged()

	if active, ok := s.engine.Active(); ok && active == msg.ChatID {
		scroll := pagination.ScrollNone
		atBottom := s.presenter.AtBottom()
		if atBottom {
			scroll = pagination.ScrollBottom
		}
		s.presenter.MessagesChanged(msg.ChatID, s.engine.Timeline(msg.ChatID).Messages(), scroll)
		if atBottom {
			s.markRead(ctx, []models.Message{msg})
		}
	}
}

func (s *Session) chatsChanged() {
	active, _ := s.engine.Active()
	s.presenter.ChatsChanged(s.engine.Chats(), active)
}

func (s *Session) saveChats() {
	if s.cache == nil {
		return
	}
	if err := s.cache.UpsertChats(s.engine.Chats()); err != nil {
		s.log.Warn("failed to cache chats", "error", err)
	}
}

func (s *Session) saveMessages(msgs []models.Message) {
	if s.cache == nil || len(msgs) == 0 {
		return
	}
	if err := s.cache.UpsertMessages(msgs); err != nil {
		s.log.Warn("failed to cache messages", "error", err)
	}
}

func (s *Session) saveUpload(chatID int64, att models.Attachment) {
	if s.cache == nil {
		return
	}
	err := s.cache.UpsertUpload(storage.Upload{
		Attachment: att,
		ChatID:     chatID,
		UploadedAt: time.Now(),
	})
	if err != nil {
		s.log.Warn("failed to record upload", "file_id", att.FileID, "error", err)
	}
}
