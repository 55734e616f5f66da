package session

import (
	"athena/internal/models"
	"athena/internal/ws"
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

var ErrNoGroupName = errors.New("group name must not be empty")

// ListUsers fetches every user that can be added to a chat.
func (s *Session) ListUsers() {
	s.post(func(ctx context.Context) {
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			users, err := s.api.ListUsers(ctx)
			return func(ctx context.Context) {
				if err != nil {
					s.fail(ctx, fmt.Errorf("failed to list users: %w", err))
					return
				}
				s.presenter.UsersListed(users)
			}
		})
	})
}

// ListGroups fetches the groups the user belongs to.
func (s *Session) ListGroups() {
	s.post(func(ctx context.Context) {
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			groups, err := s.api.ListGroups(ctx)
			return func(ctx context.Context) {
				if err != nil {
					s.fail(ctx, fmt.Errorf("failed to list groups: %w", err))
					return
				}
				s.presenter.GroupsListed(groups)
			}
		})
	})
}

// ShowGroup fetches a group with its members and the users that can still
// join it.
func (s *Session) ShowGroup(groupID int64) {
	s.post(func(ctx context.Context) {
		s.showGroup(ctx, groupID)
	})
}

func (s *Session) showGroup(ctx context.Context, groupID int64) {
	s.async(ctx, func(ctx context.Context) func(context.Context) {
		var (
			group     models.Group
			available []models.User
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			group, err = s.api.GetGroup(gctx, groupID)
			return err
		})
		g.Go(func() error {
			var err error
			available, err = s.api.AvailableUsers(gctx, groupID)
			return err
		})
		err := g.Wait()
		return func(ctx context.Context) {
			if err != nil {
				s.fail(ctx, fmt.Errorf("failed to load group %d: %w", groupID, err))
				return
			}
			s.presenter.GroupShown(group, available)
		}
	})
}

// RenameGroup changes a group's name. Members and description are kept.
func (s *Session) RenameGroup(groupID int64, name string) {
	s.post(func(ctx context.Context) {
		name = strings.TrimSpace(name)
		if name == "" {
			s.presenter.Error(ErrNoGroupName)
			return
		}
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			group, err := s.renameGroup(ctx, groupID, name)
			return func(ctx context.Context) {
				if err != nil {
					s.fail(ctx, fmt.Errorf("failed to rename group %d: %w", groupID, err))
					return
				}
				if group.ChatID != 0 && s.engine.RenameChat(group.ChatID, group.Name) {
					s.saveChats()
					s.chatsChanged()
				}
				s.presenter.GroupShown(group, nil)
			}
		})
	})
}

func (s *Session) renameGroup(ctx context.Context, groupID int64, name string) (models.Group, error) {
	current, err := s.api.GetGroup(ctx, groupID)
	if err != nil {
		return models.Group{}, err
	}
	ids := make([]int64, 0, len(current.Members))
	for _, u := range current.Members {
		ids = append(ids, u.ID)
	}
	group, err := s.api.UpdateGroup(ctx, groupID, models.GroupRequest{
		Name:        name,
		Description: current.Description,
		UserIDs:     ids,
	})
	if err != nil {
		return models.Group{}, err
	}
	if group.ChatID == 0 {
		group.ChatID = current.ChatID
	}
	return group, nil
}

// AddMember adds userID to a group and shows the updated group.
func (s *Session) AddMember(groupID, userID int64) {
	s.post(func(ctx context.Context) {
		s.changeMembers(ctx, groupID, func(ctx context.Context) error {
			return s.api.AddMember(ctx, groupID, userID)
		})
	})
}

// RemoveMember removes userID from a group and shows the updated group.
func (s *Session) RemoveMember(groupID, userID int64) {
	s.post(func(ctx context.Context) {
		s.changeMembers(ctx, groupID, func(ctx context.Context) error {
			return s.api.RemoveMember(ctx, groupID, userID)
		})
	})
}

func (s *Session) changeMembers(ctx context.Context, groupID int64, change func(ctx context.Context) error) {
	s.async(ctx, func(ctx context.Context) func(context.Context) {
		err := change(ctx)
		return func(ctx context.Context) {
			if err != nil {
				s.fail(ctx, fmt.Errorf("failed to update members of group %d: %w", groupID, err))
				return
			}
			s.showGroup(ctx, groupID)
		}
	})
}

// DeleteGroup deletes a group and drops its chat from the list. When that
// chat is open it is closed first.
func (s *Session) DeleteGroup(groupID int64) {
	s.post(func(ctx context.Context) {
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			group, err := s.api.GetGroup(ctx, groupID)
			if err == nil {
				err = s.api.DeleteGroup(ctx, groupID)
			}
			return func(ctx context.Context) {
				if err != nil {
					s.fail(ctx, fmt.Errorf("failed to delete group %d: %w", groupID, err))
					return
				}
				s.log.Info("group deleted", "group_id", groupID, "chat_id", group.ChatID)
				if group.ChatID == 0 {
					return
				}
				if active, ok := s.engine.Active(); ok && active == group.ChatID {
					s.closeChat()
				}
				s.engine.RemoveChat(group.ChatID)
				s.saveChats()
				s.chatsChanged()
			}
		})
	})
}

// CloseChat leaves the active chat: its topic is dropped and live
// messages only update the chat list until another chat is opened.
func (s *Session) CloseChat() {
	s.post(func(ctx context.Context) {
		if _, ok := s.engine.Active(); !ok {
			s.presenter.Error(ErrNoActiveChat)
			return
		}
		s.closeChat()
		s.chatsChanged()
	})
}

func (s *Session) closeChat() {
	active, ok := s.engine.Active()
	if !ok {
		return
	}
	s.conn.Registry().Unsubscribe(ws.ChatTopic(active))
	s.pager.Reset()
	s.engine.Deactivate()
}

// markRead tells the backend that the newest incoming message of a chat
// was seen. Failures are only logged.
func (s *Session) markRead(ctx context.Context, messages []models.Message) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.SenderID == s.user.ID {
			continue
		}
		if m.Read || m.ID == 0 {
			return
		}
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			if err := s.api.MarkRead(ctx, m.ID); err != nil {
				s.log.Warn("failed to mark message read", "message_id", m.ID, "error", err)
			}
			return nil
		})
		return
	}
}
