package chat

import (
	"athena/internal/models"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const me = int64(1)

type mockNotifier struct {
	permission Permission
	err        error
	sent       []string
}

func (n *mockNotifier) Permission() Permission {
	return n.permission
}

func (n *mockNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	return n.permission, nil
}

func (n *mockNotifier) Notify(ctx context.Context, title, body string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, title+": "+body)
	return nil
}

type mockSound struct {
	plays int
	err   error
}

func (s *mockSound) Play() error {
	s.plays++
	return s.err
}

type visibility bool

func (v visibility) Visible() bool {
	return bool(v)
}

func msg(id, chatID, sender int64, text string) models.Message {
	return models.Message{
		ID:       id,
		ChatID:   chatID,
		SenderID: sender,
		Content:  text,
		SentAt:   models.NewTimestamp(time.Date(2024, 5, 1, 10, 0, int(id), 0, time.UTC)),
	}
}

func ids(list []models.ChatSummary) []int64 {
	out := make([]int64, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func messageIDs(msgs []models.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func newEngine(n Notifier, s Sound, v Visibility) *Engine {
	e := NewEngine(Config{UserID: me, Notifier: n, Sound: s, Visibility: v})
	e.LoadChats([]models.ChatSummary{
		{ID: 10, Name: "A", Type: models.ChatTypeGroup, LastContent: "hi"},
		{ID: 20, Name: "B", Type: models.ChatTypeGroup},
		{ID: 30, Name: "dm", Type: models.ChatTypeDirect, Peer: "Carla"},
	})
	return e
}

func TestTimeline_AppendDeduplicates(t *testing.T) {
	tl := NewTimeline(1)
	require.True(t, tl.Append(msg(1, 1, 2, "a")))
	require.False(t, tl.Append(msg(1, 1, 2, "a")))
	require.True(t, tl.Append(msg(2, 1, 2, "b")))

	require.Equal(t, 2, tl.Len())
	require.True(t, tl.Contains(2))
	last, ok := tl.Last()
	require.True(t, ok)
	require.Equal(t, int64(2), last.ID)
}

func TestTimeline_PrependKeepsPageOrder(t *testing.T) {
	tl := NewTimeline(1)
	tl.Replace([]models.Message{msg(3, 1, 2, ""), msg(4, 1, 2, "")})

	added := tl.Prepend([]models.Message{msg(1, 1, 2, ""), msg(2, 1, 2, ""), msg(3, 1, 2, "")})
	require.Equal(t, 2, added)
	require.Equal(t, []int64{1, 2, 3, 4}, messageIDs(tl.Messages()))

	require.Zero(t, tl.Prepend(nil))
}

func TestTimeline_MessagesIsACopy(t *testing.T) {
	tl := NewTimeline(1)
	tl.Append(msg(1, 1, 2, "a"))

	out := tl.Messages()
	out[0].Content = "changed"
	require.Equal(t, "a", tl.Messages()[0].Content)
}

func TestChatList_MoveToFront(t *testing.T) {
	l := NewChatList()
	l.Load([]models.ChatSummary{{ID: 1}, {ID: 2}, {ID: 3}})

	require.True(t, l.MoveToFront(3))
	require.Equal(t, []int64{3, 1, 2}, ids(l.Summaries()))

	require.True(t, l.MoveToFront(3))
	require.Equal(t, []int64{3, 1, 2}, ids(l.Summaries()))

	require.False(t, l.MoveToFront(9))

	l.Add(models.ChatSummary{ID: 2})
	require.Equal(t, []int64{2, 3, 1}, ids(l.Summaries()))

	require.True(t, l.Remove(3))
	require.False(t, l.Remove(3))
	require.Equal(t, []int64{2, 1}, ids(l.Summaries()))
}

func TestEngine_LoadChatsDefaultPreview(t *testing.T) {
	e := newEngine(nil, nil, nil)

	b, ok := e.Chat(20)
	require.True(t, ok)
	require.Equal(t, DefaultPreview, b.LastContent)

	a, _ := e.Chat(10)
	require.Equal(t, "hi", a.LastContent)
}

func TestEngine_IdempotentMerge(t *testing.T) {
	e := newEngine(nil, nil, nil)
	e.Activate(10)

	m := msg(100, 10, 2, "hello")
	require.True(t, e.ApplyChatMessage(m).Applied)
	require.False(t, e.ApplyChatMessage(m).Applied)

	require.Equal(t, 1, e.Timeline(10).Len())
}

func TestEngine_ArrivalOrderKept(t *testing.T) {
	e := newEngine(nil, nil, nil)
	e.Activate(10)

	// Later timestamp first; arrival order wins.
	e.ApplyChatMessage(msg(9, 10, 2, "second"))
	e.ApplyChatMessage(msg(3, 10, 2, "first"))

	require.Equal(t, []int64{9, 3}, messageIDs(e.Timeline(10).Messages()))
}

func TestEngine_ReorderOnActivity(t *testing.T) {
	e := newEngine(nil, nil, nil)
	require.Equal(t, []int64{10, 20, 30}, ids(e.Chats()))

	e.ApplyChatMessage(msg(1, 30, 2, "<b>novo</b>   texto"))

	require.Equal(t, []int64{30, 10, 20}, ids(e.Chats()))
	c, _ := e.Chat(30)
	require.Equal(t, "novo texto", c.LastContent)
	require.Equal(t, 1, c.Unread)
}

func TestEngine_UnreadAccounting(t *testing.T) {
	e := newEngine(nil, nil, nil)
	e.Activate(10)

	e.ApplyChatMessage(msg(1, 20, 2, "x"))
	e.ApplyNotification(models.Notification{ChatID: 20, Summary: "y", SenderID: 3})

	c, _ := e.Chat(20)
	require.Equal(t, 2, c.Unread)

	// Own messages and the active chat never count.
	e.ApplyChatMessage(msg(2, 20, me, "mine"))
	e.ApplyChatMessage(msg(3, 10, 2, "active"))
	c, _ = e.Chat(20)
	require.Equal(t, 2, c.Unread)
	a, _ := e.Chat(10)
	require.Zero(t, a.Unread)

	e.Activate(20)
	c, _ = e.Chat(20)
	require.Zero(t, c.Unread)

	active, ok := e.Active()
	require.True(t, ok)
	require.Equal(t, int64(20), active)
}

func TestEngine_NotificationUnknownChatDiscarded(t *testing.T) {
	n := &mockNotifier{permission: PermissionGranted}
	e := newEngine(n, nil, nil)

	res := e.ApplyNotification(models.Notification{ChatID: 99, Summary: "x"})
	require.False(t, res.Applied)
	require.Nil(t, res.Alert)
	require.Equal(t, []int64{10, 20, 30}, ids(e.Chats()))
}

func TestEngine_NotificationSurfaced(t *testing.T) {
	n := &mockNotifier{permission: PermissionGranted}
	s := &mockSound{}
	e := newEngine(n, s, visibility(true))
	e.Activate(10)

	res := e.ApplyNotification(models.Notification{
		ChatID:   20,
		ChatName: "B",
		Summary:  "reunião às 15h",
		SenderID: 2,
	})
	require.True(t, res.Applied)
	require.Equal(t, &Alert{Title: "B", Body: "reunião às 15h"}, res.Alert)
	require.Equal(t, []int64{20, 10, 30}, ids(e.Chats()))

	// Applying never surfaces anything by itself.
	require.Empty(t, n.sent)
	require.Zero(t, s.plays)

	require.True(t, e.Deliver(context.Background(), *res.Alert))
	require.Equal(t, []string{"B: reunião às 15h"}, n.sent)
	require.Equal(t, 1, s.plays)
}

func TestEngine_NotificationActiveChat(t *testing.T) {
	n := &mockNotifier{permission: PermissionGranted}

	// Active and visible: nothing surfaced.
	e := newEngine(n, nil, visibility(true))
	e.Activate(10)
	res := e.ApplyNotification(models.Notification{ChatID: 10, Summary: "x"})
	require.True(t, res.Applied)
	require.Nil(t, res.Alert)

	// Active but hidden: surfaced.
	e = newEngine(n, nil, visibility(false))
	e.Activate(10)
	res = e.ApplyNotification(models.Notification{ChatID: 10, Summary: "x"})
	require.NotNil(t, res.Alert)

	// Own activity never alerts.
	res = e.ApplyNotification(models.Notification{ChatID: 20, Summary: "x", SenderID: me})
	require.True(t, res.Applied)
	require.Nil(t, res.Alert)
}

func TestEngine_NotificationNeedsPermission(t *testing.T) {
	n := &mockNotifier{permission: PermissionDenied}
	s := &mockSound{err: errors.New("no audio device")}
	e := newEngine(n, s, visibility(true))

	res := e.ApplyNotification(models.Notification{ChatID: 30, Summary: "x", SenderID: 2})
	require.True(t, res.Applied)
	require.NotNil(t, res.Alert)
	require.False(t, e.Deliver(context.Background(), *res.Alert))
	require.Empty(t, n.sent)
	// Sound failures are swallowed.
	require.Equal(t, 1, s.plays)

	n.permission = PermissionGranted
	n.err = errors.New("push service unavailable")
	require.False(t, e.Deliver(context.Background(), *res.Alert))
	require.Equal(t, 2, s.plays)
}

func TestEngine_NotificationFallsBackToDisplayName(t *testing.T) {
	n := &mockNotifier{permission: PermissionGranted}
	e := newEngine(n, nil, nil)

	res := e.ApplyNotification(models.Notification{ChatID: 30, Summary: "oi"})
	require.Equal(t, &Alert{Title: "Carla", Body: "oi"}, res.Alert)
}

func TestEngine_AddAndRemoveChat(t *testing.T) {
	e := newEngine(nil, nil, nil)

	e.AddChat(models.ChatSummary{ID: 40, Name: "me, Ana", Unread: 3})
	c, ok := e.Chat(40)
	require.True(t, ok)
	require.Equal(t, NewChatPreview, c.LastContent)
	require.Zero(t, c.Unread)
	require.Equal(t, int64(40), e.Chats()[0].ID)

	e.Activate(40)
	e.RemoveChat(40)
	_, ok = e.Active()
	require.False(t, ok)
	_, ok = e.Chat(40)
	require.False(t, ok)
}

func TestEngine_DeactivateAndRename(t *testing.T) {
	e := newEngine(nil, nil, nil)
	e.Activate(10)
	e.ApplyChatMessage(msg(1, 10, 2, "x"))

	e.Deactivate()
	_, ok := e.Active()
	require.False(t, ok)
	// The timeline survives and messages count as unread again.
	require.Equal(t, []int64{1}, messageIDs(e.Timeline(10).Messages()))
	e.ApplyChatMessage(msg(2, 10, 2, "y"))
	c, _ := e.Chat(10)
	require.Equal(t, 1, c.Unread)

	require.True(t, e.RenameChat(20, "Equipe"))
	c, _ = e.Chat(20)
	require.Equal(t, "Equipe", c.Name)
	require.False(t, e.RenameChat(99, "x"))
}
