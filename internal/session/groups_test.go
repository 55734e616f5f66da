package session

import (
	"athena/internal/api"
	"athena/internal/models"
	"athena/internal/ws"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSession_ListUsersAndGroups(t *testing.T) {
	f := newFixture(t)

	f.s.ListUsers()
	f.step(t)
	f.step(t)
	require.Equal(t, []models.User{{ID: 4, Name: "Bia"}, {ID: 6, Name: "Caio"}}, f.rec.users)

	f.s.ListGroups()
	f.step(t)
	f.step(t)
	require.Len(t, f.rec.groups, 1)
	require.Equal(t, "B", f.rec.groups[0].Name)
}

func TestSession_ShowGroup(t *testing.T) {
	f := newFixture(t)

	f.s.ShowGroup(3)
	f.step(t)
	f.step(t)
	g, ok := f.rec.shownGroup()
	require.True(t, ok)
	require.Equal(t, int64(2), g.ChatID)
	require.Len(t, g.Members, 2)
	require.Equal(t, []models.User{{ID: 6, Name: "Caio"}}, f.rec.available)

	f.s.ShowGroup(99)
	f.step(t)
	f.step(t)
	var statusErr *api.StatusError
	require.True(t, f.rec.hasErrorAs(&statusErr))
	require.Equal(t, 404, statusErr.Status)
}

func TestSession_RenameGroup(t *testing.T) {
	f := newFixture(t)
	f.s.Reload()
	f.stepUntil(t, func() bool { return len(f.rec.chatIDs()) == 2 })

	f.s.RenameGroup(3, "  ")
	f.step(t)
	require.True(t, f.rec.hasError(ErrNoGroupName))

	f.s.RenameGroup(3, "Equipe")
	f.step(t)
	f.step(t)

	// Members and description are sent back unchanged.
	require.Equal(t, []string{"update 3 Equipe [5 4]"}, f.api.changeLog())
	require.Equal(t, "Equipe", f.rec.chat(2).Name)
	g, ok := f.rec.shownGroup()
	require.True(t, ok)
	require.Equal(t, "time", g.Description)
	cached, err := f.cache.ListChats()
	require.NoError(t, err)
	require.Equal(t, "Equipe", cached[1].Name)
}

func TestSession_GroupMembers(t *testing.T) {
	f := newFixture(t)

	f.s.AddMember(3, 6)
	f.stepUntil(t, func() bool {
		g, ok := f.rec.shownGroup()
		return ok && len(g.Members) == 3
	})

	f.s.RemoveMember(3, 4)
	f.stepUntil(t, func() bool {
		g, _ := f.rec.shownGroup()
		return len(g.Members) == 2
	})

	g, _ := f.rec.shownGroup()
	require.Equal(t, []int64{5, 6}, []int64{g.Members[0].ID, g.Members[1].ID})
	require.Equal(t, []string{"add 3 6", "remove 3 4"}, f.api.changeLog())
}

func TestSession_DeleteOpenGroup(t *testing.T) {
	b := newMockBroker()
	f := newFixture(t, b)
	f.api.pages[2] = page(2, 20)
	f.run(t)

	f.s.Start()
	require.Eventually(t, func() bool {
		return f.rec.connection() == ws.StateConnected && len(f.rec.chatIDs()) == 2
	}, time.Second, 5*time.Millisecond)
	f.s.ActivateChat(2)
	require.Eventually(t, func() bool {
		return b.subscribed("/topic/chats/2")
	}, time.Second, 5*time.Millisecond)

	f.s.DeleteGroup(3)
	require.Eventually(t, func() bool {
		return len(f.rec.chatIDs()) == 1
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, []int64{1}, f.rec.chatIDs())
	require.False(t, b.subscribed("/topic/chats/2"))
	require.Equal(t, []string{"delete 3"}, f.api.changeLog())

	f.s.Send("oi")
	require.Eventually(t, func() bool {
		return f.rec.hasError(ErrNoActiveChat)
	}, time.Second, 5*time.Millisecond)
}

func TestSession_CloseChat(t *testing.T) {
	b := newMockBroker()
	f := newFixture(t, b)
	f.api.pages[1] = page(1, 10)
	f.run(t)

	f.s.CloseChat()
	require.Eventually(t, func() bool {
		return f.rec.hasError(ErrNoActiveChat)
	}, time.Second, 5*time.Millisecond)

	f.s.Start()
	require.Eventually(t, func() bool {
		return f.rec.connection() == ws.StateConnected && len(f.rec.chatIDs()) == 2
	}, time.Second, 5*time.Millisecond)
	f.s.ActivateChat(1)
	require.Eventually(t, func() bool {
		return b.subscribed("/topic/chats/1") && len(f.rec.messageIDs(1)) == 1
	}, time.Second, 5*time.Millisecond)

	f.s.CloseChat()
	require.Eventually(t, func() bool {
		return !b.subscribed("/topic/chats/1")
	}, time.Second, 5*time.Millisecond)

	// The closed chat now collects unread activity.
	b.push(t, "/topic/users/5", models.Notification{ChatID: 1, Summary: "de volta", SenderID: 9})
	require.Eventually(t, func() bool {
		return f.rec.chat(1).Unread == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSession_MarksNewestIncomingRead(t *testing.T) {
	f := newFixture(t)
	msgs := page(1, 10, 11, 12)
	msgs[2].SenderID = me.ID
	f.api.pages[1] = msgs

	f.s.activate(context.Background(), 1)
	f.step(t)

	// 12 is our own; 11 is the newest incoming message.
	require.Eventually(t, func() bool {
		return len(f.api.readIDs()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []int64{11}, f.api.readIDs())

	// Already read history is left alone.
	f.api.pages[2] = page(2, 20)
	f.api.pages[2][0].Read = true
	f.s.activate(context.Background(), 2)
	f.step(t)
	require.Never(t, func() bool {
		return len(f.api.readIDs()) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
}
