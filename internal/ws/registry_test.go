package ws

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func connectedManager(t *testing.T) (*Manager, *mockBroker) {
	t.Helper()
	b := newMockBroker()
	d := &mockDialer{}
	d.push(b)
	m := NewManager(Config{Dial: d.Dial})
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(m.Disconnect)
	return m, b
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestTopic_Naming(t *testing.T) {
	require.Equal(t, "chat:42", ChatTopic(42).String())
	require.Equal(t, "user:7", UserTopic(7).String())
	require.Equal(t, "/topic/chats/42", ChatTopic(42).Destination())
	require.Equal(t, "/topic/users/7", UserTopic(7).Destination())
	require.Equal(t, "/app/chats/42/send", SendDestination(42))
	require.Empty(t, Topic{Kind: "room", ID: 1}.Destination())
}

func TestRegistry_SubscribeDelivers(t *testing.T) {
	m, b := connectedManager(t)
	r := m.Registry()

	sub, err := r.Subscribe(ChatTopic(42))
	require.NoError(t, err)

	b.stream("/topic/chats/42").ch <- []byte(`{"id":1}`)

	ev := receive(t, sub)
	require.Equal(t, ChatTopic(42), ev.Topic)
	require.Equal(t, sub.ID, ev.SubscriptionID)
	require.JSONEq(t, `{"id":1}`, string(ev.Body))
}

func TestRegistry_SubscribeReplaces(t *testing.T) {
	m, b := connectedManager(t)
	r := m.Registry()

	first, err := r.Subscribe(ChatTopic(42))
	require.NoError(t, err)
	firstStream := b.stream("/topic/chats/42")

	second, err := r.Subscribe(ChatTopic(42))
	require.NoError(t, err)

	require.Equal(t, 1, r.Len())
	require.True(t, firstStream.unsubscribed.Load())
	require.NotEqual(t, first.ID, second.ID)
	require.False(t, r.IsCurrent(ChatTopic(42), first.ID))
	require.True(t, r.IsCurrent(ChatTopic(42), second.ID))

	// The earlier subscription never delivers again.
	_, ok := <-first.Events()
	require.False(t, ok)

	b.stream("/topic/chats/42").ch <- []byte(`{"id":2}`)
	ev := receive(t, second)
	require.Equal(t, second.ID, ev.SubscriptionID)
}

func TestRegistry_SubscribeWhileDisconnected(t *testing.T) {
	m := NewManager(Config{Dial: (&mockDialer{}).Dial})

	sub, err := m.Registry().Subscribe(UserTopic(1))
	require.ErrorIs(t, err, ErrNotConnected)
	require.Nil(t, sub)
	require.Zero(t, m.Registry().Len())
}

func TestRegistry_ResubscribeWhileDisconnectedKeepsExisting(t *testing.T) {
	b := newMockBroker()
	live := true
	r := newRegistry(func() (Broker, bool) { return b, live }, slog.Default())

	sub, err := r.Subscribe(ChatTopic(5))
	require.NoError(t, err)

	live = false
	again, err := r.Subscribe(ChatTopic(5))
	require.ErrorIs(t, err, ErrNotConnected)
	require.Nil(t, again)

	require.Equal(t, 1, r.Len())
	require.True(t, r.IsCurrent(ChatTopic(5), sub.ID))
	require.False(t, b.stream("/topic/chats/5").unsubscribed.Load())
}

func TestRegistry_Unsubscribe(t *testing.T) {
	m, b := connectedManager(t)
	r := m.Registry()

	sub, err := r.Subscribe(ChatTopic(1))
	require.NoError(t, err)
	_, err = r.Subscribe(UserTopic(9))
	require.NoError(t, err)
	require.Equal(t, []Topic{ChatTopic(1), UserTopic(9)}, r.Topics())

	r.Unsubscribe(ChatTopic(1))
	require.True(t, b.stream("/topic/chats/1").unsubscribed.Load())
	_, ok := <-sub.Events()
	require.False(t, ok)
	require.Equal(t, 1, r.Len())

	// Unknown topic is a no-op.
	r.Unsubscribe(ChatTopic(1))
	require.Equal(t, 1, r.Len())

	r.UnsubscribeAll()
	require.Zero(t, r.Len())
	require.True(t, b.stream("/topic/users/9").unsubscribed.Load())
}

func TestRegistry_StreamEndClosesEvents(t *testing.T) {
	m, b := connectedManager(t)

	sub, err := m.Registry().Subscribe(UserTopic(3))
	require.NoError(t, err)

	b.stream("/topic/users/3").end()

	select {
	case _, ok := <-sub.Events():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
}
