package ws

import "fmt"

type TopicKind string

const (
	TopicChat TopicKind = "chat"
	TopicUser TopicKind = "user"
)

// Topic names a broker channel: one per chat and one per user.
type Topic struct {
	Kind TopicKind
	ID   int64
}

func ChatTopic(chatID int64) Topic {
	return Topic{Kind: TopicChat, ID: chatID}
}

func UserTopic(userID int64) Topic {
	return Topic{Kind: TopicUser, ID: userID}
}

func (t Topic) String() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}

// Destination is the broker destination to subscribe to.
func (t Topic) Destination() string {
	switch t.Kind {
	case TopicChat:
		return fmt.Sprintf("/topic/chats/%d", t.ID)
	case TopicUser:
		return fmt.Sprintf("/topic/users/%d", t.ID)
	}
	return ""
}

// SendDestination is where messages for a chat are published.
func SendDestination(chatID int64) string {
	return fmt.Sprintf("/app/chats/%d/send", chatID)
}
