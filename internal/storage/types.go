package storage

import (
	"encoding"
	"encoding/binary"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

var (
	_ Storeable = (*DBCredentials)(nil)
	_ Storeable = (*DBChat)(nil)
	_ Storeable = (*DBMessage)(nil)
	_ Storeable = (*DBUpload)(nil)
)

var sessionKey = []byte("current")

type DBCookie struct {
	Name    string `msgpack:"name"`
	Value   string `msgpack:"value"`
	Path    string `msgpack:"path"`
	Expires int64  `msgpack:"expires"`
}

type DBCredentials struct {
	UserID    int64      `msgpack:"userId"`
	UserName  string     `msgpack:"userName"`
	UserEmail string     `msgpack:"userEmail"`
	Token     string     `msgpack:"token"`
	Cookies   []DBCookie `msgpack:"cookies"`
	SavedAt   int64      `msgpack:"savedAt"`
}

func (c *DBCredentials) Key() []byte {
	return sessionKey
}

func (c *DBCredentials) MarshalBinary() (data []byte, err error) {
	type alias DBCredentials
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCredentials) UnmarshalBinary(data []byte) error {
	type alias DBCredentials
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBChat struct {
	ID            int64  `msgpack:"id"`
	Rank          int    `msgpack:"rank"`
	Name          string `msgpack:"name"`
	Type          string `msgpack:"type"`
	LastContent   string `msgpack:"lastContent"`
	LastMessageAt int64  `msgpack:"lastMessageAt"`
	Peer          string `msgpack:"peer"`
	Unread        int    `msgpack:"unread"`
	GroupID       int64  `msgpack:"groupId"`
}

func (c *DBChat) Key() []byte {
	return idKey(c.ID)
}

func (c *DBChat) MarshalBinary() (data []byte, err error) {
	type alias DBChat
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChat) UnmarshalBinary(data []byte) error {
	type alias DBChat
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	ID          int64          `msgpack:"id"`
	ChatID      int64          `msgpack:"chatId"`
	SenderID    int64          `msgpack:"senderId"`
	SenderName  string         `msgpack:"senderName"`
	Content     string         `msgpack:"content"`
	SentAt      int64          `msgpack:"sentAt"`
	Read        bool           `msgpack:"read"`
	Attachments []DBAttachment `msgpack:"attachments"`
}

type DBAttachment struct {
	FileID   string `msgpack:"fileId"`
	Name     string `msgpack:"name"`
	MimeType string `msgpack:"mimeType"`
	Size     int64  `msgpack:"size"`
	URL      string `msgpack:"url"`
}

func (m *DBMessage) Key() []byte {
	return idKey(m.ID)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// idKey encodes ids big-endian so that cursor order is id order.
func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func chatBucketName(chatID int64) []byte {
	return []byte(strconv.FormatInt(chatID, 10))
}
