// Package storage is the client's local cache: the resumable session, the
// chat list and recent history, kept in a bbolt file.
package storage

import (
	"athena/internal/models"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketSession  = []byte("session")
	bucketChats    = []byte("chats")
	bucketMessages = []byte("messages")
	bucketUploads  = []byte("uploads")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSession, bucketChats, bucketMessages, bucketUploads} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SaveCredentials stores the session to resume on the next start.
func (s *BboltStorage) SaveCredentials(creds models.Credentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSession)
		rec := DBCredentials{
			UserID:    creds.User.ID,
			UserName:  creds.User.Name,
			UserEmail: creds.User.Email,
			Token:     creds.Token,
			SavedAt:   creds.SavedAt.UnixMilli(),
		}
		for _, ck := range creds.Cookies {
			var expires int64
			if !ck.Expires.IsZero() {
				expires = ck.Expires.Unix()
			}
			rec.Cookies = append(rec.Cookies, DBCookie{
				Name:    ck.Name,
				Value:   ck.Value,
				Path:    ck.Path,
				Expires: expires,
			})
		}

		data, err := rec.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal credentials: %w", err)
		}
		return b.Put(rec.Key(), data)
	})
}

// LoadCredentials returns models.ErrNotFound when no session was saved.
func (s *BboltStorage) LoadCredentials() (models.Credentials, error) {
	var rec DBCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSession).Get(sessionKey)
		if data == nil {
			return models.ErrNotFound
		}
		return rec.UnmarshalBinary(data)
	})
	if err != nil {
		return models.Credentials{}, err
	}

	creds := models.Credentials{
		User: models.User{
			ID:    rec.UserID,
			Name:  rec.UserName,
			Email: rec.UserEmail,
		},
		Token:   rec.Token,
		SavedAt: time.UnixMilli(rec.SavedAt),
	}
	for _, ck := range rec.Cookies {
		var expires time.Time
		if ck.Expires != 0 {
			expires = time.Unix(ck.Expires, 0)
		}
		creds.Cookies = append(creds.Cookies, models.SessionCookie{
			Name:    ck.Name,
			Value:   ck.Value,
			Path:    ck.Path,
			Expires: expires,
		})
	}
	return creds, nil
}

func (s *BboltStorage) DeleteCredentials() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSession).Delete(sessionKey)
	})
}

// UpsertChats replaces the cached chat list, keeping its order.
func (s *BboltStorage) UpsertChats(chats []models.ChatSummary) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketChats); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketChats)
		if err != nil {
			return err
		}

		for i, c := range chats {
			rec := DBChat{
				ID:            c.ID,
				Rank:          i,
				Name:          c.Name,
				Type:          string(c.Type),
				LastContent:   c.LastContent,
				LastMessageAt: unixMilli(c.LastMessageAt),
				Peer:          c.Peer,
				Unread:        c.Unread,
				GroupID:       c.GroupID,
			}
			data, err := rec.MarshalBinary()
			if err != nil {
				return fmt.Errorf("failed to marshal chat: %w", err)
			}
			if err := b.Put(rec.Key(), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListChats returns the cached chat list in the order it was saved.
func (s *BboltStorage) ListChats() ([]models.ChatSummary, error) {
	var recs []DBChat
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChats).ForEach(func(k, v []byte) error {
			var rec DBChat
			if err := rec.UnmarshalBinary(v); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Rank < recs[j].Rank })
	chats := make([]models.ChatSummary, len(recs))
	for i, rec := range recs {
		chats[i] = models.ChatSummary{
			ID:            rec.ID,
			Name:          rec.Name,
			Type:          models.ChatType(rec.Type),
			LastContent:   rec.LastContent,
			LastMessageAt: fromUnixMilli(rec.LastMessageAt),
			Peer:          rec.Peer,
			Unread:        rec.Unread,
			GroupID:       rec.GroupID,
		}
	}
	return chats, nil
}

// UpsertMessages caches messages, each in the bucket of its chat.
func (s *BboltStorage) UpsertMessages(messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketMessages)
		for _, m := range messages {
			if m.ChatID == 0 {
				return errors.New("message missing chatID")
			}
			chatBucket, err := root.CreateBucketIfNotExists(chatBucketName(m.ChatID))
			if err != nil {
				return fmt.Errorf("failed to create chat bucket: %w", err)
			}

			rec := DBMessage{
				ID:         m.ID,
				ChatID:     m.ChatID,
				SenderID:   m.SenderID,
				SenderName: m.SenderName,
				Content:    m.Content,
				SentAt:     unixMilli(m.SentAt),
				Read:       m.Read,
			}
			for _, a := range m.Attachments {
				rec.Attachments = append(rec.Attachments, DBAttachment{
					FileID:   a.FileID,
					Name:     a.Name,
					MimeType: a.MimeType,
					Size:     a.Size,
					URL:      a.URL,
				})
			}

			data, err := rec.MarshalBinary()
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if err := chatBucket.Put(rec.Key(), data); err != nil {
				return fmt.Errorf("failed to put message: %w", err)
			}
		}
		return nil
	})
}

// ListMessages returns up to limit of the newest cached messages of a chat,
// oldest first. A limit of zero returns everything.
func (s *BboltStorage) ListMessages(chatID int64, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket(chatBucketName(chatID))
		if chatBucket == nil {
			return nil
		}

		c := chatBucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(messages) == limit {
				break
			}
			var rec DBMessage
			if err := rec.UnmarshalBinary(v); err != nil {
				return err
			}
			msg := models.Message{
				ID:         rec.ID,
				ChatID:     rec.ChatID,
				SenderID:   rec.SenderID,
				SenderName: rec.SenderName,
				Content:    rec.Content,
				SentAt:     fromUnixMilli(rec.SentAt),
				Read:       rec.Read,
			}
			for _, a := range rec.Attachments {
				msg.Attachments = append(msg.Attachments, models.Attachment{
					FileID:   a.FileID,
					Name:     a.Name,
					MimeType: a.MimeType,
					Size:     a.Size,
					URL:      a.URL,
				})
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Purge drops everything cached for the signed-in user.
func (s *BboltStorage) Purge() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSession, bucketChats, bucketMessages, bucketUploads} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func unixMilli(t models.Timestamp) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) models.Timestamp {
	if ms == 0 {
		return models.Timestamp{}
	}
	return models.NewTimestamp(time.UnixMilli(ms))
}
