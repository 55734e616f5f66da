package storage

import (
	"athena/internal/models"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// DBUpload records a file this client uploaded.
type DBUpload struct {
	FileID     string `msgpack:"fileId"`
	ChatID     int64  `msgpack:"chatId"`
	Name       string `msgpack:"name"`
	MimeType   string `msgpack:"mimeType"`
	Size       int64  `msgpack:"size"`
	URL        string `msgpack:"url"`
	UploadedAt int64  `msgpack:"uploadedAt"`
}

func (f *DBUpload) Key() []byte {
	return []byte(f.FileID)
}

func (f *DBUpload) MarshalBinary() (data []byte, err error) {
	type alias DBUpload
	return msgpack.Marshal((*alias)(f))
}

func (f *DBUpload) UnmarshalBinary(data []byte) error {
	type alias DBUpload
	return msgpack.Unmarshal(data, (*alias)(f))
}

// Upload is an attachment sent from this client.
type Upload struct {
	models.Attachment
	ChatID     int64
	UploadedAt time.Time
}

func (s *BboltStorage) UpsertUpload(u Upload) error {
	if u.FileID == "" {
		return fmt.Errorf("upload %q has no file id", u.Name)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUploads)
		rec := DBUpload{
			FileID:     u.FileID,
			ChatID:     u.ChatID,
			Name:       u.Name,
			MimeType:   u.MimeType,
			Size:       u.Size,
			URL:        u.URL,
			UploadedAt: u.UploadedAt.UnixMilli(),
		}
		data, err := rec.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal upload: %w", err)
		}
		return b.Put(rec.Key(), data)
	})
}

// ListUploads returns the uploads made to chatID.
func (s *BboltStorage) ListUploads(chatID int64) ([]Upload, error) {
	var uploads []Upload
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUploads)
		return b.ForEach(func(k, v []byte) error {
			var rec DBUpload
			if err := rec.UnmarshalBinary(v); err != nil {
				return err
			}
			if rec.ChatID != chatID {
				return nil
			}
			uploads = append(uploads, Upload{
				Attachment: models.Attachment{
					FileID:   rec.FileID,
					Name:     rec.Name,
					MimeType: rec.MimeType,
					Size:     rec.Size,
					URL:      rec.URL,
				},
				ChatID:     rec.ChatID,
				UploadedAt: time.UnixMilli(rec.UploadedAt),
			})
			return nil
		})
	})
	return uploads, err
}
