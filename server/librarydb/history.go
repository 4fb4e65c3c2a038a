package librarydb

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// PushHistory records that the user viewed an album. One record per album,
// updated in place; empty fields on the incoming entry leave the stored
// value alone. A zero timestamp means "now".
func (lib *LibraryDB) PushHistory(user, albumID string, entry History) error {
	albumID = strings.TrimSpace(albumID)
	if user == "" || albumID == "" {
		return ErrInvalidInput
	}
	ts := entry.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return lib.DB.Transaction(func(tx *gorm.DB) error {
		rec := History{}
		err := tx.First(&rec, "user = ? AND album_id = ?", user, albumID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = History{User: user, AlbumID: albumID}
		} else if err != nil {
			return err
		}
		if entry.AlbumTitle != "" {
			rec.AlbumTitle = entry.AlbumTitle
		}
		if entry.PhotoID != "" {
			rec.PhotoID = entry.PhotoID
		}
		if entry.Title != "" {
			rec.Title = entry.Title
		}
		rec.Timestamp = ts
		return tx.Exec(`
			INSERT INTO history (user, album_id, album_title, photo_id, title, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user, album_id) DO UPDATE SET
				album_title = excluded.album_title,
				photo_id = excluded.photo_id,
				title = excluded.title,
				timestamp = excluded.timestamp`,
			user, albumID, rec.AlbumTitle, rec.PhotoID, rec.Title, rec.Timestamp).Error
	})
}

// ListHistory returns the user's most recently viewed albums, newest first.
func (lib *LibraryDB) ListHistory(user string, limit int) ([]History, error) {
	if limit < 1 {
		limit = 50
	}
	out := []History{}
	err := lib.DB.Where("user = ?", user).Order("timestamp DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Summary is the library overview the client shows on its home screen.
type Summary struct {
	History []History       `json:"history"`
	Folders []FolderSummary `json:"folders"`
}

func (lib *LibraryDB) Summary(user string) (*Summary, error) {
	history, err := lib.ListHistory(user, 12)
	if err != nil {
		return nil, err
	}
	folders, err := lib.ListFolders(user)
	if err != nil {
		return nil, err
	}
	return &Summary{History: history, Folders: folders}, nil
}
