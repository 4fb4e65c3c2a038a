package librarydb

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	maxTagsPerAlbum = 20
	maxTagLength    = 24
	maxNoteLength   = 2000
)

// NoteContent is the JSON-facing shape of one album's note record.
type NoteContent struct {
	AlbumID   string   `json:"album_id"`
	Tags      []string `json:"tags"`
	Note      string   `json:"note"`
	UpdatedAt int64    `json:"updated_at"`
}

// cleanTags trims, drops over-length tags, de-duplicates preserving order,
// and caps the list length.
func cleanTags(tags []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || len(t) > maxTagLength || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) >= maxTagsPerAlbum {
			break
		}
	}
	return out
}

// SetNote patches an album's note record. A nil tags slice leaves the
// stored tags alone; a nil note pointer leaves the note text alone.
func (lib *LibraryDB) SetNote(user, albumID string, tags []string, note *string) error {
	albumID = strings.TrimSpace(albumID)
	if user == "" || albumID == "" {
		return ErrInvalidInput
	}
	return lib.DB.Transaction(func(tx *gorm.DB) error {
		rec := Note{}
		err := tx.First(&rec, "user = ? AND album_id = ?", user, albumID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = Note{User: user, AlbumID: albumID}
		} else if err != nil {
			return err
		}
		if tags != nil {
			raw, err := json.Marshal(cleanTags(tags))
			if err != nil {
				return err
			}
			rec.Tags = string(raw)
		}
		if note != nil {
			n := *note
			if len(n) > maxNoteLength {
				n = n[:maxNoteLength]
			}
			rec.Note = n
		}
		rec.UpdatedAt = time.Now().Unix()
		return tx.Exec(`
			INSERT INTO note (user, album_id, tags, note, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user, album_id) DO UPDATE SET
				tags = excluded.tags,
				note = excluded.note,
				updated_at = excluded.updated_at`,
			user, albumID, rec.Tags, rec.Note, rec.UpdatedAt).Error
	})
}

// GetNote returns the album's note record, or an empty one if none exists.
func (lib *LibraryDB) GetNote(user, albumID string) (*NoteContent, error) {
	albumID = strings.TrimSpace(albumID)
	out := &NoteContent{AlbumID: albumID, Tags: []string{}}
	if user == "" || albumID == "" {
		return out, nil
	}
	rec := Note{}
	err := lib.DB.First(&rec, "user = ? AND album_id = ?", user, albumID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, nil
	} else if err != nil {
		return nil, err
	}
	if rec.Tags != "" {
		if err := json.Unmarshal([]byte(rec.Tags), &out.Tags); err != nil {
			out.Tags = []string{}
		}
	}
	out.Note = rec.Note
	out.UpdatedAt = rec.UpdatedAt
	return out, nil
}
