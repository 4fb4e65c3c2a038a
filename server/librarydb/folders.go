package librarydb

import (
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// FolderSummary is a folder with its item count, for listings.
type FolderSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// FolderContents is a folder with its full album id set, for sync.
type FolderContents struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	AlbumIDs []string `json:"album_ids"`
	Count    int      `json:"count"`
}

func (lib *LibraryDB) CreateFolder(user, name string) (*Folder, error) {
	name = strings.TrimSpace(name)
	if user == "" || name == "" {
		return nil, ErrInvalidInput
	}
	folder := Folder{
		User:      user,
		Name:      name,
		CreatedAt: time.Now().Unix(),
	}
	if err := lib.DB.Create(&folder).Error; err != nil {
		return nil, err
	}
	return &folder, nil
}

// getFolder fetches a folder, enforcing that it belongs to the user.
func (lib *LibraryDB) getFolder(user string, folderID int64) (*Folder, error) {
	folder := Folder{}
	err := lib.DB.First(&folder, "id = ? AND user = ?", folderID, user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &folder, nil
}

func (lib *LibraryDB) RenameFolder(user string, folderID int64, name string) error {
	name = strings.TrimSpace(name)
	if user == "" || name == "" {
		return ErrInvalidInput
	}
	folder, err := lib.getFolder(user, folderID)
	if err != nil {
		return err
	}
	folder.Name = name
	return lib.DB.Save(folder).Error
}

func (lib *LibraryDB) DeleteFolder(user string, folderID int64) error {
	if user == "" {
		return ErrInvalidInput
	}
	return lib.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM folder_item WHERE folder_id IN (SELECT id FROM folder WHERE id = ? AND user = ?)", folderID, user).Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM folder WHERE id = ? AND user = ?", folderID, user).Error
	})
}

// ToggleFolderItem adds or removes one album from a folder.
func (lib *LibraryDB) ToggleFolderItem(user string, folderID int64, albumID string, present bool) error {
	albumID = strings.TrimSpace(albumID)
	if user == "" || albumID == "" {
		return ErrInvalidInput
	}
	if _, err := lib.getFolder(user, folderID); err != nil {
		return err
	}
	if present {
		return lib.DB.Exec("INSERT OR IGNORE INTO folder_item (folder_id, album_id) VALUES (?, ?)", folderID, albumID).Error
	}
	return lib.DB.Exec("DELETE FROM folder_item WHERE folder_id = ? AND album_id = ?", folderID, albumID).Error
}

// ListFolders returns the user's folders with item counts, sorted by name.
func (lib *LibraryDB) ListFolders(user string) ([]FolderSummary, error) {
	out := []FolderSummary{}
	err := lib.DB.Raw(`
		SELECT folder.id AS id, folder.name AS name, COUNT(folder_item.album_id) AS count
		FROM folder
		LEFT JOIN folder_item ON folder_item.folder_id = folder.id
		WHERE folder.user = ?
		GROUP BY folder.id
		ORDER BY folder.name`, user).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListFoldersWithAlbumIDs returns the user's folders with their full album
// id sets (sorted), name-sorted like ListFolders.
func (lib *LibraryDB) ListFoldersWithAlbumIDs(user string) ([]FolderContents, error) {
	folders := []Folder{}
	if err := lib.DB.Where("user = ?", user).Order("name").Find(&folders).Error; err != nil {
		return nil, err
	}
	out := make([]FolderContents, 0, len(folders))
	for _, f := range folders {
		ids := []string{}
		if err := lib.DB.Table("folder_item").Where("folder_id = ?", f.ID).Pluck("album_id", &ids).Error; err != nil {
			return nil, err
		}
		sort.Strings(ids)
		out = append(out, FolderContents{
			ID:       f.ID,
			Name:     f.Name,
			AlbumIDs: ids,
			Count:    len(ids),
		})
	}
	return out, nil
}
