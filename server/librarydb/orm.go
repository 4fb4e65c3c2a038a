package librarydb

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

type Folder struct {
	BaseModel
	User      string `json:"-"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"` // unix seconds
}

type FolderItem struct {
	FolderID int64  `json:"folderId"`
	AlbumID  string `json:"albumId"`
}

type Note struct {
	User      string `json:"-"`
	AlbumID   string `json:"albumId"`
	Tags      string `json:"-"` // JSON array of strings
	Note      string `json:"note"`
	UpdatedAt int64  `json:"updatedAt"` // unix seconds
}

type History struct {
	User       string `json:"-"`
	AlbumID    string `json:"album_id"`
	AlbumTitle string `json:"album_title" gorm:"default:null"`
	PhotoID    string `json:"photo_id" gorm:"default:null"`
	Title      string `json:"title" gorm:"default:null"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
}

type Profile struct {
	User      string `json:"-" gorm:"primaryKey"`
	Theme     string `json:"-"`         // JSON object
	Features  string `json:"-"`         // JSON object
	UpdatedAt int64  `json:"updatedAt"` // unix seconds
}
