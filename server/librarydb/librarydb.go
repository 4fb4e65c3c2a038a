// Package librarydb is the local per-user library mirror: folders of album
// ids, per-album notes and tags, reading history, and site-user profiles.
// It is the local side that the reconciliation engine pushes to the remote.
package librarydb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

var (
	ErrInvalidInput = errors.New("Invalid input")
	ErrNotFound     = errors.New("Not found")
)

type LibraryDB struct {
	Log logs.Log
	DB  *gorm.DB
}

func NewLibraryDB(logger logs.Log, dbFilename string) (*LibraryDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open library database %v: %w", dbFilename, err)
	}
	return &LibraryDB{
		Log: logger,
		DB:  db,
	}, nil
}

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE folder(
			id INTEGER PRIMARY KEY,
			user TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at INT NOT NULL
		);
		CREATE INDEX idx_folder_user ON folder (user);

		CREATE TABLE folder_item(
			folder_id INT NOT NULL,
			album_id TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_folder_item ON folder_item (folder_id, album_id);

		CREATE TABLE note(
			user TEXT NOT NULL,
			album_id TEXT NOT NULL,
			tags TEXT,
			note TEXT,
			updated_at INT NOT NULL
		);
		CREATE UNIQUE INDEX idx_note_user_album ON note (user, album_id);

		CREATE TABLE history(
			user TEXT NOT NULL,
			album_id TEXT NOT NULL,
			album_title TEXT,
			photo_id TEXT,
			title TEXT,
			timestamp INT NOT NULL
		);
		CREATE UNIQUE INDEX idx_history_user_album ON history (user, album_id);
		CREATE INDEX idx_history_user_timestamp ON history (user, timestamp);

		CREATE TABLE profile(
			user TEXT PRIMARY KEY,
			theme TEXT,
			features TEXT,
			updated_at INT NOT NULL
		);
	`))

	return migs
}

// PurgeUser removes every trace of the user from the mirror. Used when a
// site user unbinds their remote account or is deleted.
func (lib *LibraryDB) PurgeUser(user string) error {
	if user == "" {
		return ErrInvalidInput
	}
	return lib.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM folder_item WHERE folder_id IN (SELECT id FROM folder WHERE user = ?)", user).Error; err != nil {
			return err
		}
		for _, table := range []string{"folder", "note", "history", "profile"} {
			if err := tx.Exec("DELETE FROM "+table+" WHERE user = ?", user).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
