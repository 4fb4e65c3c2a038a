// Package recon reconciles local folder state against a remote favorites
// service that offers only add/delete/move primitives, with no rename and
// no read-after-write consistency for structural changes. Every mutation
// is followed by convergence polling, and rename is emulated when the
// remote's own rename calls do not take effect.
package recon

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/Tom6814/JM-Aura/server/jmapi"
	"github.com/cyclopcam/logs"
)

// Remote is the slice of the upstream client that the engine drives.
// *jmapi.Client satisfies it.
type Remote interface {
	ListFavorites(ctx context.Context, identityKey string, page int, folderID string) (*jmapi.FavoritesPage, error)
	CreateFolder(ctx context.Context, identityKey, name string) (json.RawMessage, error)
	DeleteFolder(ctx context.Context, identityKey, folderID string) (json.RawMessage, error)
	RenameFolder(ctx context.Context, identityKey, folderID, name string, variant jmapi.RenameVariant) (json.RawMessage, error)
	MoveFavorite(ctx context.Context, identityKey, albumID, folderID string) (json.RawMessage, error)
	ToggleFavorite(ctx context.Context, identityKey, albumID string) (json.RawMessage, error)
}

// ReloginFunc re-authenticates an identity from stored credentials.
// Returns whether a retry of the failed operation is worthwhile.
type ReloginFunc func(ctx context.Context, identityKey string) bool

const (
	pollAttempts      = 4
	verifyAttempts    = 6 // final emulation check gets a longer budget
	networkErrBudget  = 2
	migrationMaxItems = 220
	maxSyncPages      = 80
)

type Engine struct {
	log     logs.Log
	remote  Remote
	relogin ReloginFunc

	// PollInterval is the fixed sleep between convergence polls.
	PollInterval time.Duration
}

func NewEngine(log logs.Log, remote Remote, relogin ReloginFunc) *Engine {
	return &Engine{
		log:          log,
		remote:       remote,
		relogin:      relogin,
		PollInterval: 300 * time.Millisecond,
	}
}

func isUnauthorized(err error) bool {
	return errors.Is(err, jmapi.ErrUnauthorized)
}

// runAuthed runs op, and on an upstream 401 attempts exactly one re-login
// from stored credentials followed by a single retry. A second 401, or a
// 401 with no way to re-login, surfaces as ErrNotAuthenticated.
func (e *Engine) runAuthed(ctx context.Context, identityKey string, op func() error) error {
	err := op()
	if err == nil || !isUnauthorized(err) {
		return err
	}
	if e.relogin != nil && e.relogin(ctx, identityKey) {
		e.log.Infof("Re-authenticated %v after upstream 401, retrying", identityKey)
		err = op()
		if err == nil || !isUnauthorized(err) {
			return err
		}
	}
	return ErrNotAuthenticated
}

// pollFolders lists the root folder set up to `attempts` times, until pred
// accepts it. Network errors are tolerated up to a small budget, but a 401
// is always fatal. Returns the last folder set seen and whether pred held.
func (e *Engine) pollFolders(ctx context.Context, identityKey string, attempts int, pred func([]jmapi.Folder) bool) ([]jmapi.Folder, bool, error) {
	var folders []jmapi.Folder
	netErrs := 0
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(e.PollInterval)
		}
		page, err := e.remote.ListFavorites(ctx, identityKey, 1, "0")
		if err != nil {
			if isUnauthorized(err) {
				return folders, false, err
			}
			netErrs++
			lastErr = err
			if netErrs >= networkErrBudget {
				break
			}
			continue
		}
		folders = page.Folders
		if pred(folders) {
			return folders, true, nil
		}
	}
	if lastErr != nil {
		e.log.Warnf("Convergence poll gave up after %v network errors: %v", netErrs, lastErr)
	}
	return folders, false, nil
}

func findFolder(folders []jmapi.Folder, id string) *jmapi.Folder {
	for i := range folders {
		if folders[i].ID == id {
			return &folders[i]
		}
	}
	return nil
}

func hasFolderNamed(folders []jmapi.Folder, name string) bool {
	for _, f := range folders {
		if f.Name == name {
			return true
		}
	}
	return false
}

// FolderResult is the outcome of a confirmed structural operation.
type FolderResult struct {
	Raw         json.RawMessage `json:"result"`
	Folders     []jmapi.Folder  `json:"folders"`
	Emulated    bool            `json:"emulated,omitempty"`
	OldFolderID string          `json:"oldFolderId,omitempty"`
	NewFolderID string          `json:"newFolderId,omitempty"`
}

// CreateFolder issues the create and polls until a folder with that name
// shows up in listings.
func (e *Engine) CreateFolder(ctx context.Context, identityKey, name string) (*FolderResult, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}
	var result *FolderResult
	err := e.runAuthed(ctx, identityKey, func() error {
		raw, err := e.remote.CreateFolder(ctx, identityKey, name)
		if err != nil {
			return err
		}
		folders, ok, err := e.pollFolders(ctx, identityKey, pollAttempts, func(f []jmapi.Folder) bool {
			return hasFolderNamed(f, name)
		})
		if err != nil {
			return err
		}
		if !ok {
			return &NotAppliedError{Op: "folder create", Raw: raw, Folders: folders}
		}
		result = &FolderResult{Raw: raw, Folders: folders}
		return nil
	})
	return result, err
}

// DeleteFolder issues the delete and polls until the id is gone.
func (e *Engine) DeleteFolder(ctx context.Context, identityKey, folderID string) (*FolderResult, error) {
	if folderID == "" || folderID == "0" {
		return nil, ErrInvalidInput
	}
	var result *FolderResult
	err := e.runAuthed(ctx, identityKey, func() error {
		raw, err := e.remote.DeleteFolder(ctx, identityKey, folderID)
		if err != nil {
			return err
		}
		folders, ok, err := e.pollFolders(ctx, identityKey, pollAttempts, func(f []jmapi.Folder) bool {
			return findFolder(f, folderID) == nil
		})
		if err != nil {
			return err
		}
		if !ok {
			return &NotAppliedError{Op: "folder delete", Raw: raw, Folders: folders}
		}
		result = &FolderResult{Raw: raw, Folders: folders}
		return nil
	})
	return result, err
}

// MoveFavorite files an album into a folder. The remote applies moves
// synchronously enough that no convergence poll is needed.
func (e *Engine) MoveFavorite(ctx context.Context, identityKey, albumID, folderID string) (*FolderResult, error) {
	if albumID == "" {
		return nil, ErrInvalidInput
	}
	var result *FolderResult
	err := e.runAuthed(ctx, identityKey, func() error {
		raw, err := e.remote.MoveFavorite(ctx, identityKey, albumID, folderID)
		if err != nil {
			return err
		}
		result = &FolderResult{Raw: raw}
		return nil
	})
	return result, err
}

// ToggleFavorite flips an album's favorited state.
func (e *Engine) ToggleFavorite(ctx context.Context, identityKey, albumID string) (json.RawMessage, error) {
	if albumID == "" {
		return nil, ErrInvalidInput
	}
	var raw json.RawMessage
	err := e.runAuthed(ctx, identityKey, func() error {
		var err error
		raw, err = e.remote.ToggleFavorite(ctx, identityKey, albumID)
		return err
	})
	return raw, err
}

// RenameFolder tries both upstream rename call variants, polls for the name
// change, and if the remote never applies it, emulates the rename with
// create + move-all + delete.
func (e *Engine) RenameFolder(ctx context.Context, identityKey, folderID, name string) (*FolderResult, error) {
	if folderID == "" || folderID == "0" || name == "" {
		return nil, ErrInvalidInput
	}
	var result *FolderResult
	err := e.runAuthed(ctx, identityKey, func() error {
		raw, err := e.remote.RenameFolder(ctx, identityKey, folderID, name, jmapi.RenamePrimary)
		if err != nil {
			return err
		}
		if jmapi.StatusFailed(raw) {
			raw2, err := e.remote.RenameFolder(ctx, identityKey, folderID, name, jmapi.RenameSecondary)
			if err != nil {
				return err
			}
			if !jmapi.StatusFailed(raw2) {
				raw = raw2
			}
		}
		folders, ok, err := e.pollFolders(ctx, identityKey, pollAttempts, func(f []jmapi.Folder) bool {
			fr := findFolder(f, folderID)
			return fr != nil && fr.Name == name
		})
		if err != nil {
			return err
		}
		if ok {
			result = &FolderResult{Raw: raw, Folders: folders}
			return nil
		}
		result, err = e.emulateRename(ctx, identityKey, folderID, name, raw)
		return err
	})
	return result, err
}

// emulateRename performs rename as create-new + move-every-item + delete-old,
// verifying each stage by polling. Items are migrated only when the old
// folder is small enough to move completely; a partial migration is worse
// than no rename at all.
func (e *Engine) emulateRename(ctx context.Context, identityKey, oldID, name string, renameRaw json.RawMessage) (*FolderResult, error) {
	e.log.Infof("Upstream rename of folder %v did not converge, emulating", oldID)
	addRaw, err := e.remote.CreateFolder(ctx, identityKey, name)
	if err != nil {
		return nil, err
	}
	// Resolve the new folder id: same name, different id, highest id wins
	// when the name is duplicated.
	newID := ""
	_, _, err = e.pollFolders(ctx, identityKey, pollAttempts, func(f []jmapi.Folder) bool {
		best := -1
		for _, fr := range f {
			if fr.Name != name || fr.ID == oldID {
				continue
			}
			if n, err := strconv.Atoi(fr.ID); err == nil && n > best {
				best = n
				newID = fr.ID
			} else if newID == "" {
				newID = fr.ID
			}
		}
		return newID != ""
	})
	if err != nil {
		return nil, err
	}
	if newID == "" {
		return nil, &NotAppliedError{Op: "rename fallback create", Raw: addRaw, Cause: "new folder never appeared"}
	}

	first, err := e.remote.ListFavorites(ctx, identityKey, 1, oldID)
	if err != nil {
		return nil, err
	}
	if first.Total > migrationMaxItems {
		return nil, &TooLargeError{FolderID: oldID, Total: first.Total}
	}

	// Snapshot every item id before moving anything: moving while paging
	// would shift the pages under us.
	albumIDs := []string{}
	page := first
	for pageNum := 1; ; pageNum++ {
		if pageNum != 1 {
			page, err = e.remote.ListFavorites(ctx, identityKey, pageNum, oldID)
			if err != nil {
				if isUnauthorized(err) {
					return nil, err
				}
				return nil, &AmbiguousError{OldFolderID: oldID, NewFolderID: newID, Moved: 0, Cause: err.Error()}
			}
		}
		for _, album := range page.Albums {
			if album.ID != "" && len(albumIDs) < migrationMaxItems {
				albumIDs = append(albumIDs, album.ID)
			}
		}
		if pageNum >= page.Pages || len(page.Albums) == 0 || len(albumIDs) >= migrationMaxItems {
			break
		}
	}

	moved := 0
	for _, albumID := range albumIDs {
		if _, err := e.remote.MoveFavorite(ctx, identityKey, albumID, newID); err != nil {
			if isUnauthorized(err) {
				return nil, err
			}
			return nil, &AmbiguousError{OldFolderID: oldID, NewFolderID: newID, Moved: moved, Cause: err.Error()}
		}
		moved++
	}

	if _, err := e.remote.DeleteFolder(ctx, identityKey, oldID); err != nil {
		if isUnauthorized(err) {
			return nil, err
		}
		return nil, &AmbiguousError{OldFolderID: oldID, NewFolderID: newID, Moved: moved, Cause: err.Error()}
	}

	folders, ok, err := e.pollFolders(ctx, identityKey, verifyAttempts, func(f []jmapi.Folder) bool {
		return findFolder(f, oldID) == nil && findFolder(f, newID) != nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &AmbiguousError{OldFolderID: oldID, NewFolderID: newID, Moved: moved, Cause: "final state not confirmed"}
	}
	return &FolderResult{
		Raw:         renameRaw,
		Folders:     folders,
		Emulated:    true,
		OldFolderID: oldID,
		NewFolderID: newID,
	}, nil
}
