package recon

import (
	"context"
	"fmt"

	"github.com/Tom6814/JM-Aura/server/jmapi"
)

// LocalFolder is one locally-tracked folder to be pushed to the remote.
type LocalFolder struct {
	ID       string
	Name     string
	AlbumIDs []string
}

// SyncResult summarizes one bulk push of local folders to remote favorites.
type SyncResult struct {
	CreatedFolders    int      `json:"created_folders"`
	AddedFavorites    int      `json:"added_favorites"`
	Moved             int      `json:"moved"`
	SkippedExisting   int      `json:"skipped_existing"`
	DuplicatesSkipped int      `json:"duplicates_skipped"`
	Errors            []string `json:"errors"`
}

const maxSyncErrors = 10

type remoteFavState struct {
	ids          map[string]bool
	folderByName map[string]string
	// members is filled lazily per folder, so repeat syncs can skip moves
	// for albums that are already filed where they belong
	members map[string]map[string]bool
}

// fetchRemoteState reads the full remote favorites: every album id across
// all pages, and the folder name -> id map (first occurrence wins).
func (e *Engine) fetchRemoteState(ctx context.Context, identityKey string) (*remoteFavState, error) {
	first, err := e.remote.ListFavorites(ctx, identityKey, 1, "0")
	if err != nil {
		return nil, err
	}
	st := &remoteFavState{
		ids:          map[string]bool{},
		folderByName: map[string]string{},
		members:      map[string]map[string]bool{},
	}
	for _, f := range first.Folders {
		if f.Name != "" && f.ID != "" {
			if _, ok := st.folderByName[f.Name]; !ok {
				st.folderByName[f.Name] = f.ID
			}
		}
	}
	pages := first.Pages
	if pages < 1 {
		pages = 1
	}
	if pages > maxSyncPages {
		pages = maxSyncPages
	}
	for page := 1; page <= pages; page++ {
		fp := first
		if page != 1 {
			fp, err = e.remote.ListFavorites(ctx, identityKey, page, "0")
			if err != nil {
				return nil, err
			}
		}
		for _, a := range fp.Albums {
			if a.ID != "" {
				st.ids[a.ID] = true
			}
		}
	}
	return st, nil
}

// folderMembers returns the album ids currently filed in a remote folder,
// fetching and caching them on first use.
func (e *Engine) folderMembers(ctx context.Context, identityKey string, st *remoteFavState, folderID string) (map[string]bool, error) {
	if m, ok := st.members[folderID]; ok {
		return m, nil
	}
	m := map[string]bool{}
	page := 1
	for {
		fp, err := e.remote.ListFavorites(ctx, identityKey, page, folderID)
		if err != nil {
			return nil, err
		}
		for _, a := range fp.Albums {
			if a.ID != "" {
				m[a.ID] = true
			}
		}
		if page >= fp.Pages || page >= maxSyncPages {
			break
		}
		page++
	}
	st.members[folderID] = m
	return m, nil
}

// createRemoteFolder creates a folder and resolves its id by polling the
// folder list. Returns "" when the folder never became visible.
func (e *Engine) createRemoteFolder(ctx context.Context, identityKey, name string) (string, error) {
	if _, err := e.remote.CreateFolder(ctx, identityKey, name); err != nil {
		return "", err
	}
	id := ""
	_, _, err := e.pollFolders(ctx, identityKey, pollAttempts, func(folders []jmapi.Folder) bool {
		for _, f := range folders {
			if f.Name == name && f.ID != "" {
				id = f.ID
				return true
			}
		}
		return false
	})
	return id, err
}

// SyncToRemote pushes local folders to the remote: resolve or create each
// folder by name, favorite every album not yet favorited, and file it into
// the folder. One item's failure never aborts the whole sync; at most the
// first ten error messages are reported.
func (e *Engine) SyncToRemote(ctx context.Context, identityKey string, local []LocalFolder, createMissing bool) (*SyncResult, error) {
	var result *SyncResult
	err := e.runAuthed(ctx, identityKey, func() error {
		remote, err := e.fetchRemoteState(ctx, identityKey)
		if err != nil {
			return err
		}

		res := &SyncResult{Errors: []string{}}
		processed := map[string]bool{}
		addError := func(msg string) {
			if len(res.Errors) < maxSyncErrors {
				res.Errors = append(res.Errors, msg)
			}
		}

		for _, folder := range local {
			if folder.Name == "" || len(folder.AlbumIDs) == 0 {
				continue
			}
			remoteID := remote.folderByName[folder.Name]
			if remoteID == "" && createMissing {
				id, err := e.createRemoteFolder(ctx, identityKey, folder.Name)
				if err != nil {
					if isUnauthorized(err) {
						return err
					}
					addError(fmt.Sprintf("create folder %q failed: %v", folder.Name, err))
					continue
				}
				if id != "" {
					remote.folderByName[folder.Name] = id
					remoteID = id
					res.CreatedFolders++
				}
			}

			for _, albumID := range folder.AlbumIDs {
				if albumID == "" {
					continue
				}
				if processed[albumID] {
					res.DuplicatesSkipped++
					continue
				}
				needsMove := remoteID != ""
				if !remote.ids[albumID] {
					if _, err := e.remote.ToggleFavorite(ctx, identityKey, albumID); err != nil {
						if isUnauthorized(err) {
							return err
						}
						addError(fmt.Sprintf("favorite %v failed: %v", albumID, err))
						continue
					}
					remote.ids[albumID] = true
					res.AddedFavorites++
				} else {
					res.SkippedExisting++
					if needsMove {
						// Already favorited: only move if it isn't filed
						// there yet, so repeat syncs are no-ops
						members, err := e.folderMembers(ctx, identityKey, remote, remoteID)
						if err != nil {
							if isUnauthorized(err) {
								return err
							}
							addError(fmt.Sprintf("list folder %v failed: %v", remoteID, err))
							continue
						}
						needsMove = !members[albumID]
					}
				}
				if needsMove {
					if _, err := e.remote.MoveFavorite(ctx, identityKey, albumID, remoteID); err != nil {
						if isUnauthorized(err) {
							return err
						}
						addError(fmt.Sprintf("move %v failed: %v", albumID, err))
						continue
					}
					res.Moved++
					if m, ok := remote.members[remoteID]; ok {
						m[albumID] = true
					}
				}
				processed[albumID] = true
			}
		}
		result = res
		return nil
	})
	return result, err
}
