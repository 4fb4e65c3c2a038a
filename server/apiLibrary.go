package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Tom6814/JM-Aura/server/librarydb"
	"github.com/Tom6814/JM-Aura/server/recon"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// checkLibrary translates librarydb errors into HTTP panics.
func checkLibrary(err error) {
	switch {
	case err == nil:
	case errors.Is(err, librarydb.ErrNotFound):
		www.PanicNotFound()
	case errors.Is(err, librarydb.ErrInvalidInput):
		www.PanicBadRequestf("%v", err)
	default:
		www.Check(err)
	}
}

func (s *Server) httpLibrarySummary(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	summary, err := s.library.Summary(id.SiteUser)
	www.Check(err)
	www.SendJSON(w, summary)
}

func (s *Server) httpLibraryHistoryList(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	limit := www.QueryInt(r, "limit")
	history, err := s.library.ListHistory(id.SiteUser, limit)
	www.Check(err)
	www.SendJSON(w, history)
}

func (s *Server) httpLibraryHistoryPush(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	entry := librarydb.History{}
	www.ReadJSON(w, r, &entry, 1024*1024)
	checkLibrary(s.library.PushHistory(id.SiteUser, entry.AlbumID, entry))
	www.SendOK(w)
}

func (s *Server) httpLibraryFolders(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	folders, err := s.library.ListFolders(id.SiteUser)
	www.Check(err)
	www.SendJSON(w, folders)
}

func (s *Server) httpLibraryFolderCreate(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		Name string `json:"name"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)
	folder, err := s.library.CreateFolder(id.SiteUser, req.Name)
	checkLibrary(err)
	www.SendJSON(w, librarydb.FolderSummary{ID: folder.ID, Name: folder.Name})
}

func (s *Server) httpLibraryFolderRename(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		FolderID int64  `json:"folder_id"`
		Name     string `json:"name"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)
	checkLibrary(s.library.RenameFolder(id.SiteUser, req.FolderID, req.Name))
	www.SendOK(w)
}

func (s *Server) httpLibraryFolderDelete(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		FolderID int64 `json:"folder_id"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)
	checkLibrary(s.library.DeleteFolder(id.SiteUser, req.FolderID))
	www.SendOK(w)
}

func (s *Server) httpLibraryFolderToggle(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		FolderID int64  `json:"folder_id"`
		AlbumID  string `json:"album_id"`
		Present  bool   `json:"present"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)
	checkLibrary(s.library.ToggleFolderItem(id.SiteUser, req.FolderID, req.AlbumID, req.Present))
	www.SendOK(w)
}

func (s *Server) httpLibraryNoteGet(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	albumID := www.RequiredQueryValue(r, "album_id")
	note, err := s.library.GetNote(id.SiteUser, albumID)
	www.Check(err)
	www.SendJSON(w, note)
}

func (s *Server) httpLibraryNoteSet(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		AlbumID string   `json:"album_id"`
		Tags    []string `json:"tags"` // null leaves tags alone
		Note    *string  `json:"note"` // null leaves the text alone
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)
	checkLibrary(s.library.SetNote(id.SiteUser, req.AlbumID, req.Tags, req.Note))
	note, err := s.library.GetNote(id.SiteUser, req.AlbumID)
	www.Check(err)
	www.SendJSON(w, note)
}

// httpLibrarySyncToJM pushes local folders up to the remote favorites.
// Runs synchronously; large libraries take a while because of the remote's
// convergence polling.
func (s *Server) httpLibrarySyncToJM(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		FolderIDs            []int64 `json:"folder_ids"` // empty means all
		CreateMissingFolders bool    `json:"create_missing_folders"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)

	folders, err := s.library.ListFoldersWithAlbumIDs(id.SiteUser)
	www.Check(err)
	wanted := map[int64]bool{}
	for _, fid := range req.FolderIDs {
		wanted[fid] = true
	}
	local := []recon.LocalFolder{}
	for _, f := range folders {
		if len(wanted) != 0 && !wanted[f.ID] {
			continue
		}
		local = append(local, recon.LocalFolder{
			ID:       strconv.FormatInt(f.ID, 10),
			Name:     f.Name,
			AlbumIDs: f.AlbumIDs,
		})
	}
	if len(local) == 0 {
		www.PanicBadRequestf("No folders to sync")
	}

	result, err := s.engine.SyncToRemote(context.WithoutCancel(r.Context()), id.Key, local, req.CreateMissingFolders)
	if s.checkRecon(w, err) {
		return
	}
	www.SendJSON(w, result)
}
