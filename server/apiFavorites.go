package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Tom6814/JM-Aura/server/jmapi"
	"github.com/Tom6814/JM-Aura/server/recon"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func sendJSONStatus(w http.ResponseWriter, status int, obj any) {
	b, err := json.Marshal(obj)
	www.Check(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

// checkRecon translates reconciliation errors into HTTP responses. The
// partial-outcome errors carry structure the frontend needs to explain what
// actually happened on the remote, so they become JSON bodies rather than
// plain-text panics. Returns true if err was sent as a response.
func (s *Server) checkRecon(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	var notApplied *recon.NotAppliedError
	var tooLarge *recon.TooLargeError
	var ambiguous *recon.AmbiguousError
	switch {
	case errors.Is(err, recon.ErrInvalidInput):
		www.PanicBadRequestf("%v", err)
	case errors.Is(err, recon.ErrNotAuthenticated):
		www.Panic(http.StatusUnauthorized, "Not logged in to JM")
	case errors.As(err, &tooLarge):
		sendJSONStatus(w, http.StatusConflict, map[string]any{
			"error":     "too_large_to_migrate",
			"folder_id": tooLarge.FolderID,
			"total":     tooLarge.Total,
		})
	case errors.As(err, &ambiguous):
		sendJSONStatus(w, http.StatusInternalServerError, map[string]any{
			"error":         "ambiguous",
			"detail":        ambiguous.Error(),
			"old_folder_id": ambiguous.OldFolderID,
			"new_folder_id": ambiguous.NewFolderID,
			"moved":         ambiguous.Moved,
		})
	case errors.As(err, &notApplied):
		sendJSONStatus(w, http.StatusBadGateway, map[string]any{
			"error":   "not_applied",
			"op":      notApplied.Op,
			"detail":  notApplied.Error(),
			"raw":     notApplied.Raw,
			"folders": notApplied.Folders,
		})
	default:
		s.checkUpstream(err)
	}
	return true
}

func (s *Server) httpFavoritesList(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	page := www.QueryInt(r, "page")
	if page < 1 {
		page = 1
	}
	folderID := www.QueryValue(r, "folder_id")
	result, err := s.jm.ListFavorites(r.Context(), id.Key, page, folderID)
	s.checkUpstream(err)
	www.SendJSON(w, result)
}

func (s *Server) httpFavoriteToggle(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		AlbumID string `json:"aid"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)
	// Detached from cancellation: once a mutation is in flight we finish it
	// even if the caller goes away. The ambient identity stays attached.
	raw, err := s.engine.ToggleFavorite(context.WithoutCancel(r.Context()), id.Key, req.AlbumID)
	if s.checkRecon(w, err) {
		return
	}
	www.SendJSONRaw(w, string(raw))
}

// httpFavoriteFolder is the folder mutation endpoint, dispatching on "type"
// the way the upstream's own favorite_folder call does.
func (s *Server) httpFavoriteFolder(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		Type       string `json:"type"`
		FolderID   string `json:"folder_id"`
		FolderName string `json:"folder_name"`
		AlbumID    string `json:"aid"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)

	ctx := context.WithoutCancel(r.Context())
	var result *recon.FolderResult
	var err error
	switch req.Type {
	case "add":
		result, err = s.engine.CreateFolder(ctx, id.Key, req.FolderName)
	case "del":
		result, err = s.engine.DeleteFolder(ctx, id.Key, req.FolderID)
	case "move":
		result, err = s.engine.MoveFavorite(ctx, id.Key, req.AlbumID, req.FolderID)
	case "rename":
		result, err = s.engine.RenameFolder(ctx, id.Key, req.FolderID, req.FolderName)
	default:
		www.PanicBadRequestf("Unknown folder operation '%v'", req.Type)
	}
	if s.checkRecon(w, err) {
		return
	}

	type response struct {
		Raw         json.RawMessage `json:"raw,omitempty"`
		Folders     []jmapi.Folder  `json:"folders,omitempty"`
		Emulated    bool            `json:"emulated,omitempty"`
		OldFolderID string          `json:"old_folder_id,omitempty"`
		NewFolderID string          `json:"new_folder_id,omitempty"`
	}
	www.SendJSON(w, response{
		Raw:         result.Raw,
		Folders:     result.Folders,
		Emulated:    result.Emulated,
		OldFolderID: result.OldFolderID,
		NewFolderID: result.NewFolderID,
	})
}
