package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Tom6814/JM-Aura/server/identity"
	"github.com/Tom6814/JM-Aura/server/vault"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// checkVault translates vault errors into HTTP panics.
func checkVault(err error) {
	switch {
	case err == nil:
	case errors.Is(err, vault.ErrAccountNotFound):
		www.PanicNotFound()
	case errors.Is(err, vault.ErrMissingCredential):
		www.PanicBadRequestf("Username and password are required")
	default:
		www.Check(err)
	}
}

func (s *Server) httpJMBinding(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	type response struct {
		HasSession     bool   `json:"hasSession"`
		HasCredentials bool   `json:"hasCredentials"`
		Active         string `json:"active,omitempty"`
	}
	www.SendJSON(w, response{
		HasSession:     len(s.sessions.CookieMap(id.Key)) != 0,
		HasCredentials: s.vault.HasCredentials(id.SiteUser),
		Active:         s.vault.ActiveUsername(id.SiteUser),
	})
}

// httpJMLogin authenticates against the upstream and, when asked, stores the
// credentials in the vault so the reconciliation engine can re-login on its
// own. Without savePassword the binding lives only as long as the cookies.
func (s *Server) httpJMLogin(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		Username     string `json:"username"`
		Password     string `json:"password"`
		SavePassword bool   `json:"savePassword"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		www.PanicBadRequestf("Username and password are required")
	}

	key := id.Key
	if req.SavePassword {
		// The stored account becomes active, so log in under the key that
		// future requests will resolve to.
		key = identity.Compose(id.SiteUser, req.Username)
	}
	res, err := s.jm.Login(r.Context(), key, req.Username, req.Password)
	s.checkUpstream(err)
	if req.SavePassword {
		checkVault(s.vault.SetCredentials(id.SiteUser, req.Username, req.Password))
	}

	type response struct {
		UID      string `json:"uid,omitempty"`
		Username string `json:"username"`
		Saved    bool   `json:"saved"`
	}
	www.SendJSON(w, response{UID: res.UID, Username: req.Username, Saved: req.SavePassword})
}

// httpJMUnbind drops the upstream session and all stored accounts. With
// purgeLibrary it also erases the local mirror, which is not recoverable.
func (s *Server) httpJMUnbind(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		PurgeLibrary bool `json:"purgeLibrary"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)

	s.sessions.Clear(id.Key)
	if id.Key != id.SiteUser {
		s.sessions.Clear(id.SiteUser)
	}
	www.Check(s.vault.ClearAll(id.SiteUser))
	if req.PurgeLibrary {
		www.Check(s.library.PurgeUser(id.SiteUser))
	}
	www.SendOK(w)
}

func (s *Server) httpJMAccountList(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	www.SendJSON(w, s.vault.ListAccounts(id.SiteUser))
}

func (s *Server) httpJMAccountSet(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := loginRequest{}
	www.ReadJSON(w, r, &req, 1024*1024)
	checkVault(s.vault.SetCredentials(id.SiteUser, strings.TrimSpace(req.Username), req.Password))
	www.SendJSON(w, s.vault.ListAccounts(id.SiteUser))
}

// httpJMAccountSwitch makes another stored account active, and tries its
// stored credentials right away so the switch is usable without a separate
// login round trip.
func (s *Server) httpJMAccountSwitch(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		Username string `json:"username"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)
	checkVault(s.vault.SetActive(id.SiteUser, req.Username))

	key := identity.Compose(id.SiteUser, req.Username)
	loggedIn := false
	if len(s.sessions.CookieMap(key)) != 0 {
		loggedIn = true
	} else if s.reloginFromVault(r.Context(), key) {
		loggedIn = true
	}

	type response struct {
		vault.AccountList
		LoggedIn bool `json:"loggedIn"`
	}
	www.SendJSON(w, response{AccountList: s.vault.ListAccounts(id.SiteUser), LoggedIn: loggedIn})
}

func (s *Server) httpJMAccountRemove(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	req := struct {
		Username string `json:"username"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)
	checkVault(s.vault.RemoveAccount(id.SiteUser, req.Username))
	s.sessions.Clear(identity.Compose(id.SiteUser, req.Username))
	www.SendJSON(w, s.vault.ListAccounts(id.SiteUser))
}
