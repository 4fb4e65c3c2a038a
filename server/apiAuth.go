package server

import (
	"net/http"

	"github.com/Tom6814/JM-Aura/server/auth"
	"github.com/Tom6814/JM-Aura/server/identity"
	"github.com/Tom6814/JM-Aura/server/librarydb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

// Registration is open; the first user ever to register becomes the admin.
func (s *Server) httpSiteRegister(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := loginRequest{}
	www.ReadJSON(w, r, &req, 1024*1024)
	admin := !s.auth.HasAnyUser()
	www.CheckClient(s.auth.CreateUser(req.Username, req.Password, admin))
	s.finishLogin(w, r, auth.NormalizeUsername(req.Username))
}

func (s *Server) httpSiteLogin(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := loginRequest{}
	www.ReadJSON(w, r, &req, 1024*1024)
	if !s.auth.VerifyUser(req.Username, req.Password) {
		// One message for bad username and bad password
		www.Panic(http.StatusUnauthorized, "Login failed")
	}
	s.finishLogin(w, r, auth.NormalizeUsername(req.Username))
}

func (s *Server) finishLogin(w http.ResponseWriter, r *http.Request, username string) {
	token, err := s.auth.CreateSession(username)
	www.Check(err)
	s.setSessionCookie(w, r, token, int(auth.SessionTTL.Seconds()))
	// Pick up a pre-account shared cookie jar, if one is still around.
	key := username
	if active := s.vault.ActiveUsername(username); active != "" {
		key = identity.Compose(username, active)
	}
	if s.sessions.MigrateLegacy(key) {
		s.Log.Infof("Migrated legacy upstream session to %v", identity.Sanitize(key))
	}
	type response struct {
		Username string `json:"username"`
		IsAdmin  bool   `json:"isAdmin"`
	}
	www.SendJSON(w, response{Username: username, IsAdmin: s.auth.IsAdmin(username)})
}

func (s *Server) httpSiteLogout(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if cookie, _ := r.Cookie(auth.SessionCookie); cookie != nil {
		s.auth.ClearSession(cookie.Value)
	}
	s.setSessionCookie(w, r, "", -1)
	www.SendOK(w)
}

func (s *Server) httpSiteMe(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type response struct {
		IsAuthenticated bool   `json:"isAuthenticated"`
		Username        string `json:"username,omitempty"`
		IsAdmin         bool   `json:"isAdmin,omitempty"`
	}
	user := s.auth.CurrentUser(r)
	if user == "" {
		www.SendJSON(w, response{})
		return
	}
	www.SendJSON(w, response{IsAuthenticated: true, Username: user, IsAdmin: s.auth.IsAdmin(user)})
}

// httpSiteStatus tells a fresh frontend whether this is a first run, before
// any identity exists.
func (s *Server) httpSiteStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type response struct {
		HasUsers bool `json:"hasUsers"`
	}
	www.SendJSON(w, response{HasUsers: s.auth.HasAnyUser()})
}

func (s *Server) httpSiteAdminCreateUser(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	if !s.auth.IsAdmin(id.SiteUser) {
		www.PanicForbidden()
	}
	req := struct {
		loginRequest
		IsAdmin bool `json:"isAdmin"`
	}{}
	www.ReadJSON(w, r, &req, 1024*1024)
	www.CheckClient(s.auth.CreateUser(req.Username, req.Password, req.IsAdmin))
	www.SendOK(w)
}

func (s *Server) httpSiteProfileGet(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	profile, err := s.library.GetProfile(id.SiteUser)
	www.Check(err)
	www.SendJSON(w, profile)
}

func (s *Server) httpSiteProfilePatch(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity) {
	patch := librarydb.ProfilePatch{}
	www.ReadJSON(w, r, &patch, 1024*1024)
	profile, err := s.library.PatchProfile(id.SiteUser, patch)
	www.Check(err)
	www.SendJSON(w, profile)
}
