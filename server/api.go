package server

import (
	"errors"
	"net/http"

	"github.com/Tom6814/JM-Aura/server/auth"
	"github.com/Tom6814/JM-Aura/server/identity"
	"github.com/Tom6814/JM-Aura/server/jmapi"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

const guestCookieMaxAge = 365 * 24 * 3600

// Identity is the resolved acting identity of one request.
type Identity struct {
	// SiteUser is the authenticated site username, or the guest identity
	// ("g:<id>") when the request carries no session.
	SiteUser string
	// Key scopes upstream sessions, cookie jars and credentials. For an
	// authenticated user with a bound remote account it is the composed
	// form "user#jm#remoteuser"; otherwise it equals SiteUser.
	Key             string
	IsAuthenticated bool
}

type identityHandler func(w http.ResponseWriter, r *http.Request, params httprouter.Params, id *Identity)

// resolveIdentity determines who this request acts as, mints a guest cookie
// when the caller has no identity yet, and stamps the request context so
// downstream code can recover the identity without parameter threading.
func (s *Server) resolveIdentity(w http.ResponseWriter, r *http.Request) (*Identity, *http.Request) {
	user, isAuth, newGuestID := s.auth.EffectiveIdentity(r)
	if newGuestID != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     auth.GuestCookie,
			Value:    newGuestID,
			Path:     "/",
			MaxAge:   guestCookieMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   r.TLS != nil,
		})
	}
	key := user
	if isAuth {
		if active := s.vault.ActiveUsername(user); active != "" {
			key = identity.Compose(user, active)
		}
	}
	id := &Identity{SiteUser: user, Key: key, IsAuthenticated: isAuth}
	ctx := identity.WithKey(identity.WithSiteUser(r.Context(), user), key)
	return id, r.WithContext(ctx)
}

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	// identified handlers accept guests: anybody gets an identity, and with
	// it their own upstream session and cookie jar.
	identified := func(method, route string, handle identityHandler) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			id, r2 := s.resolveIdentity(w, r)
			handle(w, r2, params, id)
		})
	}

	// protected handlers require an authenticated site user.
	protected := func(method, route string, handle identityHandler) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			id, r2 := s.resolveIdentity(w, r)
			if !id.IsAuthenticated {
				www.PanicUnauthorized()
			}
			handle(w, r2, params, id)
		})
	}

	// unprotected handlers run before any identity exists. The allow-list
	// check means the route table can't silently drift from auth.AllowPath.
	unprotected := func(method, route string, handle httprouter.Handle) {
		if !auth.AllowPath(route) {
			panic("unprotected route not in allow-list: " + route)
		}
		www.Handle(s.Log, router, method, route, handle)
	}

	unprotected("GET", "/api/ping", s.httpPing)

	unprotected("POST", "/api/site/register", s.httpSiteRegister)
	unprotected("POST", "/api/site/login", s.httpSiteLogin)
	unprotected("POST", "/api/site/logout", s.httpSiteLogout)
	unprotected("GET", "/api/site/me", s.httpSiteMe)
	unprotected("GET", "/api/site/status", s.httpSiteStatus)
	protected("POST", "/api/site/admin/users", s.httpSiteAdminCreateUser)
	protected("GET", "/api/site/profile", s.httpSiteProfileGet)
	protected("POST", "/api/site/profile", s.httpSiteProfilePatch)

	protected("GET", "/api/jm/binding", s.httpJMBinding)
	protected("POST", "/api/jm/login", s.httpJMLogin)
	protected("POST", "/api/jm/unbind", s.httpJMUnbind)
	protected("GET", "/api/jm/accounts", s.httpJMAccountList)
	protected("POST", "/api/jm/accounts", s.httpJMAccountSet)
	protected("POST", "/api/jm/accounts/switch", s.httpJMAccountSwitch)
	protected("POST", "/api/jm/accounts/remove", s.httpJMAccountRemove)

	identified("GET", "/api/favorites", s.httpFavoritesList)
	identified("POST", "/api/favorite", s.httpFavoriteToggle)
	identified("POST", "/api/favorite_folder", s.httpFavoriteFolder)

	protected("GET", "/api/library/summary", s.httpLibrarySummary)
	protected("GET", "/api/library/history", s.httpLibraryHistoryList)
	protected("POST", "/api/library/history", s.httpLibraryHistoryPush)
	protected("GET", "/api/library/folders", s.httpLibraryFolders)
	protected("POST", "/api/library/folders/create", s.httpLibraryFolderCreate)
	protected("POST", "/api/library/folders/rename", s.httpLibraryFolderRename)
	protected("POST", "/api/library/folders/delete", s.httpLibraryFolderDelete)
	protected("POST", "/api/library/folders/toggle", s.httpLibraryFolderToggle)
	protected("GET", "/api/library/note", s.httpLibraryNoteGet)
	protected("POST", "/api/library/note", s.httpLibraryNoteSet)
	protected("POST", "/api/library/sync-to-jm", s.httpLibrarySyncToJM)

	s.httpRouter = router
}

// checkUpstream translates an upstream client error into an HTTP panic.
// nil is a no-op, matching www.Check.
func (s *Server) checkUpstream(err error) {
	if err == nil {
		return
	}
	var apiErr *jmapi.APIError
	switch {
	case errors.Is(err, jmapi.ErrUnauthorized):
		www.Panic(http.StatusUnauthorized, "Not logged in to JM")
	case errors.Is(err, jmapi.ErrThrottled):
		www.Panic(http.StatusTooManyRequests, "JM is rate limiting requests")
	case errors.As(err, &apiErr) && apiErr.Message != "":
		www.Panic(http.StatusBadGateway, apiErr.Message)
	default:
		www.Panic(http.StatusBadGateway, err.Error())
	}
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type response struct {
		Greeting string `json:"greeting"`
	}
	www.SendJSON(w, response{Greeting: "pong"})
}
