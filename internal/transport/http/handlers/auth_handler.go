package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/vedran77/chatten/internal/service"
	"github.com/vedran77/chatten/internal/transport/http/middleware"
)

const stateCookie = "oauth_state"

type AuthHandler struct {
	authService  *service.AuthService
	clientURL    string
	secureCookie bool
}

func NewAuthHandler(authService *service.AuthService, clientURL string, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		clientURL:    clientURL,
		secureCookie: secureCookie,
	}
}

// Google redirects to the provider's consent screen.
func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	redirectURL, sealed, err := h.authService.BeginLogin()
	if err != nil {
		if errors.Is(err, service.ErrOAuthDisabled) {
			writeError(w, http.StatusServiceUnavailable, "OAUTH_DISABLED", "Google login is not configured")
			return
		}
		writeInternal(w, "begin oauth login", err)
		return
	}

	http.SetCookie(w, h.cookie(stateCookie, sealed, 10*time.Minute))
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// GoogleCallback completes the login, sets the session cookie and sends the
// browser back to the client app.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.cookie(stateCookie, "", -1))

	c, err := r.Cookie(stateCookie)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_STATE", "Missing OAuth state")
		return
	}

	q := r.URL.Query()
	if q.Get("error") != "" {
		http.Redirect(w, r, h.clientURL+"/login?error="+q.Get("error"), http.StatusFound)
		return
	}

	user, token, err := h.authService.CompleteLogin(r.Context(), q.Get("code"), q.Get("state"), c.Value)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidState):
			writeError(w, http.StatusBadRequest, "INVALID_STATE", "Invalid OAuth state")
		case errors.Is(err, service.ErrInvalidProfile):
			writeError(w, http.StatusBadRequest, "INVALID_PROFILE", "Provider returned an incomplete profile")
		case errors.Is(err, service.ErrOAuthDisabled):
			writeError(w, http.StatusServiceUnavailable, "OAUTH_DISABLED", "Google login is not configured")
		default:
			writeInternal(w, "complete oauth login", err)
		}
		return
	}

	log.Info("user logged in", "user_id", user.ID)
	http.SetCookie(w, h.cookie(middleware.SessionCookie, token, h.authService.TokenTTL()))
	http.Redirect(w, r, h.clientURL, http.StatusFound)
}

// Check reports whether the request carries a valid session. It never fails
// with 401 so clients can call it on startup.
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	user, err := h.authService.CurrentUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeInternal(w, "check session", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": user})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.cookie(middleware.SessionCookie, "", -1))
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
}

func (h *AuthHandler) cookie(name, value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(ttl.Seconds())
	}
	return c
}
