package handler

import (
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/meeting-scheduler/internal/apperror"
	"github.com/sakif/meeting-scheduler/internal/auth"
	"github.com/sakif/meeting-scheduler/internal/service"
)

const (
	stateCookie    = "oauth_state"
	connectCookie  = "oauth_connect"
	connectTimeout = 10 * time.Minute
)

// AuthHandler serves registration, password login, the current profile and
// the Google Calendar connect flow.
//
//   - HandleRegister       → create an account
//   - HandleLogin          → check credentials, issue a bearer token
//   - HandleLogout         → clear the token cookie
//   - HandleMe             → the caller's profile
//   - HandleGoogleLogin    → redirect to Google's consent page
//   - HandleGoogleCallback → store the granted calendar token
type AuthHandler struct {
	accounts *service.AuthService
	tokens   *auth.TokenService
	google   *auth.GoogleProvider // nil when Google is not configured
	logger   *slog.Logger
}

func NewAuthHandler(
	accounts *service.AuthService,
	tokens *auth.TokenService,
	google *auth.GoogleProvider,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		tokens:   tokens,
		google:   google,
		logger:   logger,
	}
}

// TokenResponse is the OAuth2-style login response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// HandleRegister creates an account.
//
// HTTP: POST /auth/register → 201, 400 or 409
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// HandleLogin accepts either a JSON body {"email","password"} or a form with
// username and password fields (the OAuth2 password grant shape), and
// returns a bearer token. The token is also set as an HttpOnly cookie for
// browser clients.
//
// HTTP: POST /auth/login → 200 or 401
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	email, password, err := loginCredentials(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), email, password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    res.Token,
		Path:     "/",
		MaxAge:   int(h.tokens.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: res.Token, TokenType: "bearer"})
}

func loginCredentials(w http.ResponseWriter, r *http.Request) (email, password string, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return "", "", apperror.ValidationFailed("body", "invalid form body")
		}
		email, password = r.PostForm.Get("username"), r.PostForm.Get("password")
	default:
		var body struct {
			Email    string `json:"email"`
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			return "", "", err
		}
		email, password = body.Email, body.Password
		if email == "" {
			email = body.Username
		}
	}

	if email == "" || password == "" {
		return "", "", apperror.ValidationFailed("username", "username and password are required")
	}
	return email, password, nil
}

// HandleLogout clears the token cookie. Bearer tokens stay valid until they
// expire.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the caller's profile.
//
// HTTP: GET /auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.accounts.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleGoogleLogin starts the calendar connect flow for the signed-in user.
//
// HTTP: GET /auth/google/login
//
// Two short-lived HttpOnly cookies carry the flow across the redirect: a
// random state compared on callback (CSRF), and a signed token naming the
// user, since the callback itself arrives without an Authorization header.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	connect, err := h.tokens.GenerateWithDuration(userID, connectTimeout)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	state := xid.New().String()
	setFlowCookie(w, stateCookie, state)
	setFlowCookie(w, connectCookie, connect)

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the connect flow.
//
// HTTP: GET /auth/google/callback?code=...&state=...
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || q.Get("state") != state.Value {
		h.logger.Warn("google callback: state mismatch")
		writeError(w, r, h.logger, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	connect, err := r.Cookie(connectCookie)
	if err != nil {
		writeError(w, r, h.logger, apperror.Unauthorized("calendar connect flow expired"))
		return
	}
	userID, err := h.tokens.Validate(connect.Value)
	if err != nil {
		writeError(w, r, h.logger, apperror.Unauthorized("calendar connect flow expired"))
		return
	}

	// Both cookies are single-use.
	clearFlowCookie(w, stateCookie)
	clearFlowCookie(w, connectCookie)

	if reason := q.Get("error"); reason != "" {
		h.logger.Info("google callback: access denied", slog.String("reason", reason))
		http.Redirect(w, r, "/?calendar=denied", http.StatusSeeOther)
		return
	}

	token, err := h.google.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		h.logger.Error("google callback: exchange failed", slog.String("error", err.Error()))
		writeError(w, r, h.logger, apperror.ValidationFailed("code", "could not exchange authorization code"))
		return
	}

	if err := h.accounts.ConnectGoogle(r.Context(), userID, token); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.Redirect(w, r, "/?calendar=connected", http.StatusSeeOther)
}

func setFlowCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth/google",
		MaxAge:   int(connectTimeout.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearFlowCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/auth/google",
		MaxAge: -1,
	})
}
