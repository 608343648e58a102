package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/meeting-scheduler/internal/auth"
	"github.com/sakif/meeting-scheduler/internal/handler"
	"github.com/sakif/meeting-scheduler/internal/model"
	"github.com/sakif/meeting-scheduler/internal/repository/sqlite"
	"github.com/sakif/meeting-scheduler/internal/service"
)

// testAPI is the full HTTP surface over an in-memory store.
type testAPI struct {
	router http.Handler
	tokens *auth.TokenService
	db     *sqlite.DB
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	accounts := service.NewAuthService(db.Users(), tokens, auth.NewPasswordServiceWithCost(bcrypt.MinCost), logger)
	meetings := service.NewMeetingService(db.Users(), db.Meetings(), service.MeetingOptions{}, logger)
	google := auth.NewGoogleProvider("client-id", "client-secret", "http://localhost/auth/google/callback")

	authH := handler.NewAuthHandler(accounts, tokens, google, logger)
	meetingH := handler.NewMeetingHandler(meetings, accounts, logger)

	r := chi.NewRouter()
	r.Get("/health", handler.HandleHealth)
	r.Post("/auth/register", authH.HandleRegister)
	r.Post("/auth/login", authH.HandleLogin)
	r.Get("/auth/google/callback", authH.HandleGoogleCallback)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/auth/me", authH.HandleMe)
		r.Get("/auth/google/login", authH.HandleGoogleLogin)
		r.Get("/meetings", meetingH.HandleList)
		r.Post("/meetings", meetingH.HandleCreate)
		r.Get("/meetings/calendar.ics", meetingH.HandleCalendarExport)
		r.Get("/meetings/{id}", meetingH.HandleGet)
		r.Put("/meetings/{id}", meetingH.HandleUpdate)
		r.Delete("/meetings/{id}", meetingH.HandleDelete)
		r.Get("/availability/{email}", meetingH.HandleAvailability)
	})

	return &testAPI{router: r, tokens: tokens, db: db}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

// signUp registers email and returns a bearer token for it.
func (a *testAPI) signUp(t *testing.T, email string) string {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "full_name": email, "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = a.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": email, "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var tok handler.TokenResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&tok))
	return tok.AccessToken
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

type meetingJSON struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	StartTimeUTC string `json:"start_time_utc"`
	Attendees    []struct {
		Email string `json:"email"`
	} `json:"attendees"`
}

type errorJSON struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

func meetingBody(start, end string, attendees ...string) map[string]any {
	return map[string]any{
		"title":           "Planning",
		"start_time":      start,
		"end_time":        end,
		"attendee_emails": attendees,
	}
}

// =========================================================================
// HEALTH / AUTH
// =========================================================================

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rr.Body.String())
}

func TestRegisterAndMe(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp(t, "alice@example.com")

	rr := api.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	me := decode[map[string]any](t, rr)
	assert.Equal(t, "alice@example.com", me["email"])
	assert.NotContains(t, me, "hashed_password")
	assert.NotContains(t, rr.Body.String(), "correct-horse")
}

func TestRegister_Duplicate(t *testing.T) {
	api := newTestAPI(t)
	api.signUp(t, "alice@example.com")

	rr := api.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "alice@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestLogin_FormEncoded(t *testing.T) {
	api := newTestAPI(t)
	api.signUp(t, "alice@example.com")

	form := url.Values{"username": {"alice@example.com"}, "password": {"correct-horse"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	api.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	tok := decode[handler.TokenResponse](t, rr)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.NotEmpty(t, tok.AccessToken)

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "browser clients get the token as a cookie")
	assert.True(t, cookie.HttpOnly)
}

func TestLogin_WrongPassword(t *testing.T) {
	api := newTestAPI(t)
	api.signUp(t, "alice@example.com")

	rr := api.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "nope-nope-nope",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/auth/me", "/meetings", "/availability/a@example.com"} {
		rr := api.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestGoogleLogin_Redirects(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp(t, "alice@example.com")

	rr := api.do(t, http.MethodGet, "/auth/google/login", token, nil)
	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", loc.Host)

	var state string
	for _, c := range rr.Result().Cookies() {
		if c.Name == "oauth_state" {
			state = c.Value
		}
	}
	assert.Equal(t, state, loc.Query().Get("state"))
}

func TestGoogleCallback_StateMismatch(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=forged&code=x", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "expected"})
	rr := httptest.NewRecorder()
	api.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =========================================================================
// MEETINGS
// =========================================================================

func TestMeetingLifecycle(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp(t, "alice@example.com")
	api.signUp(t, "bob@example.com")

	// naive timestamps are UTC
	rr := api.do(t, http.MethodPost, "/meetings", alice,
		meetingBody("2025-03-01T10:00:00", "2025-03-01T11:00:00", "bob@example.com", "ghost@example.com"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[meetingJSON](t, rr)
	assert.Equal(t, "2025-03-01T10:00:00Z", created.StartTime)
	require.Len(t, created.Attendees, 1)
	assert.Equal(t, "bob@example.com", created.Attendees[0].Email)

	rr = api.do(t, http.MethodGet, "/meetings/"+created.ID, alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = api.do(t, http.MethodPut, "/meetings/"+created.ID, alice, map[string]any{"title": "Renamed"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[meetingJSON](t, rr)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, created.StartTime, updated.StartTime)
	assert.Len(t, updated.Attendees, 1)

	rr = api.do(t, http.MethodDelete, "/meetings/"+created.ID, alice, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = api.do(t, http.MethodDelete, "/meetings/"+created.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateMeeting_Conflict(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp(t, "alice@example.com")
	bob := api.signUp(t, "bob@example.com")

	rr := api.do(t, http.MethodPost, "/meetings", alice,
		meetingBody("2025-03-01T10:00:00Z", "2025-03-01T11:00:00Z", "bob@example.com"))
	require.Equal(t, http.StatusCreated, rr.Code)

	// bob is busy through the attendee link
	rr = api.do(t, http.MethodPost, "/meetings", bob,
		meetingBody("2025-03-01T10:30:00Z", "2025-03-01T11:30:00Z"))
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "conflict", decode[errorJSON](t, rr).Error)

	rr = api.do(t, http.MethodPost, "/meetings", bob,
		meetingBody("2025-03-01T11:00:00Z", "2025-03-01T12:00:00Z"))
	assert.Equal(t, http.StatusCreated, rr.Code, "back-to-back is allowed")
}

func TestCreateMeeting_BadInput(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp(t, "alice@example.com")

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"inverted interval", meetingBody("2025-03-01T11:00:00Z", "2025-03-01T10:00:00Z"), "end_time"},
		{"garbage time", meetingBody("tomorrow", "2025-03-01T10:00:00Z"), "start_time"},
		{"missing end", map[string]any{"title": "x", "start_time": "2025-03-01T10:00:00Z"}, "end_time"},
		{"unknown field", map[string]any{"titel": "x"}, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/meetings", alice, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.field, decode[errorJSON](t, rr).Field)
		})
	}
}

func TestListMeetings_RangeAndTimezone(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp(t, "alice@example.com")

	for _, b := range []map[string]any{
		meetingBody("2025-01-15T09:00:00Z", "2025-01-15T10:00:00Z"),
		meetingBody("2025-01-15T15:00:00Z", "2025-01-15T16:00:00Z"),
	} {
		rr := api.do(t, http.MethodPost, "/meetings", alice, b)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := api.do(t, http.MethodGet, "/meetings", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]meetingJSON](t, rr), 2)

	q := url.Values{"start": {"2025-01-15T08:00:00Z"}, "end": {"2025-01-15T12:00:00Z"}, "tz": {"America/New_York"}}
	rr = api.do(t, http.MethodGet, "/meetings?"+q.Encode(), alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]meetingJSON](t, rr)
	require.Len(t, list, 1)
	assert.Equal(t, "2025-01-15T04:00:00-05:00", list[0].StartTime)
	assert.Equal(t, "2025-01-15T09:00:00Z", list[0].StartTimeUTC)

	rr = api.do(t, http.MethodGet, "/meetings?tz=Not/AZone", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(t, http.MethodGet, "/meetings?tz=home", alice, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCalendarExport(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp(t, "alice@example.com")

	rr := api.do(t, http.MethodPost, "/meetings", alice,
		meetingBody("2025-03-01T10:00:00Z", "2025-03-01T11:00:00Z"))
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decode[meetingJSON](t, rr).ID

	rr = api.do(t, http.MethodGet, "/meetings/calendar.ics", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/calendar")

	body := rr.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "UID:"+id+"@meeting-scheduler")
	assert.Contains(t, body, "DTSTART:20250301T100000Z")
}

func TestAvailability_UnescapedOffset(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp(t, "alice@example.com")

	rr := api.do(t, http.MethodPost, "/meetings", alice,
		meetingBody("2025-03-01T10:00:00Z", "2025-03-01T11:00:00Z"))
	require.Equal(t, http.StatusCreated, rr.Code)

	// 12:30+02:00 is 10:30 UTC, inside the meeting.
	rr = api.do(t, http.MethodGet,
		"/availability/alice@example.com?start=2025-03-01T12:30:00+02:00&end=2025-03-01T12:45:00+02:00", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, false, decode[map[string]any](t, rr)["available"])
}

func TestCalendarExport_NoMeetings(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp(t, "alice@example.com")

	rr := api.do(t, http.MethodGet, "/meetings/calendar.ics", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/calendar")

	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, "BEGIN:VCALENDAR"))
	assert.Contains(t, body, "END:VCALENDAR")
	assert.NotContains(t, body, "BEGIN:VEVENT")
}

func TestAvailability(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp(t, "alice@example.com")

	rr := api.do(t, http.MethodPost, "/meetings", alice,
		meetingBody("2025-03-01T10:00:00Z", "2025-03-01T11:00:00Z"))
	require.Equal(t, http.StatusCreated, rr.Code)

	check := func(start, end string) *httptest.ResponseRecorder {
		q := url.Values{"start": {start}, "end": {end}}
		return api.do(t, http.MethodGet, "/availability/alice@example.com?"+q.Encode(), alice, nil)
	}

	rr = check("2025-03-01T10:30:00Z", "2025-03-01T10:45:00Z")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decode[map[string]any](t, rr)["available"])

	rr = check("2025-03-01T11:00:00Z", "2025-03-01T12:00:00Z")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode[map[string]any](t, rr)["available"])

	q := url.Values{"start": {"2025-03-01T11:00:00Z"}, "end": {"2025-03-01T12:00:00Z"}}
	rr = api.do(t, http.MethodGet, "/availability/nobody@example.com?"+q.Encode(), alice, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = api.do(t, http.MethodGet, "/availability/alice@example.com", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInactiveUserRejected(t *testing.T) {
	api := newTestAPI(t)

	user := &model.User{Email: "gone@example.com", PasswordHash: "x", IsActive: false}
	require.NoError(t, api.db.Users().Create(context.Background(), user))
	token, err := api.tokens.Generate(user.ID)
	require.NoError(t, err)

	rr := api.do(t, http.MethodPost, "/meetings", token,
		meetingBody("2025-03-01T10:00:00Z", "2025-03-01T11:00:00Z"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "user", decode[errorJSON](t, rr).Field)
}
