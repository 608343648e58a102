package handler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/meeting-scheduler/internal/apperror"
	"github.com/sakif/meeting-scheduler/internal/auth"
	"github.com/sakif/meeting-scheduler/internal/calendar"
	"github.com/sakif/meeting-scheduler/internal/model"
	"github.com/sakif/meeting-scheduler/internal/service"
	"github.com/sakif/meeting-scheduler/internal/timeutil"
)

// userLookup resolves the caller's profile for tz=home.
type userLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// MeetingHandler serves /meetings and /availability.
type MeetingHandler struct {
	meetings *service.MeetingService
	users    userLookup
	now      func() time.Time
	logger   *slog.Logger
}

func NewMeetingHandler(meetings *service.MeetingService, users userLookup, logger *slog.Logger) *MeetingHandler {
	return &MeetingHandler{
		meetings: meetings,
		users:    users,
		now:      time.Now,
		logger:   logger,
	}
}

// meetingRequest is the body of POST and PUT /meetings. Times are strings so
// naive timestamps ("2025-03-01T10:00:00") can be accepted as UTC.
type meetingRequest struct {
	ID             string   `json:"id,omitempty"`
	Title          *string  `json:"title"`
	Description    *string  `json:"description"`
	StartTime      *string  `json:"start_time"`
	EndTime        *string  `json:"end_time"`
	Location       *string  `json:"location"`
	AttendeeEmails []string `json:"attendee_emails"`
}

// meetingView is a meeting as returned to clients. StartTime and EndTime are
// rendered in the requested zone and shadow the embedded UTC values; the
// *_utc fields always carry the stored instant.
type meetingView struct {
	model.Meeting
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	StartTimeUTC string    `json:"start_time_utc"`
	EndTimeUTC   string    `json:"end_time_utc"`
}

func viewOf(m *model.Meeting, loc *time.Location) meetingView {
	return meetingView{
		Meeting:      *m,
		StartTime:    m.StartTime.In(loc),
		EndTime:      m.EndTime.In(loc),
		StartTimeUTC: m.StartTime.UTC().Format(time.RFC3339),
		EndTimeUTC:   m.EndTime.UTC().Format(time.RFC3339),
	}
}

// HandleCreate schedules a meeting organized by the caller.
//
// HTTP: POST /meetings → 201, 400, 409 or 503
func (h *MeetingHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req meetingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	in, err := req.createInput()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	meeting, err := h.meetings.Create(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, viewOf(meeting, time.UTC))
}

// HandleList returns the caller's meetings, optionally limited to those lying
// entirely inside ?start=&end= and rendered in ?tz=.
//
// HTTP: GET /meetings?start=...&end=...&tz=Europe/Paris|home
func (h *MeetingHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	q := r.URL.Query()

	from, err := parseOptionalTime("start", q.Get("start"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	to, err := parseOptionalTime("end", q.Get("end"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	loc, err := h.location(r.Context(), userID, q.Get("tz"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	meetings, err := h.meetings.List(r.Context(), userID, from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	views := make([]meetingView, 0, len(meetings))
	for i := range meetings {
		views = append(views, viewOf(&meetings[i], loc))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleGet returns one meeting.
//
// HTTP: GET /meetings/{id}?tz=
func (h *MeetingHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	loc, err := h.location(r.Context(), userID, r.URL.Query().Get("tz"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	meeting, err := h.meetings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(meeting, loc))
}

// HandleUpdate applies a partial update.
//
// HTTP: PUT or PATCH /meetings/{id}
func (h *MeetingHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req meetingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.ID != "" && req.ID != id {
		writeError(w, r, h.logger, apperror.ValidationFailed("id", "body id does not match the URL"))
		return
	}

	in, err := req.updateInput()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	meeting, err := h.meetings.Update(r.Context(), userID, id, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(meeting, time.UTC))
}

// HandleDelete removes a meeting.
//
// HTTP: DELETE /meetings/{id} → 204 or 404
func (h *MeetingHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.meetings.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCalendarExport serves the caller's meetings as an iCalendar feed.
//
// HTTP: GET /meetings/calendar.ics
func (h *MeetingHandler) HandleCalendarExport(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	meetings, err := h.meetings.List(r.Context(), userID, nil, nil)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// Encode fully before writing so a failure can still become a 500.
	var buf bytes.Buffer
	if err := calendar.WriteICS(&buf, meetings, h.now()); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="meetings.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// HandleAvailability answers whether a user is free over [start, end).
//
// HTTP: GET /availability/{email}?start=...&end=...
func (h *MeetingHandler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := parseRequiredTime("start", q.Get("start"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	end, err := parseRequiredTime("end", q.Get("end"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	avail, err := h.meetings.CheckAvailability(r.Context(), chi.URLParam(r, "email"), start, end)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, avail)
}

// location resolves ?tz=. Empty means UTC and "home" means the caller's
// stored timezone.
func (h *MeetingHandler) location(ctx context.Context, userID, tz string) (*time.Location, error) {
	switch tz {
	case "", "UTC":
		return time.UTC, nil
	case "home":
		user, err := h.users.GetUserByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		tz = user.Timezone
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, apperror.ValidationFailed("tz", fmt.Sprintf("unknown time zone %q", tz))
	}
	return loc, nil
}

func (req meetingRequest) createInput() (service.CreateMeetingInput, error) {
	start, err := parseRequiredTime("start_time", deref(req.StartTime))
	if err != nil {
		return service.CreateMeetingInput{}, err
	}
	end, err := parseRequiredTime("end_time", deref(req.EndTime))
	if err != nil {
		return service.CreateMeetingInput{}, err
	}

	return service.CreateMeetingInput{
		Title:          deref(req.Title),
		Description:    deref(req.Description),
		StartTime:      start,
		EndTime:        end,
		Location:       deref(req.Location),
		AttendeeEmails: req.AttendeeEmails,
	}, nil
}

func (req meetingRequest) updateInput() (service.UpdateMeetingInput, error) {
	in := service.UpdateMeetingInput{
		Title:          req.Title,
		Description:    req.Description,
		Location:       req.Location,
		AttendeeEmails: req.AttendeeEmails,
	}

	var err error
	if req.StartTime != nil {
		if in.StartTime, err = parseOptionalTime("start_time", *req.StartTime); err != nil {
			return in, err
		}
	}
	if req.EndTime != nil {
		if in.EndTime, err = parseOptionalTime("end_time", *req.EndTime); err != nil {
			return in, err
		}
	}
	return in, nil
}

func parseRequiredTime(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperror.ValidationFailed(field, field+" is required")
	}
	t, err := timeutil.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, apperror.ValidationFailed(field, field+" must be an ISO-8601 timestamp")
	}
	return t, nil
}

func parseOptionalTime(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := parseRequiredTime(field, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
