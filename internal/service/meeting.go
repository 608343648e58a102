// Package service holds the business rules of the scheduler. Handlers parse
// HTTP and call into it; it validates, normalizes times to UTC and delegates
// persistence to the repository interfaces.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/meeting-scheduler/internal/apperror"
	"github.com/sakif/meeting-scheduler/internal/calendar"
	"github.com/sakif/meeting-scheduler/internal/model"
	"github.com/sakif/meeting-scheduler/internal/repository"
	"github.com/sakif/meeting-scheduler/internal/timeutil"
)

// MeetingService schedules, updates and removes meetings.
//
// Conflict detection and the write that follows it happen inside the store,
// in one transaction; the service never checks-then-writes across calls.
type MeetingService struct {
	users    repository.UserRepository
	meetings repository.MeetingRepository
	syncer   calendar.Syncer // nil disables calendar sync
	strict   bool            // re-check conflicts on update
	backoff  time.Duration
	logger   *slog.Logger
}

// MeetingOptions configures the optional parts of a MeetingService.
type MeetingOptions struct {
	// Syncer pushes new meetings to the organizer's external calendar.
	Syncer calendar.Syncer
	// StrictUpdateConflicts makes updates that move a meeting or change its
	// attendees fail with a conflict, the same way creates do.
	StrictUpdateConflicts bool
	// RetryBackoff defaults to DefaultRetryBackoff.
	RetryBackoff time.Duration
}

func NewMeetingService(
	users repository.UserRepository,
	meetings repository.MeetingRepository,
	opts MeetingOptions,
	logger *slog.Logger,
) *MeetingService {
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &MeetingService{
		users:    users,
		meetings: meetings,
		syncer:   opts.Syncer,
		strict:   opts.StrictUpdateConflicts,
		backoff:  backoff,
		logger:   logger,
	}
}

// Create schedules a meeting organized by organizerID. Attendee emails that
// do not belong to a registered user are dropped. If the organizer or any
// resolved attendee already has an overlapping meeting the result is an
// apperror.ErrConflict and nothing is written.
func (s *MeetingService) Create(ctx context.Context, organizerID string, in CreateMeetingInput) (*model.Meeting, error) {
	organizer, err := s.activeUser(ctx, organizerID)
	if err != nil {
		return nil, err
	}

	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
	in.StartTime = timeutil.Normalize(in.StartTime)
	in.EndTime = timeutil.Normalize(in.EndTime)

	if err := validateStruct(in); err != nil {
		return nil, err
	}

	meeting := &model.Meeting{
		Title:       in.Title,
		Description: in.Description,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Location:    in.Location,
		OrganizerID: organizer.ID,
	}

	err = retryOnce(ctx, s.logger, "create meeting", s.backoff, func() error {
		return s.meetings.Create(ctx, meeting, in.AttendeeEmails)
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindConflict {
			s.logger.Info("meeting rejected: scheduling conflict",
				slog.String("organizer", organizer.ID),
				slog.Time("start", in.StartTime),
				slog.Time("end", in.EndTime),
			)
		}
		return nil, err
	}

	s.logger.Info("meeting created",
		slog.String("id", meeting.ID),
		slog.String("organizer", organizer.ID),
		slog.Int("attendees", len(meeting.Attendees)),
	)

	s.syncCalendar(ctx, organizer, meeting)
	return meeting, nil
}

// syncCalendar is best-effort: a failure is logged and the meeting stands.
func (s *MeetingService) syncCalendar(ctx context.Context, organizer *model.User, meeting *model.Meeting) {
	if s.syncer == nil || !organizer.CalendarConnected() {
		return
	}

	externalID, err := s.syncer.CreateEvent(ctx, organizer, meeting)
	if err != nil {
		s.logger.Warn("calendar sync failed",
			slog.String("id", meeting.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.meetings.SetExternalEventID(ctx, meeting.ID, externalID); err != nil {
		s.logger.Warn("storing external event id failed",
			slog.String("id", meeting.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	meeting.ExternalEventID = externalID
}

// Get returns one meeting by id.
func (s *MeetingService) Get(ctx context.Context, id string) (*model.Meeting, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "meeting ID is required")
	}
	return s.meetings.GetByID(ctx, id)
}

// List returns the meetings participantID organizes or attends, ordered by
// start time. The range filter applies only when both bounds are given and
// keeps meetings lying entirely inside it.
func (s *MeetingService) List(ctx context.Context, participantID string, from, to *time.Time) ([]model.Meeting, error) {
	if _, err := s.activeUser(ctx, participantID); err != nil {
		return nil, err
	}

	var within *model.TimeRange
	if from != nil && to != nil {
		r := model.TimeRange{From: timeutil.Normalize(*from), To: timeutil.Normalize(*to)}
		if r.To.Before(r.From) {
			return nil, apperror.ValidationFailed("end", "range end must not be before range start")
		}
		within = &r
	}

	meetings, err := s.meetings.ListForParticipant(ctx, participantID, within)
	if err != nil {
		return nil, fmt.Errorf("listing meetings: %w", err)
	}
	return meetings, nil
}

// Update merges the supplied fields into meeting id. Title and location
// edits never fail on a conflict. With StrictUpdateConflicts set, a change
// of time or attendees is checked like a create.
func (s *MeetingService) Update(ctx context.Context, callerID, id string, in UpdateMeetingInput) (*model.Meeting, error) {
	if _, err := s.activeUser(ctx, callerID); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "meeting ID is required")
	}

	in.Title = trimmed(in.Title)
	in.Description = trimmed(in.Description)
	in.Location = trimmed(in.Location)
	if in.StartTime != nil {
		start := timeutil.Normalize(*in.StartTime)
		in.StartTime = &start
	}
	if in.EndTime != nil {
		end := timeutil.Normalize(*in.EndTime)
		in.EndTime = &end
	}

	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := in.validateInterval(); err != nil {
		return nil, err
	}

	upd := model.MeetingUpdate{
		Title:          in.Title,
		Description:    in.Description,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		Location:       in.Location,
		AttendeeEmails: in.AttendeeEmails,
	}
	opts := repository.UpdateOptions{CheckConflicts: s.strict}

	var meeting *model.Meeting
	err := retryOnce(ctx, s.logger, "update meeting", s.backoff, func() error {
		var err error
		meeting, err = s.meetings.Update(ctx, id, upd, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("meeting updated", slog.String("id", id))
	return meeting, nil
}

// Delete removes meeting id and its attendee links.
func (s *MeetingService) Delete(ctx context.Context, callerID, id string) error {
	if _, err := s.activeUser(ctx, callerID); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "meeting ID is required")
	}

	deleted, err := s.meetings.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting meeting %s: %w", id, err)
	}
	if !deleted {
		return apperror.NotFound("meeting", id)
	}

	s.logger.Info("meeting deleted", slog.String("id", id))
	return nil
}

// Availability is the answer to "is this user free between start and end".
type Availability struct {
	Available bool   `json:"available"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
}

// CheckAvailability reports whether the user registered under email has no
// meeting overlapping [start, end). It reads without locking, so the answer
// can be stale by the time a create runs.
func (s *MeetingService) CheckAvailability(ctx context.Context, email string, start, end time.Time) (*Availability, error) {
	start = timeutil.Normalize(start)
	end = timeutil.Normalize(end)
	if !end.After(start) {
		return nil, apperror.ValidationFailed("end", "end time must be after start time")
	}

	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}

	busy, err := s.meetings.HasConflict(ctx, start, end, []string{user.ID}, "")
	if err != nil {
		return nil, fmt.Errorf("checking availability for %s: %w", user.ID, err)
	}

	return &Availability{Available: !busy, UserID: user.ID, Email: user.Email}, nil
}

// activeUser loads id and rejects deactivated accounts.
func (s *MeetingService) activeUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperror.ValidationFailed("user", "inactive user")
	}
	return user, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
