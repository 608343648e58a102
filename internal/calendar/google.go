// Package calendar connects meetings to external calendars: pushing new
// meetings to Google Calendar and rendering iCalendar feeds.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/sakif/meeting-scheduler/internal/auth"
	"github.com/sakif/meeting-scheduler/internal/model"
)

// ErrNotConnected means the organizer never linked a Google account.
var ErrNotConnected = errors.New("calendar: organizer has no linked calendar")

// Syncer pushes a freshly created meeting to the organizer's calendar and
// returns the provider's event id.
type Syncer interface {
	CreateEvent(ctx context.Context, organizer *model.User, m *model.Meeting) (string, error)
}

// GoogleSyncer implements Syncer with the Calendar v3 API.
type GoogleSyncer struct {
	config  *oauth2.Config
	opts    []option.ClientOption
	timeout time.Duration
}

// NewGoogleSyncer builds a syncer from the OAuth client configuration. Extra
// client options (an endpoint override in tests) are appended to each call.
func NewGoogleSyncer(config *oauth2.Config, opts ...option.ClientOption) *GoogleSyncer {
	return &GoogleSyncer{config: config, opts: opts, timeout: 10 * time.Second}
}

// CreateEvent inserts the meeting into the organizer's primary calendar and
// asks Google to email every attendee (sendUpdates=all).
func (s *GoogleSyncer) CreateEvent(ctx context.Context, organizer *model.User, m *model.Meeting) (string, error) {
	if !organizer.CalendarConnected() {
		return "", ErrNotConnected
	}
	token, err := auth.DecodeToken(organizer.GoogleToken)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// config.Client refreshes an expired access token with the refresh token.
	opts := append([]option.ClientOption{option.WithHTTPClient(s.config.Client(ctx, token))}, s.opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("calendar: creating service: %w", err)
	}

	created, err := svc.Events.Insert("primary", toGoogleEvent(m)).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("calendar: inserting event: %w", err)
	}
	return created.Id, nil
}

func toGoogleEvent(m *model.Meeting) *gcal.Event {
	attendees := make([]*gcal.EventAttendee, 0, len(m.Attendees))
	for _, a := range m.Attendees {
		attendees = append(attendees, &gcal.EventAttendee{Email: a.Email, DisplayName: a.FullName})
	}

	return &gcal.Event{
		Summary:     m.Title,
		Description: m.Description,
		Location:    m.Location,
		Start: &gcal.EventDateTime{
			DateTime: m.StartTime.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &gcal.EventDateTime{
			DateTime: m.EndTime.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		Attendees: attendees,
	}
}
