// Package notify dispatches meeting reminders. The sweep treats a nil error
// from Sender as "dispatched" and only then marks the meeting reminded.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/meeting-scheduler/internal/model"
)

// Reminder is what gets delivered for one upcoming meeting.
type Reminder struct {
	MeetingID      string    `json:"meeting_id"`
	Title          string    `json:"title"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Location       string    `json:"location,omitempty"`
	OrganizerEmail string    `json:"organizer_email"`
	AttendeeEmails []string  `json:"attendee_emails"`
}

// ReminderFor builds the reminder for m.
func ReminderFor(m *model.Meeting) Reminder {
	return Reminder{
		MeetingID:      m.ID,
		Title:          m.Title,
		StartTime:      m.StartTime.UTC(),
		EndTime:        m.EndTime.UTC(),
		Location:       m.Location,
		OrganizerEmail: m.Organizer.Email,
		AttendeeEmails: m.AttendeeEmails(),
	}
}

// Recipients is the organizer plus attendees, without duplicates.
func (r Reminder) Recipients() []string {
	seen := make(map[string]struct{}, len(r.AttendeeEmails)+1)
	out := make([]string, 0, len(r.AttendeeEmails)+1)
	for _, e := range append([]string{r.OrganizerEmail}, r.AttendeeEmails...) {
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Marshal and UnmarshalReminder are the task payload codec.
func (r Reminder) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func UnmarshalReminder(payload []byte) (Reminder, error) {
	var r Reminder
	if err := json.Unmarshal(payload, &r); err != nil {
		return Reminder{}, fmt.Errorf("notify: decoding reminder: %w", err)
	}
	if r.MeetingID == "" {
		return Reminder{}, fmt.Errorf("notify: reminder has no meeting id")
	}
	return r, nil
}

// Sender delivers (or hands off for delivery) one reminder.
type Sender interface {
	SendReminder(ctx context.Context, r Reminder) error
}

// LogSender "delivers" by writing a structured log line. It is the default
// when no queue is configured and the final step of the queue worker.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendReminder(_ context.Context, r Reminder) error {
	s.logger.Info("meeting reminder",
		slog.String("meeting_id", r.MeetingID),
		slog.String("title", r.Title),
		slog.Time("start_time", r.StartTime),
		slog.Any("recipients", r.Recipients()),
	)
	return nil
}
