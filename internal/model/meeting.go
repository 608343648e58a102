package model

import (
	"time"
)

// Meeting is a committed time range owned by one organizer and attended by
// zero or more participants.
//
// StartTime and EndTime are always UTC. The interval is half-open:
// [StartTime, EndTime), so a meeting ending at 11:00 does not collide with
// one starting at 11:00.
//
// OrganizerID is the foreign key; Organizer and Attendees are filled by the
// store's read methods so callers never need a second round-trip.
type Meeting struct {
	ID              string        `json:"id"                    db:"id"`
	Title           string        `json:"title"                 db:"title"`
	Description     string        `json:"description,omitempty" db:"description"`
	StartTime       time.Time     `json:"start_time"            db:"start_time"`
	EndTime         time.Time     `json:"end_time"              db:"end_time"`
	Location        string        `json:"location,omitempty"    db:"location"`
	OrganizerID     string        `json:"organizer_id"          db:"organizer_id"`
	Organizer       Participant   `json:"organizer"`
	Attendees       []Participant `json:"attendees"`
	ExternalEventID string        `json:"external_event_id,omitempty" db:"external_event_id"`
	ReminderSent    bool          `json:"reminder_sent"               db:"reminder_sent"`
	CreatedAt       time.Time     `json:"created_at"                  db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"                  db:"updated_at"`
}

// ParticipantIDs returns the organizer plus every attendee, deduplicated.
// This is the set the conflict detector checks.
func (m *Meeting) ParticipantIDs() []string {
	seen := make(map[string]struct{}, len(m.Attendees)+1)
	ids := make([]string, 0, len(m.Attendees)+1)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	add(m.OrganizerID)
	for _, a := range m.Attendees {
		add(a.ID)
	}
	return ids
}

// AttendeeEmails lists the attendees' addresses in stored order.
func (m *Meeting) AttendeeEmails() []string {
	emails := make([]string, 0, len(m.Attendees))
	for _, a := range m.Attendees {
		emails = append(emails, a.Email)
	}
	return emails
}

// MeetingUpdate is a partial update. A nil field means "leave unchanged";
// a non-nil field overwrites, including with an empty value for the optional
// text fields.
//
// AttendeeEmails follows the same rule: nil keeps the current attendees, an
// empty (non-nil) slice removes them all.
type MeetingUpdate struct {
	Title          *string
	Description    *string
	StartTime      *time.Time
	EndTime        *time.Time
	Location       *string
	AttendeeEmails []string
}

// Empty reports whether the update would change nothing.
func (u MeetingUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.StartTime == nil &&
		u.EndTime == nil && u.Location == nil && u.AttendeeEmails == nil
}

// ReplacesAttendees reports whether the attendee set must be re-resolved.
func (u MeetingUpdate) ReplacesAttendees() bool {
	return u.AttendeeEmails != nil
}

// ChangesInterval reports whether start or end is being moved.
func (u MeetingUpdate) ChangesInterval() bool {
	return u.StartTime != nil || u.EndTime != nil
}

// Apply merges the supplied fields into m, field by field. Attendees are not
// touched here: resolving emails needs the store.
func (u MeetingUpdate) Apply(m *Meeting) {
	if u.Title != nil {
		m.Title = *u.Title
	}
	if u.Description != nil {
		m.Description = *u.Description
	}
	if u.StartTime != nil {
		m.StartTime = u.StartTime.UTC()
	}
	if u.EndTime != nil {
		m.EndTime = u.EndTime.UTC()
	}
	if u.Location != nil {
		m.Location = *u.Location
	}
}

// TimeRange bounds a listing. Meetings are returned only when they lie
// entirely inside [From, To].
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether m lies entirely inside r.
func (r TimeRange) Contains(m *Meeting) bool {
	return !m.StartTime.Before(r.From) && !m.EndTime.After(r.To)
}
