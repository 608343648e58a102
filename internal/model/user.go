// Package model defines the data structures used throughout the application.
package model

import "time"

// DefaultTimezone is assigned to users who do not pick a home timezone.
const DefaultTimezone = "UTC"

// User is a participant: someone who can organize or attend meetings.
//
// Email is the lookup key for attendee resolution and is matched exactly
// (case-sensitive), the same way the database compares it.
//
// PasswordHash and GoogleToken carry `json:"-"` so they can never leak
// through an API response, even if a handler serializes the whole struct.
type User struct {
	ID           string    `json:"id"         db:"id"`
	Email        string    `json:"email"      db:"email"`
	FullName     string    `json:"full_name"  db:"full_name"`
	PasswordHash string    `json:"-"          db:"hashed_password"`
	IsActive     bool      `json:"is_active"  db:"is_active"`
	Timezone     string    `json:"timezone"   db:"timezone"`
	GoogleToken  []byte    `json:"-"          db:"google_token"` // oauth2.Token as JSON, nil when not connected
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// CalendarConnected reports whether the user linked a Google account.
func (u *User) CalendarConnected() bool {
	return len(u.GoogleToken) > 0
}

// Participant is the public projection of a User embedded in meetings.
type Participant struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// AsParticipant projects u for embedding in a meeting response.
func (u *User) AsParticipant() Participant {
	return Participant{ID: u.ID, Email: u.Email, FullName: u.FullName}
}
