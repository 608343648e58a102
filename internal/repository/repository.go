// Package repository declares the storage contracts the service layer
// depends on. Implementations live in the sqlite and postgres subpackages.
package repository

import (
	"context"
	"time"

	"github.com/sakif/meeting-scheduler/internal/model"
)

// UpdateOptions tunes MeetingRepository.Update.
type UpdateOptions struct {
	// CheckConflicts runs the conflict detector (excluding the meeting
	// itself) inside the update transaction. Off by default: updates are
	// committed without a conflict check.
	CheckConflicts bool
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// ResolveEmails returns the users whose email matches exactly one of
	// emails. Unknown addresses are skipped without error.
	ResolveEmails(ctx context.Context, emails []string) ([]model.User, error)
	SetGoogleToken(ctx context.Context, id string, token []byte) error
}

type MeetingRepository interface {
	// Create resolves attendeeEmails, checks the full participant set for
	// conflicts and inserts the meeting with its attendees atomically.
	// Returns an apperror.ErrConflict error and writes nothing on overlap.
	Create(ctx context.Context, meeting *model.Meeting, attendeeEmails []string) error
	GetByID(ctx context.Context, id string) (*model.Meeting, error)
	Update(ctx context.Context, id string, upd model.MeetingUpdate, opts UpdateOptions) (*model.Meeting, error)
	// Delete reports whether a meeting with that id existed.
	Delete(ctx context.Context, id string) (bool, error)
	// ListForParticipant returns meetings organized or attended by the
	// participant, ascending by start time. A non-nil range keeps only
	// meetings entirely inside it.
	ListForParticipant(ctx context.Context, participantID string, within *model.TimeRange) ([]model.Meeting, error)
	// HasConflict reports whether any meeting linked to participantIDs
	// overlaps [start, end). excludeID, when non-empty, is ignored.
	HasConflict(ctx context.Context, start, end time.Time, participantIDs []string, excludeID string) (bool, error)
	SetExternalEventID(ctx context.Context, id, externalID string) error
}

// SweepRepository is the narrow surface the background jobs need.
type SweepRepository interface {
	// PurgeEndedBefore deletes at most limit meetings whose end time is
	// before cutoff and returns how many were removed.
	PurgeEndedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	// DueForReminder returns up to limit meetings starting in (now, until]
	// whose reminder has not been sent, with attendees loaded.
	DueForReminder(ctx context.Context, now, until time.Time, limit int) ([]model.Meeting, error)
	// MarkReminderSent flips the flag once; a second call is a no-op.
	MarkReminderSent(ctx context.Context, id string) error
}

// Store bundles every repository a backend provides.
type Store interface {
	Users() UserRepository
	Meetings() MeetingRepository
	Sweeps() SweepRepository
	Close() error
}
