package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/meeting-scheduler/internal/apperror"
	"github.com/sakif/meeting-scheduler/internal/model"
	"github.com/sakif/meeting-scheduler/internal/repository"
)

var _ repository.MeetingRepository = (*MeetingDB)(nil)

// MeetingDB owns the meetings and meeting_attendees tables.
type MeetingDB struct {
	conn *sql.DB
}

// meetingSelect joins the organizer so one row carries everything except
// the attendee list, which loadAttendees fetches in a single extra query.
const meetingSelect = `
	SELECT m.id, m.title, m.description, m.start_time, m.end_time, m.location,
	       m.organizer_id, o.email, o.full_name,
	       m.external_event_id, m.reminder_sent, m.created_at, m.updated_at
	FROM meetings m
	JOIN users o ON o.id = m.organizer_id`

// conflictQuery is the overlap predicate: an existing meeting M conflicts
// with [start, end) when M.start < end AND M.end > start and M shares a
// participant (as organizer or attendee). Containment in either direction
// is a special case of this predicate.
const conflictQuery = `
	SELECT 1 FROM meetings m
	WHERE m.start_time < ? AND m.end_time > ?
	  AND m.id <> ?
	  AND (m.organizer_id IN (%[1]s)
	       OR EXISTS (SELECT 1 FROM meeting_attendees a
	                  WHERE a.meeting_id = m.id AND a.user_id IN (%[1]s)))
	LIMIT 1`

// HasConflict runs the conflict detector outside any transaction. Used for
// availability checks, where a stale answer is harmless: a later Create
// re-checks under the write lock.
func (d *MeetingDB) HasConflict(ctx context.Context, start, end time.Time, participantIDs []string, excludeID string) (bool, error) {
	found, err := hasConflict(ctx, d.conn, start, end, participantIDs, excludeID)
	if err != nil {
		return false, translate("checking conflicts", err)
	}
	return found, nil
}

func hasConflict(ctx context.Context, q querier, start, end time.Time, participantIDs []string, excludeID string) (bool, error) {
	ids := uniqueStrings(participantIDs)
	if len(ids) == 0 {
		return false, nil
	}

	query := fmt.Sprintf(conflictQuery, placeholders(len(ids)))
	args := make([]any, 0, 3+2*len(ids))
	args = append(args, end.UTC().UnixMicro(), start.UTC().UnixMicro(), excludeID)
	args = append(args, stringArgs(ids)...)
	args = append(args, stringArgs(ids)...)

	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}

// Create inserts meeting after checking every participant for overlaps.
//
// Resolution, detection and the inserts share one IMMEDIATE transaction, so
// no other writer can commit an overlapping meeting between the check and the
// insert, and readers never see a meeting without its attendees.
//
// On success meeting is filled in place (ID, timestamps, organizer,
// resolved attendees). On conflict nothing is written.
func (d *MeetingDB) Create(ctx context.Context, meeting *model.Meeting, attendeeEmails []string) error {
	return withTx(ctx, d.conn, "creating meeting", func(tx *sql.Tx) error {
		organizer, err := participantByID(ctx, tx, meeting.OrganizerID)
		if err != nil {
			return err
		}

		attendees, err := resolveEmails(ctx, tx, attendeeEmails)
		if err != nil {
			return err
		}

		meeting.Organizer = organizer
		meeting.Attendees = participantsOf(attendees)

		conflict, err := hasConflict(ctx, tx, meeting.StartTime, meeting.EndTime, meeting.ParticipantIDs(), "")
		if err != nil {
			return err
		}
		if conflict {
			return apperror.SchedulingConflict()
		}

		now := time.Now().UTC()
		meeting.ID = xid.New().String()
		meeting.StartTime = meeting.StartTime.UTC()
		meeting.EndTime = meeting.EndTime.UTC()
		meeting.ReminderSent = false
		meeting.CreatedAt = now
		meeting.UpdatedAt = now

		_, err = tx.ExecContext(ctx,
			`INSERT INTO meetings (id, title, description, start_time, end_time, location,
			                       organizer_id, external_event_id, reminder_sent, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			meeting.ID,
			meeting.Title,
			meeting.Description,
			meeting.StartTime.UnixMicro(),
			meeting.EndTime.UnixMicro(),
			meeting.Location,
			meeting.OrganizerID,
			meeting.ExternalEventID,
			meeting.CreatedAt,
			meeting.UpdatedAt,
		)
		if err != nil {
			return err
		}

		return insertAttendees(ctx, tx, meeting.ID, meeting.Attendees)
	})
}

// GetByID returns the meeting with organizer and attendees.
func (d *MeetingDB) GetByID(ctx context.Context, id string) (*model.Meeting, error) {
	m, err := getMeeting(ctx, d.conn, id)
	if err != nil {
		return nil, translate(fmt.Sprintf("getting meeting %s", id), err)
	}
	return m, nil
}

// Update merges upd into the stored meeting.
//
// Only supplied fields change. When AttendeeEmails is supplied the attendee
// set is re-resolved and replaced; otherwise it is left alone.
//
// Unless opts.CheckConflicts is set, the new interval is NOT checked against
// other meetings.
func (d *MeetingDB) Update(ctx context.Context, id string, upd model.MeetingUpdate, opts repository.UpdateOptions) (*model.Meeting, error) {
	var updated *model.Meeting

	err := withTx(ctx, d.conn, "updating meeting", func(tx *sql.Tx) error {
		m, err := getMeeting(ctx, tx, id)
		if err != nil {
			return err
		}

		upd.Apply(m)
		if !m.EndTime.After(m.StartTime) {
			return apperror.ValidationFailed("end_time", "end time must be after start time")
		}

		if upd.ReplacesAttendees() {
			attendees, err := resolveEmails(ctx, tx, upd.AttendeeEmails)
			if err != nil {
				return err
			}
			m.Attendees = participantsOf(attendees)
		}

		if opts.CheckConflicts && (upd.ChangesInterval() || upd.ReplacesAttendees()) {
			conflict, err := hasConflict(ctx, tx, m.StartTime, m.EndTime, m.ParticipantIDs(), m.ID)
			if err != nil {
				return err
			}
			if conflict {
				return apperror.SchedulingConflict()
			}
		}

		m.UpdatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			`UPDATE meetings
			 SET title = ?, description = ?, start_time = ?, end_time = ?, location = ?, updated_at = ?
			 WHERE id = ?`,
			m.Title,
			m.Description,
			m.StartTime.UnixMicro(),
			m.EndTime.UnixMicro(),
			m.Location,
			m.UpdatedAt,
			m.ID,
		)
		if err != nil {
			return err
		}

		if upd.ReplacesAttendees() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM meeting_attendees WHERE meeting_id = ?`, m.ID); err != nil {
				return err
			}
			if err := insertAttendees(ctx, tx, m.ID, m.Attendees); err != nil {
				return err
			}
		}

		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the meeting; attendee rows go with it (ON DELETE CASCADE).
func (d *MeetingDB) Delete(ctx context.Context, id string) (bool, error) {
	result, err := d.conn.ExecContext(ctx, `DELETE FROM meetings WHERE id = ?`, id)
	if err != nil {
		return false, translate(fmt.Sprintf("deleting meeting %s", id), err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListForParticipant returns the participant's meetings ordered by start.
func (d *MeetingDB) ListForParticipant(ctx context.Context, participantID string, within *model.TimeRange) ([]model.Meeting, error) {
	var sb strings.Builder
	sb.WriteString(meetingSelect)
	sb.WriteString(`
	WHERE (m.organizer_id = ?
	       OR EXISTS (SELECT 1 FROM meeting_attendees a WHERE a.meeting_id = m.id AND a.user_id = ?))`)
	args := []any{participantID, participantID}

	if within != nil {
		sb.WriteString(` AND m.start_time >= ? AND m.end_time <= ?`)
		args = append(args, within.From.UTC().UnixMicro(), within.To.UTC().UnixMicro())
	}
	sb.WriteString(` ORDER BY m.start_time, m.id`)

	meetings, err := queryMeetings(ctx, d.conn, sb.String(), args...)
	if err != nil {
		return nil, translate("listing meetings", err)
	}
	return meetings, nil
}

// SetExternalEventID records the calendar provider's event id.
func (d *MeetingDB) SetExternalEventID(ctx context.Context, id, externalID string) error {
	result, err := d.conn.ExecContext(ctx,
		`UPDATE meetings SET external_event_id = ?, updated_at = ? WHERE id = ?`,
		externalID, time.Now().UTC(), id,
	)
	if err != nil {
		return translate("setting external event id", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("meeting", id)
	}
	return nil
}

// =========================================================================
// QUERY HELPERS (usable with *sql.DB or *sql.Tx)
// =========================================================================

func getMeeting(ctx context.Context, q querier, id string) (*model.Meeting, error) {
	meetings, err := queryMeetings(ctx, q, meetingSelect+` WHERE m.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(meetings) == 0 {
		return nil, apperror.NotFound("meeting", id)
	}
	return &meetings[0], nil
}

// queryMeetings runs a meetingSelect-shaped query and attaches attendees.
func queryMeetings(ctx context.Context, q querier, query string, args ...any) ([]model.Meeting, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	meetings := make([]model.Meeting, 0)
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		meetings = append(meetings, *m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before the next query: with a single pooled connection (or
	// inside a transaction) the attendee query needs the connection back.
	rows.Close()

	if err := loadAttendees(ctx, q, meetings); err != nil {
		return nil, err
	}
	return meetings, nil
}

func scanMeeting(s scanner) (*model.Meeting, error) {
	var (
		m          model.Meeting
		startMicro int64
		endMicro   int64
	)
	if err := s.Scan(
		&m.ID,
		&m.Title,
		&m.Description,
		&startMicro,
		&endMicro,
		&m.Location,
		&m.OrganizerID,
		&m.Organizer.Email,
		&m.Organizer.FullName,
		&m.ExternalEventID,
		&m.ReminderSent,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Organizer.ID = m.OrganizerID
	m.StartTime = time.UnixMicro(startMicro).UTC()
	m.EndTime = time.UnixMicro(endMicro).UTC()
	m.Attendees = []model.Participant{}
	return &m, nil
}

// loadAttendees fills Attendees for every meeting with one IN query.
func loadAttendees(ctx context.Context, q querier, meetings []model.Meeting) error {
	if len(meetings) == 0 {
		return nil
	}

	index := make(map[string]int, len(meetings))
	ids := make([]string, 0, len(meetings))
	for i := range meetings {
		index[meetings[i].ID] = i
		ids = append(ids, meetings[i].ID)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT a.meeting_id, u.id, u.email, u.full_name
		 FROM meeting_attendees a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.meeting_id IN (`+placeholders(len(ids))+`)
		 ORDER BY u.email`,
		stringArgs(ids)...,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var meetingID string
		var p model.Participant
		if err := rows.Scan(&meetingID, &p.ID, &p.Email, &p.FullName); err != nil {
			return err
		}
		if i, ok := index[meetingID]; ok {
			meetings[i].Attendees = append(meetings[i].Attendees, p)
		}
	}
	return rows.Err()
}

func participantByID(ctx context.Context, q querier, id string) (model.Participant, error) {
	var p model.Participant
	err := q.QueryRowContext(ctx,
		`SELECT id, email, full_name FROM users WHERE id = ?`, id,
	).Scan(&p.ID, &p.Email, &p.FullName)
	if err == sql.ErrNoRows {
		return p, apperror.NotFound("user", id)
	}
	return p, err
}

func insertAttendees(ctx context.Context, tx *sql.Tx, meetingID string, attendees []model.Participant) error {
	for _, a := range attendees {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO meeting_attendees (meeting_id, user_id) VALUES (?, ?)`,
			meetingID, a.ID,
		); err != nil {
			return err
		}
	}
	return nil
}

func participantsOf(users []model.User) []model.Participant {
	out := make([]model.Participant, 0, len(users))
	for i := range users {
		out = append(out, users[i].AsParticipant())
	}
	return out
}
