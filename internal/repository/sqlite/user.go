package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/meeting-scheduler/internal/apperror"
	"github.com/sakif/meeting-scheduler/internal/model"
	"github.com/sakif/meeting-scheduler/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB reads and writes participant records.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, email, full_name, hashed_password, is_active, timezone, google_token, created_at, updated_at`

// Create inserts a new user. A duplicate email is reported as
// apperror.ErrConflict.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Timezone == "" {
		user.Timezone = model.DefaultTimezone
	}

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, full_name, hashed_password, is_active, timezone, google_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.FullName,
		user.PasswordHash,
		user.IsActive,
		user.Timezone,
		user.GoogleToken,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return translate("creating user", err)
	}

	return nil
}

// GetByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, translate(fmt.Sprintf("getting user %s", id), err)
	}
	return user, nil
}

// GetByEmail looks a user up by exact email match.
func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", email)
		}
		return nil, translate("getting user by email", err)
	}
	return user, nil
}

// ResolveEmails returns the known users among emails. Unknown addresses are
// dropped silently.
func (u *UserDB) ResolveEmails(ctx context.Context, emails []string) ([]model.User, error) {
	return resolveEmails(ctx, u.conn, emails)
}

// SetGoogleToken stores (or clears, with nil) the user's calendar token.
func (u *UserDB) SetGoogleToken(ctx context.Context, id string, token []byte) error {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET google_token = ?, updated_at = ? WHERE id = ?`,
		token, time.Now().UTC(), id,
	)
	if err != nil {
		return translate("storing google token", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// resolveEmails is shared with the meeting store so that attendee resolution
// can run inside the create/update transaction.
func resolveEmails(ctx context.Context, q querier, emails []string) ([]model.User, error) {
	emails = uniqueStrings(emails)
	if len(emails) == 0 {
		return []model.User{}, nil
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email IN (`+placeholders(len(emails))+`) ORDER BY email`,
		stringArgs(emails)...,
	)
	if err != nil {
		return nil, translate("resolving attendee emails", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, len(emails))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, translate("scanning user row", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("iterating users", err)
	}
	return users, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*model.User, error) {
	var user model.User
	if err := s.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.IsActive,
		&user.Timezone,
		&user.GoogleToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
