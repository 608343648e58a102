package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"

	"github.com/sakif/meeting-scheduler/internal/apperror"
	"github.com/sakif/meeting-scheduler/internal/model"
	"github.com/sakif/meeting-scheduler/internal/repository"
)

var _ repository.UserRepository = (*UserDB)(nil)

// UserDB implements repository.UserRepository.
type UserDB struct {
	pool *pgxpool.Pool
}

const userColumns = `id, email, full_name, hashed_password, is_active, timezone, google_token, created_at, updated_at`

func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Timezone == "" {
		user.Timezone = model.DefaultTimezone
	}

	_, err := u.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.FullName, user.PasswordHash, user.IsActive,
		user.Timezone, user.GoogleToken, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return translate("creating user", err)
	}
	return nil
}

func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(u.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, translate(fmt.Sprintf("getting user %s", id), err)
	}
	return user, nil
}

func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(u.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, translate("getting user by email", err)
	}
	return user, nil
}

func (u *UserDB) ResolveEmails(ctx context.Context, emails []string) ([]model.User, error) {
	users, err := resolveEmails(ctx, u.pool, emails)
	if err != nil {
		return nil, translate("resolving attendee emails", err)
	}
	return users, nil
}

func (u *UserDB) SetGoogleToken(ctx context.Context, id string, token []byte) error {
	tag, err := u.pool.Exec(ctx,
		`UPDATE users SET google_token = $1, updated_at = $2 WHERE id = $3`,
		token, time.Now().UTC(), id,
	)
	if err != nil {
		return translate("storing google token", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func resolveEmails(ctx context.Context, q querier, emails []string) ([]model.User, error) {
	emails = uniqueStrings(emails)
	if len(emails) == 0 {
		return []model.User{}, nil
	}

	rows, err := q.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ANY($1) ORDER BY email`, emails)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]model.User, 0, len(emails))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	if err := row.Scan(
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
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return &user, nil
}
