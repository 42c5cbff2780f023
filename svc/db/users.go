package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"linkvault/pkg/domain"
)

// CreateUser persists a new account. Username and email are unique; a
// violation maps to the taken-field error when it can be attributed.
func (s *SQLite) CreateUser(ctx context.Context, u *domain.User) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO users (id, username, email, password_hash, verified, verify_token,
		reset_token, reset_expires, google_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		u.ID, u.Username, u.Email, nullString(u.PasswordHash), boolToInt(u.Verified),
		nullString(u.VerifyToken), nullString(u.ResetToken), nullTime(u.ResetExpires),
		nullString(u.GoogleID), u.CreatedAt.UTC(),
	)
	if err != nil && isUniqueViolation(err) {
		if strings.Contains(err.Error(), "users.email") {
			return domain.ErrEmailTaken
		}
		return domain.ErrUsernameTaken
	}
	s.recordError(err)
	return errors.Wrap(err, "db create user")
}

func (s *SQLite) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, `id = ?`, id)
}

func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, `email = ?`, email)
}

func (s *SQLite) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.getUser(ctx, `username = ?`, username)
}

func (s *SQLite) GetUserByVerifyToken(ctx context.Context, token string) (*domain.User, error) {
	return s.getUser(ctx, `verify_token = ?`, token)
}

func (s *SQLite) GetUserByResetToken(ctx context.Context, token string) (*domain.User, error) {
	return s.getUser(ctx, `reset_token = ?`, token)
}

func (s *SQLite) GetUserByGoogleID(ctx context.Context, googleID string) (*domain.User, error) {
	return s.getUser(ctx, `google_id = ?`, googleID)
}

func (s *SQLite) getUser(ctx context.Context, where string, arg interface{}) (*domain.User, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, username, email, password_hash, verified, verify_token, reset_token,
		reset_expires, google_id, created_at
	FROM users WHERE ` + where
	var u domain.User
	var passwordHash, verifyToken, resetToken, googleID sql.NullString
	var resetExpires sql.NullTime
	var verified int
	err := s.db.QueryRowContext(queryCtx, q, arg).Scan(
		&u.ID, &u.Username, &u.Email, &passwordHash, &verified, &verifyToken,
		&resetToken, &resetExpires, &googleID, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get user")
	}
	u.PasswordHash = passwordHash.String
	u.Verified = verified != 0
	u.VerifyToken = verifyToken.String
	u.ResetToken = resetToken.String
	u.GoogleID = googleID.String
	if resetExpires.Valid {
		u.ResetExpires = resetExpires.Time
	}
	return &u, nil
}

func (s *SQLite) UpdateUsername(ctx context.Context, id, username string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `UPDATE users SET username = ? WHERE id = ?`, username, id)
	if err != nil && isUniqueViolation(err) {
		return domain.ErrUsernameTaken
	}
	s.recordError(err)
	return errors.Wrap(err, "db update username")
}

func (s *SQLite) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx,
		`UPDATE users SET password_hash = ?, reset_token = NULL, reset_expires = NULL WHERE id = ?`,
		passwordHash, id)
	s.recordError(err)
	return errors.Wrap(err, "db update password")
}

// MarkVerified flips the verified flag and consumes the token in one step so
// a token cannot verify twice.
func (s *SQLite) MarkVerified(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx,
		`UPDATE users SET verified = 1, verify_token = NULL WHERE id = ?`, id)
	s.recordError(err)
	return errors.Wrap(err, "db mark verified")
}

func (s *SQLite) SetResetToken(ctx context.Context, id, token string, expires time.Time) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx,
		`UPDATE users SET reset_token = ?, reset_expires = ? WHERE id = ?`,
		token, expires.UTC(), id)
	s.recordError(err)
	return errors.Wrap(err, "db set reset token")
}

func (s *SQLite) LinkGoogle(ctx context.Context, id, googleID string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx,
		`UPDATE users SET verified = 1, google_id = ? WHERE id = ?`, googleID, id)
	s.recordError(err)
	return errors.Wrap(err, "db link google")
}

// DeleteUser removes the account record only; the caller is responsible for
// cascading paste deletion first.
func (s *SQLite) DeleteUser(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `DELETE FROM users WHERE id = ?`, id)
	s.recordError(err)
	return errors.Wrap(err, "db delete user")
}
