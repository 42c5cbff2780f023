package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"linkvault/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

// SQLite is the single source of truth for paste and user records. A small
// circuit breaker sheds load when the database is persistently failing.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return errors.Wrap(err, "enable foreign keys")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		content TEXT,
		blob_key TEXT,
		file_name TEXT,
		file_size INTEGER,
		file_mime TEXT,
		owner_id TEXT,
		password_hash TEXT,
		one_time_view INTEGER NOT NULL DEFAULT 0,
		max_views INTEGER,
		view_count INTEGER NOT NULL DEFAULT 0,
		expires_at DATETIME,
		expired INTEGER NOT NULL DEFAULT 0,
		delete_token_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at) WHERE expires_at IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_pastes_owner_id ON pastes(owner_id) WHERE owner_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT,
		verified INTEGER NOT NULL DEFAULT 0,
		verify_token TEXT,
		reset_token TEXT,
		reset_expires DATETIME,
		google_id TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_google_id ON users(google_id) WHERE google_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_users_verify_token ON users(verify_token) WHERE verify_token IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_users_reset_token ON users(reset_token) WHERE reset_token IS NOT NULL;
	`
	_, err := s.db.Exec(query)
	return err
}

func isUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrConstraint &&
			(sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}

// CreatePaste persists a new record. The id is caller-assigned; a collision
// surfaces as domain.ErrDuplicateID so the caller can retry with a fresh id.
func (s *SQLite) CreatePaste(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, kind, content, blob_key, file_name, file_size, file_mime,
		owner_id, password_hash, one_time_view, max_views, view_count, expires_at,
		expired, delete_token_hash, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?)
	`
	var blobKey, fileName, fileMime sql.NullString
	var fileSize sql.NullInt64
	if p.FileRef != nil {
		blobKey = sql.NullString{String: p.FileRef.BlobKey, Valid: true}
		fileName = sql.NullString{String: p.FileRef.OriginalName, Valid: true}
		fileSize = sql.NullInt64{Int64: p.FileRef.ByteSize, Valid: true}
		fileMime = sql.NullString{String: p.FileRef.MimeType, Valid: true}
	}
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, string(p.Kind), nullString(p.Content), blobKey, fileName, fileSize, fileMime,
		nullString(p.OwnerID), nullString(p.PasswordHash), boolToInt(p.OneTimeView),
		nullInt(p.MaxViews), nullTime(p.ExpiresAt), p.DeleteTokenHash, p.CreatedAt.UTC(),
	)
	if err != nil && isUniqueViolation(err) {
		return domain.ErrDuplicateID
	}
	s.recordError(err)
	return errors.Wrap(err, "db create paste")
}

// GetPaste loads a full record by id.
func (s *SQLite) GetPaste(ctx context.Context, id string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, kind, content, blob_key, file_name, file_size, file_mime, owner_id,
		password_hash, one_time_view, max_views, view_count, expires_at, expired,
		delete_token_hash, created_at
	FROM pastes WHERE id = ?
	`
	row := s.db.QueryRowContext(queryCtx, q, id)
	p, err := scanPaste(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get paste")
	}
	return p, nil
}

// UpdateViewState applies the policy evaluator's mutation atomically.
//
// With incrementView set, the update only lands while the paste is still
// viewable as of now: not expired, not past its deadline, and under its view
// ceiling. The returned bool reports whether the row changed; false means a
// concurrent viewer or the sweep won the race and the caller must re-read.
//
// With only setExpired set, the expired flag is raised unconditionally
// (marking a time-expired paste is idempotent).
func (s *SQLite) UpdateViewState(ctx context.Context, id string, incrementView, setExpired bool, now time.Time) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var res sql.Result
	var err error
	if incrementView {
		q := `
		UPDATE pastes
		SET view_count = view_count + 1,
			expired = CASE WHEN ? THEN 1 ELSE expired END
		WHERE id = ?
			AND expired = 0
			AND (expires_at IS NULL OR expires_at > ?)
			AND (max_views IS NULL OR view_count < max_views)
		`
		res, err = s.db.ExecContext(queryCtx, q, setExpired, id, now.UTC())
	} else if setExpired {
		res, err = s.db.ExecContext(queryCtx, `UPDATE pastes SET expired = 1 WHERE id = ?`, id)
	} else {
		return true, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "db update view state")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

// DeletePaste removes a record. Deleting an absent id is not an error here;
// the lifecycle controller decides how to surface that.
func (s *SQLite) DeletePaste(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ?`, id)
	s.recordError(err)
	return errors.Wrap(err, "db delete paste")
}

// FindExpired returns a bounded batch of dead records: time-expired ones and
// tombstoned ones (one-time views already spent). Full rows, so the sweep can
// find the blob key.
func (s *SQLite) FindExpired(ctx context.Context, asOf time.Time, limit int) ([]*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, kind, content, blob_key, file_name, file_size, file_mime, owner_id,
		password_hash, one_time_view, max_views, view_count, expires_at, expired,
		delete_token_hash, created_at
	FROM pastes WHERE expired = 1 OR (expires_at IS NOT NULL AND expires_at <= ?)
	LIMIT ?
	`
	rows, err := s.db.QueryContext(queryCtx, q, asOf.UTC(), limit)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db find expired")
	}
	defer rows.Close()
	return collectPastes(rows)
}

// FindByOwner lists an owner's pastes, newest first, full rows (the cascade
// path needs blob keys; listing endpoints project to Meta themselves).
func (s *SQLite) FindByOwner(ctx context.Context, ownerID string) ([]*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, kind, content, blob_key, file_name, file_size, file_mime, owner_id,
		password_hash, one_time_view, max_views, view_count, expires_at, expired,
		delete_token_hash, created_at
	FROM pastes WHERE owner_id = ?
	ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(queryCtx, q, ownerID)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db find by owner")
	}
	defer rows.Close()
	return collectPastes(rows)
}

// FindByIDs returns the records that exist among the given ids, newest
// first. Unknown ids are silently skipped.
func (s *SQLite) FindByIDs(ctx context.Context, ids []string) ([]*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]interface{}, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	q := `
	SELECT id, kind, content, blob_key, file_name, file_size, file_mime, owner_id,
		password_hash, one_time_view, max_views, view_count, expires_at, expired,
		delete_token_hash, created_at
	FROM pastes WHERE id IN (` + string(placeholders) + `)
	ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(queryCtx, q, args...)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db find by ids")
	}
	defer rows.Close()
	return collectPastes(rows)
}

// CountByOwner counts an owner's pastes for the profile view.
func (s *SQLite) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var n int
	err := s.db.QueryRowContext(queryCtx, `SELECT COUNT(*) FROM pastes WHERE owner_id = ?`, ownerID).Scan(&n)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "db count by owner")
	}
	return n, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPaste(row rowScanner) (*domain.Paste, error) {
	var p domain.Paste
	var kind string
	var content, blobKey, fileName, fileMime, ownerID, passwordHash sql.NullString
	var fileSize, maxViews sql.NullInt64
	var expiresAt sql.NullTime
	var oneTime, expired int
	err := row.Scan(
		&p.ID, &kind, &content, &blobKey, &fileName, &fileSize, &fileMime, &ownerID,
		&passwordHash, &oneTime, &maxViews, &p.ViewCount, &expiresAt, &expired,
		&p.DeleteTokenHash, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Kind = domain.Kind(kind)
	p.Content = content.String
	p.OwnerID = ownerID.String
	p.PasswordHash = passwordHash.String
	p.OneTimeView = oneTime != 0
	p.Expired = expired != 0
	if maxViews.Valid {
		p.MaxViews = int(maxViews.Int64)
	}
	if expiresAt.Valid {
		p.ExpiresAt = expiresAt.Time
	}
	if blobKey.Valid {
		p.FileRef = &domain.FileRef{
			BlobKey:      blobKey.String,
			OriginalName: fileName.String,
			ByteSize:     fileSize.Int64,
			MimeType:     fileMime.String,
		}
	}
	return &p, nil
}

func collectPastes(rows *sql.Rows) ([]*domain.Paste, error) {
	var out []*domain.Paste
	for rows.Next() {
		p, err := scanPaste(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan paste")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterate pastes")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
