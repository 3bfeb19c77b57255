package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrTokenNotFound is returned by Get/Revoke when a token value isn't known
// to the store, including tokens that have already been revoked.
var ErrTokenNotFound = errors.New("store: token not found")

// Token is an issued bearer token record, mirroring auth.Service's view of
// a token without internal/auth needing its own persistence.
type Token struct {
	Value     string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenStore persists issued bearer tokens so internal/auth can revoke one
// before its JWT expiry lapses naturally.
type TokenStore interface {
	Create(ctx context.Context, tok Token) error
	Get(ctx context.Context, value string) (Token, error)
	Revoke(ctx context.Context, value string) error
	Close() error
}

// SQLiteTokenStore implements TokenStore on a SQLite database, following
// the same modernc.org/sqlite driver and busy-timeout pragma as
// internal/store/sqlite's process-state DB.
type SQLiteTokenStore struct {
	db *sql.DB
}

// NewSQLiteTokenStore opens (or creates) a SQLite-backed token store at path.
// Use ":memory:" for a transient store, the way tests exercise it.
func NewSQLiteTokenStore(path string) (*SQLiteTokenStore, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("store: empty sqlite path")
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("store: open token db: %w", err)
	}
	if p == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS tokens(
		value TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		issued_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ensure token schema: %w", err)
	}
	return &SQLiteTokenStore{db: db}, nil
}

func (s *SQLiteTokenStore) Create(ctx context.Context, tok Token) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens(value, subject, issued_at, expires_at) VALUES (?, ?, ?, ?)`,
		tok.Value, tok.Subject, tok.IssuedAt.UTC(), tok.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("store: create token: %w", err)
	}
	return nil
}

func (s *SQLiteTokenStore) Get(ctx context.Context, value string) (Token, error) {
	var tok Token
	row := s.db.QueryRowContext(ctx,
		`SELECT value, subject, issued_at, expires_at FROM tokens WHERE value = ?`, value)
	if err := row.Scan(&tok.Value, &tok.Subject, &tok.IssuedAt, &tok.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, ErrTokenNotFound
		}
		return Token{}, fmt.Errorf("store: get token: %w", err)
	}
	return tok, nil
}

func (s *SQLiteTokenStore) Revoke(ctx context.Context, value string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE value = ?`, value)
	if err != nil {
		return fmt.Errorf("store: revoke token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: revoke token: %w", err)
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (s *SQLiteTokenStore) Close() error { return s.db.Close() }
