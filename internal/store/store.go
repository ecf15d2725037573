// Package store persists users and their sleep records in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Sentinel errors for store operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrTokenInUse   = errors.New("push token already registered to another user")
)

// User is a persisted driver account.
type User struct {
	ID        string
	Name      string
	Gender    string
	Age       int
	PushToken string
	CreatedAt time.Time
}

// AlertTarget is the minimal projection needed to deliver an alert.
type AlertTarget struct {
	Name      string
	PushToken string
}

// SleepRecord is one night of sleep data for a user.
type SleepRecord struct {
	ID              string
	UserID          string
	RemPercentage   float64
	DeepPercentage  float64
	LightPercentage float64
	TotalHours      float64
	TimeOfSleep     time.Time
}

// Store wraps the SQLite database holding users and sleep records.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dbPath and ensures the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  gender TEXT NOT NULL,
  age INTEGER NOT NULL,
  push_token TEXT,
  created_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_push_token
  ON users(push_token) WHERE push_token IS NOT NULL AND push_token != '';

CREATE TABLE IF NOT EXISTS sleep_records (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  rem_percentage REAL NOT NULL,
  deep_percentage REAL NOT NULL,
  light_percentage REAL NOT NULL,
  total_hours REAL NOT NULL,
  time_of_sleep TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sleep_records_user
  ON sleep_records(user_id, time_of_sleep);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// CreateUser inserts a new user together with their push token and returns it
// with a generated ID. The single statement guarantees a token collision
// creates no row at all.
func (s *Store) CreateUser(ctx context.Context, name, gender string, age int, pushToken string) (User, error) {
	u := User{
		ID:        uuid.NewString(),
		Name:      name,
		Gender:    gender,
		Age:       age,
		PushToken: pushToken,
		CreatedAt: time.Now().UTC(),
	}
	const stmt = `INSERT INTO users (id, name, gender, age, push_token, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, u.ID, u.Name, u.Gender, u.Age, u.PushToken, u.CreatedAt.Format(time.RFC3339)); err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrTokenInUse
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUser returns the user with the given ID.
func (s *Store) GetUser(ctx context.Context, userID string) (User, error) {
	const stmt = `SELECT id, name, gender, age, push_token, created_at FROM users WHERE id = ?`
	var u User
	var createdAt string
	err := s.db.QueryRowContext(ctx, stmt, userID).Scan(&u.ID, &u.Name, &u.Gender, &u.Age, &u.PushToken, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return u, nil
}

// UpdateToken sets the user's push notification token. An empty token
// deregisters the device.
func (s *Store) UpdateToken(ctx context.Context, userID, token string) error {
	const stmt = `UPDATE users SET push_token = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, token, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenInUse
		}
		return fmt.Errorf("update token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AlertTarget returns only the fields needed to deliver an alert to userID.
func (s *Store) AlertTarget(ctx context.Context, userID string) (AlertTarget, error) {
	const stmt = `SELECT name, push_token FROM users WHERE id = ?`
	var t AlertTarget
	err := s.db.QueryRowContext(ctx, stmt, userID).Scan(&t.Name, &t.PushToken)
	if errors.Is(err, sql.ErrNoRows) {
		return AlertTarget{}, ErrUserNotFound
	}
	if err != nil {
		return AlertTarget{}, fmt.Errorf("query alert target: %w", err)
	}
	return t, nil
}

// ClearToken removes a push token from whichever user holds it. Used when
// the provider reports the token as no longer registered.
func (s *Store) ClearToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	const stmt = `UPDATE users SET push_token = '' WHERE push_token = ?`
	res, err := s.db.ExecContext(ctx, stmt, token)
	if err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("cleared stale push token", "users", n)
	}
	return nil
}

// AddSleepRecord inserts a sleep record for the given user.
func (s *Store) AddSleepRecord(ctx context.Context, rec SleepRecord) (SleepRecord, error) {
	if _, err := s.GetUser(ctx, rec.UserID); err != nil {
		return SleepRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	const stmt = `
INSERT INTO sleep_records (id, user_id, rem_percentage, deep_percentage, light_percentage, total_hours, time_of_sleep)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		rec.ID, rec.UserID,
		rec.RemPercentage, rec.DeepPercentage, rec.LightPercentage,
		rec.TotalHours, rec.TimeOfSleep.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return SleepRecord{}, fmt.Errorf("insert sleep record: %w", err)
	}
	return rec, nil
}

// ListSleepRecords returns all sleep records for a user, newest first.
func (s *Store) ListSleepRecords(ctx context.Context, userID string) ([]SleepRecord, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	const stmt = `
SELECT id, user_id, rem_percentage, deep_percentage, light_percentage, total_hours, time_of_sleep
FROM sleep_records WHERE user_id = ? ORDER BY time_of_sleep DESC`
	rows, err := s.db.QueryContext(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("query sleep records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	records := []SleepRecord{}
	for rows.Next() {
		var rec SleepRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.RemPercentage, &rec.DeepPercentage,
			&rec.LightPercentage, &rec.TotalHours, &ts); err != nil {
			return nil, fmt.Errorf("scan sleep record: %w", err)
		}
		rec.TimeOfSleep, _ = time.Parse(time.RFC3339, ts)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sleep records: %w", err)
	}
	return records, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
