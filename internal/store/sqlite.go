// Package store implements the narrow key-value persistence interface the
// pipeline reads and writes through.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/powlabs/proofwork/internal/types"
)

// Store is the persistence surface exposed to the pipeline. Everything else
// about storage is an external concern.
type Store interface {
	SaveArtifacts(ctx context.Context, subject string, artifacts []types.Artifact) error
	SaveProfile(ctx context.Context, subject string, profile *types.PoWProfile, artifactCount int) error
	GetProfile(ctx context.Context, subject string) (*types.PoWProfile, error)
	Close() error
}

// ErrProfileNotFound is returned when no profile has been generated for a
// subject yet.
var ErrProfileNotFound = errors.New("profile not found")

// SQLiteStore persists artifacts and profiles in a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database under dataDir and
// runs migrations.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "proofwork.db")
	connStr := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("persistence store initialized", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			kind TEXT NOT NULL,
			artifact_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS profiles (
			subject TEXT PRIMARY KEY,
			profile TEXT NOT NULL,
			artifact_count INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_artifacts_subject ON artifacts(subject)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_timestamp ON artifacts(timestamp DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// SaveArtifacts replaces the subject's full artifact set. Replacement, not
// merge, is the contract: every ingestion run produces a complete set.
func (s *SQLiteStore) SaveArtifacts(ctx context.Context, subject string, artifacts []types.Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE subject = ?`, subject); err != nil {
		return fmt.Errorf("clear previous artifacts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO artifacts
		(id, subject, kind, artifact_id, payload, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare artifact insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, a := range artifacts {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode artifact %s: %w", a.Key(), err)
		}
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), subject, string(a.Kind), a.ID, string(payload), a.Timestamp, now); err != nil {
			return fmt.Errorf("insert artifact %s: %w", a.Key(), err)
		}
	}

	return tx.Commit()
}

// SaveProfile upserts the subject's profile.
func (s *SQLiteStore) SaveProfile(ctx context.Context, subject string, profile *types.PoWProfile, artifactCount int) error {
	encoded, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO profiles (subject, profile, artifact_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject) DO UPDATE SET
			profile = excluded.profile,
			artifact_count = excluded.artifact_count,
			updated_at = excluded.updated_at`,
		subject, string(encoded), artifactCount, time.Now())
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	return nil
}

// GetProfile returns the subject's persisted profile or ErrProfileNotFound.
func (s *SQLiteStore) GetProfile(ctx context.Context, subject string) (*types.PoWProfile, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT profile FROM profiles WHERE subject = ?`, subject).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var profile types.PoWProfile
	if err := json.Unmarshal([]byte(encoded), &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	return &profile, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
