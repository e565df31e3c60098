// Package store provides storage backends for FlowDesk.
//
// This file implements an SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/FlowDesk/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore.NewSQLiteStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to open connection", "error", err)
		return nil, err
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY under concurrent handlers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: migrations applied", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrSettingNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore.GetSetting: query failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore.SetSetting: failed", "error", err, "key", key)
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	slog.Debug("SQLiteStore.SetSetting: succeeded", "key", key)
	return nil
}

func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		slog.Error("SQLiteStore.DeleteSetting: failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	slog.Debug("SQLiteStore.DeleteSetting: succeeded", "key", key)
	return nil
}

func (s *SQLiteStore) AddFlowSubmission(ctx context.Context, sub models.FlowSubmission) error {
	fields, err := encodeFields(sub.Fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_submissions (id, flow_token, screen, fields, created_at) VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.FlowToken, sub.Screen, fields, sub.CreatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore.AddFlowSubmission: failed", "error", err, "id", sub.ID)
		return fmt.Errorf("failed to insert flow submission %s: %w", sub.ID, err)
	}
	slog.Debug("SQLiteStore.AddFlowSubmission: succeeded", "id", sub.ID, "screen", sub.Screen)
	return nil
}

func (s *SQLiteStore) ListFlowSubmissions(ctx context.Context, flowToken string) ([]models.FlowSubmission, error) {
	query := `SELECT id, flow_token, screen, fields, created_at FROM flow_submissions`
	var args []interface{}
	if flowToken != "" {
		query += ` WHERE flow_token = ?`
		args = append(args, flowToken)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore.ListFlowSubmissions: query failed", "error", err)
		return nil, fmt.Errorf("failed to query flow submissions: %w", err)
	}
	defer rows.Close()

	var out []models.FlowSubmission
	for rows.Next() {
		sub, err := scanFlowSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow submissions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) AddSendRecord(ctx context.Context, rec models.SendRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO send_records (id, batch_id, contact_id, phone, template_name, status, skip_code, reason, message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BatchID, rec.ContactID, rec.Phone, rec.TemplateName, string(rec.Status),
		nilIfEmpty(rec.SkipCode), nilIfEmpty(rec.Reason), nilIfEmpty(rec.MessageID), rec.CreatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore.AddSendRecord: failed", "error", err, "batchID", rec.BatchID, "contactID", rec.ContactID)
		return fmt.Errorf("failed to insert send record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListSendRecords(ctx context.Context, batchID string) ([]models.SendRecord, error) {
	query := `SELECT id, batch_id, contact_id, phone, template_name, status, skip_code, reason, message_id, created_at FROM send_records`
	var args []interface{}
	if batchID != "" {
		query += ` WHERE batch_id = ?`
		args = append(args, batchID)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore.ListSendRecords: query failed", "error", err, "batchID", batchID)
		return nil, fmt.Errorf("failed to query send records: %w", err)
	}
	defer rows.Close()

	var out []models.SendRecord
	for rows.Next() {
		rec, err := scanSendRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate send records: %w", err)
	}
	slog.Debug("SQLiteStore.ListSendRecords: succeeded", "batchID", batchID, "count", len(out))
	return out, nil
}

// PruneBefore removes submissions and send records older than cutoff in one transaction.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback()

	var removed int64
	for _, table := range []string{"flow_submissions", "send_records"} {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, cutoff.UTC())
		if err != nil {
			slog.Error("SQLiteStore.PruneBefore: delete failed", "error", err, "table", table)
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count pruned %s: %w", table, err)
		}
		removed += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	slog.Debug("SQLiteStore.PruneBefore: succeeded", "cutoff", cutoff, "removed", removed)
	return removed, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("SQLiteStore.Close: failed to close database", "error", err)
	}
	return err
}
