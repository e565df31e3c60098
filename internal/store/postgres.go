// Package store provides storage backends for FlowDesk.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/FlowDesk/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore.NewPostgresStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to open connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: migrations applied")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrSettingNotFound
	}
	if err != nil {
		slog.Error("PostgresStore.GetSetting: query failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		slog.Error("PostgresStore.SetSetting: failed", "error", err, "key", key)
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	slog.Debug("PostgresStore.SetSetting: succeeded", "key", key)
	return nil
}

func (s *PostgresStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = $1`, key); err != nil {
		slog.Error("PostgresStore.DeleteSetting: failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) AddFlowSubmission(ctx context.Context, sub models.FlowSubmission) error {
	fields, err := encodeFields(sub.Fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_submissions (id, flow_token, screen, fields, created_at) VALUES ($1, $2, $3, $4::jsonb, $5)`,
		sub.ID, sub.FlowToken, sub.Screen, fields, sub.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore.AddFlowSubmission: failed", "error", err, "id", sub.ID)
		return fmt.Errorf("failed to insert flow submission %s: %w", sub.ID, err)
	}
	slog.Debug("PostgresStore.AddFlowSubmission: succeeded", "id", sub.ID, "screen", sub.Screen)
	return nil
}

func (s *PostgresStore) ListFlowSubmissions(ctx context.Context, flowToken string) ([]models.FlowSubmission, error) {
	query := `SELECT id, flow_token, screen, fields::text, created_at FROM flow_submissions`
	var args []interface{}
	if flowToken != "" {
		query += ` WHERE flow_token = $1`
		args = append(args, flowToken)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore.ListFlowSubmissions: query failed", "error", err)
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

func (s *PostgresStore) AddSendRecord(ctx context.Context, rec models.SendRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO send_records (id, batch_id, contact_id, phone, template_name, status, skip_code, reason, message_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.BatchID, rec.ContactID, rec.Phone, rec.TemplateName, string(rec.Status),
		nilIfEmpty(rec.SkipCode), nilIfEmpty(rec.Reason), nilIfEmpty(rec.MessageID), rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore.AddSendRecord: failed", "error", err, "batchID", rec.BatchID, "contactID", rec.ContactID)
		return fmt.Errorf("failed to insert send record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListSendRecords(ctx context.Context, batchID string) ([]models.SendRecord, error) {
	query := `SELECT id, batch_id, contact_id, phone, template_name, status, skip_code, reason, message_id, created_at FROM send_records`
	var args []interface{}
	if batchID != "" {
		query += ` WHERE batch_id = $1`
		args = append(args, batchID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore.ListSendRecords: query failed", "error", err, "batchID", batchID)
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
	return out, nil
}

// PruneBefore removes submissions and send records older than cutoff in one transaction.
func (s *PostgresStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback()

	var removed int64
	for _, table := range []string{"flow_submissions", "send_records"} {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < $1`, cutoff)
		if err != nil {
			slog.Error("PostgresStore.PruneBefore: delete failed", "error", err, "table", table)
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
	slog.Debug("PostgresStore.PruneBefore: succeeded", "cutoff", cutoff, "removed", removed)
	return removed, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("PostgresStore.Close: failed to close database", "error", err)
	}
	return err
}
