package evidence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id             UUID PRIMARY KEY,
	user_id        BIGINT NULL,
	client_id      VARCHAR(128) NULL,
	timestamp      TIMESTAMPTZ NOT NULL DEFAULT now(),
	risk_score     DOUBLE PRECISION NOT NULL,
	encrypted_data BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_client_id ON audit_logs (client_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs (timestamp);

CREATE TABLE IF NOT EXISTS biometric_profiles (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NULL,
	model_blob BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore persists evidence in PostgreSQL via lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects and verifies the connection. Tables are created
// separately with Migrate.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	return openPostgres(ctx, "postgres", dsn)
}

func openPostgres(ctx context.Context, driverName, dsn string) (*PostgresStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := NewPostgresStore(db)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	slog.Info("[Evidence] PostgreSQL store ready")
	return s, nil
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate evidence schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, user_id, client_id, timestamp, risk_score, encrypted_data)
		 VALUES ($1, NULL, $2, $3, $4, $5)`,
		rec.ID.String(), rec.ClientID, rec.CreatedAt, rec.RiskScore, rec.Ciphertext)
	if err != nil {
		return fmt.Errorf("insert audit log %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(client_id, ''), timestamp, risk_score, encrypted_data
		   FROM audit_logs ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec Record
			id  string
		)
		if err := rows.Scan(&id, &rec.ClientID, &rec.CreatedAt, &rec.RiskScore, &rec.Ciphertext); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("audit log id %q: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestProfile(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT model_blob FROM biometric_profiles ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoProfile
	}
	if err != nil {
		return nil, fmt.Errorf("query biometric profile: %w", err)
	}
	return blob, nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, blob []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO biometric_profiles (model_blob) VALUES ($1)`, blob); err != nil {
		return fmt.Errorf("insert biometric profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) Close() error { return s.db.Close() }
