// Copyright 2025 Certen Protocol
//
// Postgres-backed settlement.Store, grounded on pkg/database/client.go's
// connection-pooling pattern (database/sql + lib/pq) adapted to the
// settlement record schema instead of proof artifacts.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/certen/intent-router/pkg/settlement"
)

// PostgresStore persists SettlementRecords and their transition history in
// two tables: settlement_records (current state) and
// settlement_transitions (append-only history), committed together inside
// one transaction per UpdateWithTransition call.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig configures the underlying connection pool.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// NewPostgresStore opens a pooled connection and verifies it with a ping.
// Callers must have already applied the schema in migrations/ (see
// CreateSchema for the DDL this store expects).
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: postgres DSN must not be empty")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// CreateSchema applies the DDL this store expects. It is idempotent and
// intended for local/dev bootstrapping; production deployments should
// run this as a tracked migration instead.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS settlement_records (
	id                  TEXT PRIMARY KEY,
	intent_id           TEXT NOT NULL,
	solver_id           TEXT NOT NULL,
	user_address        TEXT NOT NULL,
	input_chain_id      TEXT NOT NULL,
	input_denom         TEXT NOT NULL,
	input_amount        NUMERIC NOT NULL,
	output_chain_id     TEXT NOT NULL,
	output_denom        TEXT NOT NULL,
	output_amount       NUMERIC NOT NULL,
	status              TEXT NOT NULL,
	escrow_id           TEXT NOT NULL DEFAULT '',
	solver_bond_id      TEXT NOT NULL DEFAULT '',
	transport_sequence  BIGINT NOT NULL DEFAULT 0,
	transport_detail    TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	expires_at          TIMESTAMPTZ NOT NULL,
	completed_at        TIMESTAMPTZ,
	error_message       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_settlement_records_status ON settlement_records(status);
CREATE INDEX IF NOT EXISTS idx_settlement_records_intent ON settlement_records(intent_id);
CREATE INDEX IF NOT EXISTS idx_settlement_records_solver ON settlement_records(solver_id);

CREATE TABLE IF NOT EXISTS settlement_transitions (
	settlement_id TEXT NOT NULL REFERENCES settlement_records(id),
	seq           SERIAL,
	from_status   TEXT NOT NULL,
	to_status     TEXT NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL,
	details       TEXT NOT NULL DEFAULT '',
	tx_hash       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (settlement_id, seq)
);
`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, record settlement.SettlementRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settlement_records (
	id, intent_id, solver_id, user_address,
	input_chain_id, input_denom, input_amount,
	output_chain_id, output_denom, output_amount,
	status, escrow_id, solver_bond_id, transport_sequence, transport_detail,
	created_at, updated_at, expires_at, completed_at, error_message
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		record.ID, record.IntentID, record.SolverID, record.UserAddress,
		record.InputAsset.ChainID, record.InputAsset.Denom, record.InputAsset.Amount,
		record.OutputAsset.ChainID, record.OutputAsset.Denom, record.OutputAsset.Amount,
		string(record.Status), record.EscrowID, record.SolverBondID, record.TransportSequence, record.TransportDetail,
		record.CreatedAt, record.UpdatedAt, record.ExpiresAt, record.CompletedAt, record.ErrorMessage,
	)
	if isUniqueViolation(err) {
		return settlement.ErrDuplicateID
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (settlement.SettlementRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM settlement_records WHERE id = $1`, id)
	return scanRecord(row)
}

func (s *PostgresStore) GetByIntent(ctx context.Context, intentID string) (settlement.SettlementRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM settlement_records WHERE intent_id = $1 ORDER BY created_at DESC LIMIT 1`, intentID)
	return scanRecord(row)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status settlement.Status, limit int) ([]settlement.SettlementRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM settlement_records WHERE status = $1 ORDER BY created_at ASC`
	args := []interface{}{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *PostgresStore) ListStuck(ctx context.Context, now time.Time) ([]settlement.SettlementRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM settlement_records
		WHERE expires_at < $1 AND status NOT IN ('complete','failed','timed_out')
		ORDER BY created_at ASC`, now)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *PostgresStore) ListBySolver(ctx context.Context, solverID string, limit int) ([]settlement.SettlementRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM settlement_records WHERE solver_id = $1 ORDER BY created_at ASC`
	args := []interface{}{solverID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *PostgresStore) UpdateWithTransition(ctx context.Context, record settlement.SettlementRecord, transition settlement.StateTransition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE settlement_records SET
	status = $2, escrow_id = $3, solver_bond_id = $4, transport_sequence = $5, transport_detail = $6,
	updated_at = $7, completed_at = $8, error_message = $9
WHERE id = $1`,
		record.ID, string(record.Status), record.EscrowID, record.SolverBondID, record.TransportSequence, record.TransportDetail,
		record.UpdatedAt, record.CompletedAt, record.ErrorMessage,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settlement.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO settlement_transitions (settlement_id, from_status, to_status, timestamp, details, tx_hash)
VALUES ($1,$2,$3,$4,$5,$6)`,
		record.ID, string(transition.From), string(transition.To), transition.Timestamp, transition.Details, transition.TxHash,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) GetHistory(ctx context.Context, id string) ([]settlement.StateTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT from_status, to_status, timestamp, details, tx_hash FROM settlement_transitions
WHERE settlement_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.StateTransition
	for rows.Next() {
		var from, to, details, txHash string
		var ts time.Time
		if err := rows.Scan(&from, &to, &ts, &details, &txHash); err != nil {
			return nil, err
		}
		out = append(out, settlement.StateTransition{
			From: settlement.Status(from), To: settlement.Status(to),
			Timestamp: ts, Details: details, TxHash: txHash,
		})
	}
	return out, rows.Err()
}

const recordColumns = `
	id, intent_id, solver_id, user_address,
	input_chain_id, input_denom, input_amount,
	output_chain_id, output_denom, output_amount,
	status, escrow_id, solver_bond_id, transport_sequence, transport_detail,
	created_at, updated_at, expires_at, completed_at, error_message`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (settlement.SettlementRecord, error) {
	var r settlement.SettlementRecord
	var status string
	var inputAmount, outputAmount decimal.Decimal
	var completedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.IntentID, &r.SolverID, &r.UserAddress,
		&r.InputAsset.ChainID, &r.InputAsset.Denom, &inputAmount,
		&r.OutputAsset.ChainID, &r.OutputAsset.Denom, &outputAmount,
		&status, &r.EscrowID, &r.SolverBondID, &r.TransportSequence, &r.TransportDetail,
		&r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt, &completedAt, &r.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.SettlementRecord{}, settlement.ErrNotFound
	}
	if err != nil {
		return settlement.SettlementRecord{}, err
	}

	r.Status = settlement.Status(status)
	r.InputAsset.Amount = inputAmount
	r.OutputAsset.Amount = outputAmount
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]settlement.SettlementRecord, error) {
	defer rows.Close()
	var out []settlement.SettlementRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && (containsAll(err.Error(), "duplicate key") || containsAll(err.Error(), "unique constraint"))
}

func containsAll(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
