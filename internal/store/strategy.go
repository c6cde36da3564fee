// Package store implements the two persistence namespaces the engine needs:
// a sqlite-backed OLTP store for strategy instances and the account audit
// log, and a duckdb-backed OLAP store for historical candles. Both follow
// the teacher's internal/adapters/storage SQLite adapter in applying their
// schema at construction and scoping queries to a context; only the sqlite
// store uses a pure-Go driver.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

const strategySchema = `
CREATE TABLE IF NOT EXISTS strategies (
    user_id     TEXT NOT NULL,
    id          TEXT NOT NULL,
    symbol      TEXT NOT NULL,
    account_id  TEXT NOT NULL,
    timeframe   TEXT NOT NULL,
    engine_kind TEXT NOT NULL,
    source      BLOB NOT NULL,
    status      TEXT NOT NULL,
    status_msg  TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL,
    PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS account_audit (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id   TEXT NOT NULL,
    op           TEXT NOT NULL,
    amount       TEXT NOT NULL,
    note         TEXT NOT NULL DEFAULT '',
    timestamp_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_account_audit_account ON account_audit(account_id);
`

// SQLiteStore implements ports.StrategyStore and ports.AccountAuditStore
// over a single sqlite database, the engine's OLTP namespace.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the sqlite database at dsn and applies
// the schema. dsn may be ":memory:" for tests.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &domain.StoreError{Kind: domain.StoreErrorInit, Msg: fmt.Sprintf("open %q", dsn), Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(strategySchema); err != nil {
		db.Close()
		return nil, &domain.StoreError{Kind: domain.StoreErrorInit, Msg: "apply schema", Err: err}
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save inserts or replaces a strategy instance under its (user_id, id) key.
func (s *SQLiteStore) Save(ctx context.Context, instance *domain.StrategyInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO strategies
		  (user_id, id, symbol, account_id, timeframe, engine_kind, source, status, status_msg, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		instance.UserID, instance.ID, instance.Symbol, instance.AccountID, string(instance.TimeFrame),
		string(instance.EngineKind), instance.Source, instance.Status.State, instance.Status.Message,
		instance.CreatedAt.UTC(), instance.UpdatedAt.UTC(),
	)
	if err != nil {
		return &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "save strategy", Err: err}
	}
	return nil
}

// UpdateStatus mutates only the status columns of a persisted strategy.
// Callers are responsible for the "status never moves backward" invariant
// (spec.md 4.10); the store itself performs no validation of the transition.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, userID, id string, status domain.StrategyStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE strategies SET status=?, status_msg=?, updated_at=? WHERE user_id=? AND id=?`,
		status.State, status.Message, time.Now().UTC(), userID, id,
	)
	if err != nil {
		return &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "update strategy status", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "rows affected", Err: err}
	}
	if n == 0 {
		return &domain.StoreError{Kind: domain.StoreErrorNotFound, Msg: fmt.Sprintf("strategy %s/%s", userID, id)}
	}
	return nil
}

// Get returns a single strategy instance, or a StoreErrorNotFound.
func (s *SQLiteStore) Get(ctx context.Context, userID, id string) (*domain.StrategyInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, id, symbol, account_id, timeframe, engine_kind, source, status, status_msg, created_at, updated_at
		FROM strategies WHERE user_id=? AND id=?`, userID, id)
	instance, err := scanStrategy(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &domain.StoreError{Kind: domain.StoreErrorNotFound, Msg: fmt.Sprintf("strategy %s/%s", userID, id)}
	}
	if err != nil {
		return nil, &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "get strategy", Err: err}
	}
	return instance, nil
}

// List returns every strategy instance owned by userID.
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]*domain.StrategyInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, id, symbol, account_id, timeframe, engine_kind, source, status, status_msg, created_at, updated_at
		FROM strategies WHERE user_id=? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "list strategies", Err: err}
	}
	defer rows.Close()

	var out []*domain.StrategyInstance
	for rows.Next() {
		instance, err := scanStrategy(rows.Scan)
		if err != nil {
			return nil, &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "scan strategy row", Err: err}
		}
		out = append(out, instance)
	}
	return out, rows.Err()
}

func scanStrategy(scan func(dest ...any) error) (*domain.StrategyInstance, error) {
	var instance domain.StrategyInstance
	var tf, kind, state, msg string
	if err := scan(&instance.UserID, &instance.ID, &instance.Symbol, &instance.AccountID,
		&tf, &kind, &instance.Source, &state, &msg, &instance.CreatedAt, &instance.UpdatedAt); err != nil {
		return nil, err
	}
	instance.TimeFrame = domain.TimeFrame(tf)
	instance.EngineKind = domain.EngineKind(kind)
	instance.Status = domain.StrategyStatus{State: state, Message: msg}
	return &instance, nil
}

// Append persists one account audit entry (ports.AccountAuditStore).
func (s *SQLiteStore) Append(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_audit (account_id, op, amount, note, timestamp_ms) VALUES (?,?,?,?,?)`,
		entry.AccountID, entry.Op, entry.Amount.String(), entry.Note, entry.TimestampMs,
	)
	if err != nil {
		return &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "append audit entry", Err: err}
	}
	return nil
}
