package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/grobertson/rosey/pkg/log"
)

// errDryRunRollback is the sentinel thrown inside a dry-run
// transaction to trigger the expected rollback. It must never be
// surfaced as a failure or logged as an error.
var errDryRunRollback = errors.New("migrate: dry-run rollback")

// executor runs single migrations inside transactions and keeps the
// ledger in step.
type executor struct {
	db  *sql.DB
	now func() time.Time
}

// recordLedger upserts the ledger row for (plugin, version). The
// upsert lets a failed or rolled-back migration be re-applied without
// violating the unique constraint.
func recordLedger(ctx context.Context, db execer, m *Migration, appliedBy, status string, errMsg *string, execMS int64, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO plugin_schema_migrations
			(plugin_name, version, name, checksum, applied_at, applied_by,
			 status, error_message, execution_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plugin_name, version) DO UPDATE SET
			name = excluded.name,
			checksum = excluded.checksum,
			applied_at = excluded.applied_at,
			applied_by = excluded.applied_by,
			status = excluded.status,
			error_message = excluded.error_message,
			execution_time_ms = excluded.execution_time_ms
	`, m.Plugin, m.Version, m.Name, m.Checksum, at.Unix(), appliedBy,
		status, errMsg, execMS)
	if err != nil {
		return fmt.Errorf("record ledger: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// applyInTx runs one migration's UP section and writes its
// status=applied ledger row inside the caller's transaction.
func (ex *executor) applyInTx(ctx context.Context, tx *sql.Tx, m *Migration, appliedBy string) (int64, error) {
	start := ex.now()
	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return time.Since(start).Milliseconds(), fmt.Errorf("execute UP: %w", err)
	}
	execMS := time.Since(start).Milliseconds()
	if err := recordLedger(ctx, tx, m, appliedBy, "applied", nil, execMS, ex.now()); err != nil {
		return execMS, err
	}
	return execMS, nil
}

// apply runs one migration in its own committed transaction. On
// failure the transaction is rolled back and the ledger records
// status=failed with the error.
func (ex *executor) apply(ctx context.Context, m *Migration, appliedBy string) (int64, error) {
	var execMS int64
	err := ex.inTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		execMS, err = ex.applyInTx(ctx, tx, m, appliedBy)
		return err
	})
	if err != nil {
		ex.recordFailure(ctx, m, appliedBy, err, execMS)
		return execMS, err
	}
	return execMS, nil
}

func (ex *executor) recordFailure(ctx context.Context, m *Migration, appliedBy string, cause error, execMS int64) {
	msg := cause.Error()
	if err := recordLedger(ctx, ex.db, m, appliedBy, "failed", &msg, execMS, ex.now()); err != nil {
		log.WithPlugin(m.Plugin).Error().Err(err).Int("version", m.Version).
			Msg("Failed to record migration failure")
	}
}

// rollbackInTx runs one migration's DOWN section and marks its ledger
// row rolled_back inside the caller's transaction.
func (ex *executor) rollbackInTx(ctx context.Context, tx *sql.Tx, m *Migration) (int64, error) {
	start := ex.now()

	if m.DownSQL == "" {
		return 0, fmt.Errorf("migration %03d has no -- DOWN section", m.Version)
	}
	if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
		return time.Since(start).Milliseconds(), fmt.Errorf("execute DOWN: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE plugin_schema_migrations
		SET status = 'rolled_back'
		WHERE plugin_name = ? AND version = ?
	`, m.Plugin, m.Version); err != nil {
		return time.Since(start).Milliseconds(), fmt.Errorf("update ledger: %w", err)
	}
	return time.Since(start).Milliseconds(), nil
}

// rollback runs one migration's DOWN in its own committed transaction
func (ex *executor) rollback(ctx context.Context, m *Migration) (int64, error) {
	var execMS int64
	err := ex.inTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		execMS, err = ex.rollbackInTx(ctx, tx, m)
		return err
	})
	return execMS, err
}

// inTransaction runs fn inside a transaction. The dry-run sentinel
// rolls back and converts to success; any other error rolls back and
// propagates.
func (ex *executor) inTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := ex.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		if errors.Is(err, errDryRunRollback) {
			return nil
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
