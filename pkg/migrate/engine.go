package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/grobertson/rosey/pkg/log"
	"github.com/grobertson/rosey/pkg/types"
)

// Engine orchestrates plugin schema migrations: discovery on disk,
// validation, transactional apply/rollback under per-plugin locking,
// and status with checksum verification.
type Engine struct {
	db    *sql.DB
	root  string
	locks *LockManager
	exec  *executor
}

// NewEngine creates a migration engine. root is the plugin directory
// holding <plugin>/migrations/.
func NewEngine(db *sql.DB, root string, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		db:    db,
		root:  root,
		locks: NewLockManager(),
		exec:  &executor{db: db, now: now},
	}
}

// Applied describes one migration processed by an apply or rollback
type Applied struct {
	Version         int    `json:"version"`
	Name            string `json:"name"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

// ApplyOutcome reports an apply batch. ValidationErrors nonempty means
// the batch was rejected before anything ran; FailedVersion nonzero
// means the batch stopped at that migration.
type ApplyOutcome struct {
	Applied          []Applied
	CurrentVersion   int
	Warnings         []Warning
	ValidationErrors []Warning
	FailedVersion    int
	FailedMessage    string
	DryRun           bool
}

// RollbackOutcome reports a rollback batch
type RollbackOutcome struct {
	RolledBack     []Applied
	CurrentVersion int
	FailedVersion  int
	FailedMessage  string
	DryRun         bool
}

// LedgerEntry is one ledger row as reported by Status
type LedgerEntry struct {
	Version         int     `json:"version"`
	Name            string  `json:"name"`
	Checksum        string  `json:"checksum"`
	AppliedAt       string  `json:"applied_at"`
	AppliedBy       string  `json:"applied_by"`
	Status          string  `json:"status"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	ExecutionTimeMS int64   `json:"execution_time_ms"`
}

// PendingMigration is one discovered-but-unapplied migration
type PendingMigration struct {
	Version  int    `json:"version"`
	Name     string `json:"name"`
	Filename string `json:"filename"`
}

// StatusOutcome reports a plugin's migration state
type StatusOutcome struct {
	CurrentVersion int
	Applied        []LedgerEntry
	Pending        []PendingMigration
	Warnings       []Warning
}

// CurrentVersion returns the highest applied version, or 0
func (e *Engine) CurrentVersion(ctx context.Context, plugin string) (int, error) {
	var version sql.NullInt64
	err := e.db.QueryRowContext(ctx, `
		SELECT MAX(version) FROM plugin_schema_migrations
		WHERE plugin_name = ? AND status = 'applied'
	`, plugin).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// Apply runs pending migrations up to targetVersion (0 for latest)
// under the plugin's lock. The whole batch is validated first; any
// ERROR finding rejects it before anything runs.
func (e *Engine) Apply(ctx context.Context, plugin string, targetVersion int, appliedBy string, dryRun bool) (*ApplyOutcome, error) {
	if appliedBy == "" {
		appliedBy = "system"
	}

	release, err := e.locks.Acquire(plugin, DefaultLockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	discovered, err := Discover(e.root, plugin)
	if err != nil {
		return nil, err
	}
	if targetVersion <= 0 {
		for _, m := range discovered {
			if m.Version > targetVersion {
				targetVersion = m.Version
			}
		}
	}

	current, err := e.CurrentVersion(ctx, plugin)
	if err != nil {
		return nil, err
	}

	var pending []*Migration
	for _, m := range discovered {
		if m.Version > current && m.Version <= targetVersion {
			pending = append(pending, m)
		}
	}

	outcome := &ApplyOutcome{CurrentVersion: current, DryRun: dryRun, Applied: []Applied{}}
	if len(pending) == 0 {
		return outcome, nil
	}

	// Validate the whole batch before anything runs
	for _, m := range pending {
		for _, w := range Validate(m) {
			if w.Level == LevelError {
				outcome.ValidationErrors = append(outcome.ValidationErrors, w)
			} else {
				outcome.Warnings = append(outcome.Warnings, w)
			}
		}
	}
	if len(outcome.ValidationErrors) > 0 {
		return outcome, nil
	}

	logger := log.WithPlugin(plugin)

	if dryRun {
		// The whole dry-run batch shares one transaction so later
		// migrations see earlier ones, then everything rolls back via
		// the sentinel.
		var failed *Migration
		var failedErr error
		err := e.exec.inTransaction(ctx, func(tx *sql.Tx) error {
			for _, m := range pending {
				execMS, err := e.exec.applyInTx(ctx, tx, m, appliedBy)
				if err != nil {
					failed, failedErr = m, err
					return err
				}
				outcome.Applied = append(outcome.Applied, Applied{
					Version:         m.Version,
					Name:            m.Name,
					ExecutionTimeMS: execMS,
				})
				logger.Info().Int("version", m.Version).Bool("dry_run", true).Msg("Applied migration")
			}
			return errDryRunRollback
		})
		if err != nil && failed != nil {
			outcome.FailedVersion = failed.Version
			outcome.FailedMessage = failedErr.Error()
			logger.Error().Err(failedErr).Int("version", failed.Version).Msg("Migration failed")
		}
		return outcome, nil
	}

	for _, m := range pending {
		execMS, err := e.exec.apply(ctx, m, appliedBy)
		if err != nil {
			outcome.FailedVersion = m.Version
			outcome.FailedMessage = err.Error()
			logger.Error().Err(err).Int("version", m.Version).Msg("Migration failed")
			return outcome, nil
		}
		outcome.Applied = append(outcome.Applied, Applied{
			Version:         m.Version,
			Name:            m.Name,
			ExecutionTimeMS: execMS,
		})
		outcome.CurrentVersion = m.Version
		logger.Info().Int("version", m.Version).Msg("Applied migration")
	}

	return outcome, nil
}

// Rollback reverts applied migrations above targetVersion in
// descending order. targetVersion < 0 rolls back a single migration.
func (e *Engine) Rollback(ctx context.Context, plugin string, targetVersion int, appliedBy string, dryRun bool) (*RollbackOutcome, error) {
	release, err := e.locks.Acquire(plugin, DefaultLockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := e.CurrentVersion(ctx, plugin)
	if err != nil {
		return nil, err
	}
	if targetVersion < 0 {
		targetVersion = current - 1
		if targetVersion < 0 {
			targetVersion = 0
		}
	}

	applied, err := e.appliedVersions(ctx, plugin)
	if err != nil {
		return nil, err
	}

	discovered, err := Discover(e.root, plugin)
	if err != nil {
		return nil, err
	}

	outcome := &RollbackOutcome{CurrentVersion: current, DryRun: dryRun, RolledBack: []Applied{}}
	logger := log.WithPlugin(plugin)

	// Descending order: newest first
	var toRollback []*Migration
	for i := len(applied) - 1; i >= 0; i-- {
		version := applied[i]
		if version <= targetVersion {
			break
		}
		m := Find(discovered, version)
		if m == nil {
			outcome.FailedVersion = version
			outcome.FailedMessage = fmt.Sprintf("migration file for version %03d not found", version)
			return outcome, nil
		}
		toRollback = append(toRollback, m)
	}

	if dryRun {
		var failed *Migration
		var failedErr error
		err := e.exec.inTransaction(ctx, func(tx *sql.Tx) error {
			for _, m := range toRollback {
				execMS, err := e.exec.rollbackInTx(ctx, tx, m)
				if err != nil {
					failed, failedErr = m, err
					return err
				}
				outcome.RolledBack = append(outcome.RolledBack, Applied{
					Version:         m.Version,
					Name:            m.Name,
					ExecutionTimeMS: execMS,
				})
				logger.Info().Int("version", m.Version).Bool("dry_run", true).Msg("Rolled back migration")
			}
			return errDryRunRollback
		})
		if err != nil && failed != nil {
			outcome.FailedVersion = failed.Version
			outcome.FailedMessage = failedErr.Error()
			logger.Error().Err(failedErr).Int("version", failed.Version).Msg("Rollback failed")
		}
		return outcome, nil
	}

	for _, m := range toRollback {
		execMS, err := e.exec.rollback(ctx, m)
		if err != nil {
			outcome.FailedVersion = m.Version
			outcome.FailedMessage = err.Error()
			logger.Error().Err(err).Int("version", m.Version).Msg("Rollback failed")
			return outcome, nil
		}
		outcome.RolledBack = append(outcome.RolledBack, Applied{
			Version:         m.Version,
			Name:            m.Name,
			ExecutionTimeMS: execMS,
		})
		outcome.CurrentVersion = m.Version - 1
		logger.Info().Int("version", m.Version).Msg("Rolled back migration")
	}

	if !dryRun && len(outcome.RolledBack) > 0 {
		// Recompute from the ledger; earlier gaps may exist
		outcome.CurrentVersion, err = e.CurrentVersion(ctx, plugin)
		if err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

// Status reports the plugin's migration state with checksum
// verification against the files on disk.
func (e *Engine) Status(ctx context.Context, plugin string) (*StatusOutcome, error) {
	current, err := e.CurrentVersion(ctx, plugin)
	if err != nil {
		return nil, err
	}

	outcome := &StatusOutcome{
		CurrentVersion: current,
		Applied:        []LedgerEntry{},
		Pending:        []PendingMigration{},
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT version, name, checksum, applied_at, applied_by, status,
		       error_message, execution_time_ms
		FROM plugin_schema_migrations
		WHERE plugin_name = ?
		ORDER BY version ASC
	`, plugin)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry LedgerEntry
		var appliedAt int64
		var errMsg sql.NullString
		if err := rows.Scan(&entry.Version, &entry.Name, &entry.Checksum,
			&appliedAt, &entry.AppliedBy, &entry.Status, &errMsg,
			&entry.ExecutionTimeMS); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entry.AppliedAt = time.Unix(appliedAt, 0).UTC().Format(time.RFC3339)
		if errMsg.Valid {
			entry.ErrorMessage = &errMsg.String
		}
		outcome.Applied = append(outcome.Applied, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	discovered, err := Discover(e.root, plugin)
	if err != nil {
		return nil, err
	}

	// Checksum verification for applied migrations
	for _, entry := range outcome.Applied {
		if entry.Status != string(types.MigrationApplied) {
			continue
		}
		m := Find(discovered, entry.Version)
		if m == nil {
			outcome.Warnings = append(outcome.Warnings, Warning{
				Level:    LevelWarning,
				Message:  fmt.Sprintf("migration file not found for applied version %03d", entry.Version),
				Category: "checksum",
				Version:  entry.Version,
				Name:     entry.Name,
			})
			continue
		}
		outcome.Warnings = append(outcome.Warnings, VerifyChecksum(m, entry.Checksum)...)
	}

	// Pending migrations, validated
	for _, m := range discovered {
		if m.Version <= current {
			continue
		}
		outcome.Pending = append(outcome.Pending, PendingMigration{
			Version:  m.Version,
			Name:     m.Name,
			Filename: m.Filename,
		})
		outcome.Warnings = append(outcome.Warnings, Validate(m)...)
	}

	return outcome, nil
}

// appliedVersions lists applied versions ascending
func (e *Engine) appliedVersions(ctx context.Context, plugin string) ([]int, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT version FROM plugin_schema_migrations
		WHERE plugin_name = ? AND status = 'applied'
		ORDER BY version ASC
	`, plugin)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
