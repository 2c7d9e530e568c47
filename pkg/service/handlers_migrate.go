package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/grobertson/rosey/pkg/bus"
	"github.com/grobertson/rosey/pkg/metrics"
	"github.com/grobertson/rosey/pkg/migrate"
)

// Plugin migration handlers. The plugin name comes from the subject
// (rosey.db.migrate.{plugin}.<op>); operations run under the engine's
// per-plugin lock.

func (s *Service) handleMigrateApply(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := pluginFromSubject(msg.Subject)
	if !ok {
		respondErr(msg, CodeInvalidSubject, "Invalid subject format")
		return
	}

	target := reqInt(request, "target_version", 0)
	if target == 0 {
		target = reqInt(request, "version", 0)
	}
	appliedBy, _ := request["applied_by"].(string)
	dryRun := reqBool(request, "dry_run")

	outcome, err := s.migrate.Apply(ctx, plugin, target, appliedBy, dryRun)
	if err != nil {
		if errors.Is(err, migrate.ErrLockTimeout) {
			respondErr(msg, CodeLockTimeout,
				fmt.Sprintf("Migration already in progress for plugin %s", plugin))
		} else {
			s.logger.Error().Err(err).Str("plugin", plugin).Msg("Migration apply failed")
			respondErr(msg, CodeInternalError, "Migration apply failed")
		}
		metrics.MigrationsTotal.WithLabelValues("apply", "error").Inc()
		return
	}

	if len(outcome.ValidationErrors) > 0 {
		metrics.MigrationsTotal.WithLabelValues("apply", "rejected").Inc()
		respondErrExtra(msg, CodeValidationFailed,
			fmt.Sprintf("Migrations failed validation: %d error(s)", len(outcome.ValidationErrors)),
			map[string]any{
				"errors":          outcome.ValidationErrors,
				"warnings":        outcome.Warnings,
				"current_version": outcome.CurrentVersion,
			})
		return
	}

	if outcome.FailedVersion > 0 {
		metrics.MigrationsTotal.WithLabelValues("apply", "failed").Inc()
		respondErrExtra(msg, CodeMigrationFailed,
			fmt.Sprintf("Failed at v%03d: %s", outcome.FailedVersion, outcome.FailedMessage),
			map[string]any{
				"applied":         outcome.Applied,
				"current_version": outcome.CurrentVersion,
			})
		return
	}

	metrics.MigrationsTotal.WithLabelValues("apply", "ok").Inc()
	payload := map[string]any{
		"applied":         outcome.Applied,
		"current_version": outcome.CurrentVersion,
	}
	if dryRun {
		payload["message"] = "Dry-run: migrations not committed"
	}
	if len(outcome.Warnings) > 0 {
		payload["warnings"] = outcome.Warnings
	}
	respondOK(msg, payload)
}

func (s *Service) handleMigrateRollback(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := pluginFromSubject(msg.Subject)
	if !ok {
		respondErr(msg, CodeInvalidSubject, "Invalid subject format")
		return
	}

	// Absent version means roll back a single migration
	target := -1
	if v, ok := reqInt64(request, "version"); ok {
		target = int(v)
	}
	appliedBy, _ := request["applied_by"].(string)
	dryRun := reqBool(request, "dry_run")

	outcome, err := s.migrate.Rollback(ctx, plugin, target, appliedBy, dryRun)
	if err != nil {
		if errors.Is(err, migrate.ErrLockTimeout) {
			respondErr(msg, CodeLockTimeout,
				fmt.Sprintf("Migration already in progress for plugin %s", plugin))
		} else {
			s.logger.Error().Err(err).Str("plugin", plugin).Msg("Rollback failed")
			respondErr(msg, CodeInternalError, "Rollback failed")
		}
		metrics.MigrationsTotal.WithLabelValues("rollback", "error").Inc()
		return
	}

	if outcome.FailedVersion > 0 {
		metrics.MigrationsTotal.WithLabelValues("rollback", "failed").Inc()
		respondErrExtra(msg, CodeRollbackFailed,
			fmt.Sprintf("Failed at v%03d: %s", outcome.FailedVersion, outcome.FailedMessage),
			map[string]any{
				"rolled_back":     outcome.RolledBack,
				"current_version": outcome.CurrentVersion,
			})
		return
	}

	metrics.MigrationsTotal.WithLabelValues("rollback", "ok").Inc()
	payload := map[string]any{
		"rolled_back":     outcome.RolledBack,
		"current_version": outcome.CurrentVersion,
	}
	if dryRun {
		payload["message"] = "Dry-run: rollbacks not committed"
	}
	respondOK(msg, payload)
}

func (s *Service) handleMigrateStatus(ctx context.Context, msg *bus.Msg) {
	plugin, ok := pluginFromSubject(msg.Subject)
	if !ok {
		respondErr(msg, CodeInvalidSubject, "Invalid subject format")
		return
	}

	outcome, err := s.migrate.Status(ctx, plugin)
	if err != nil {
		s.logger.Error().Err(err).Str("plugin", plugin).Msg("Status query failed")
		respondErr(msg, CodeInternalError, "Status query failed")
		return
	}

	payload := map[string]any{
		"current_version":    outcome.CurrentVersion,
		"applied_migrations": outcome.Applied,
		"pending_migrations": outcome.Pending,
	}
	if len(outcome.Warnings) > 0 {
		payload["warnings"] = outcome.Warnings
	}
	respondOK(msg, payload)
}
