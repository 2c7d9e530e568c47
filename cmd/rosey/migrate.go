package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/grobertson/rosey/pkg/migrate"
	"github.com/grobertson/rosey/pkg/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage plugin schema migrations",
	Long: `Apply, roll back and inspect plugin schema migrations directly
against the database. The database service must not be running while
migrating from the CLI; use the bus subjects for online migrations.`,
}

func openMigrateEngine() (*storage.Store, *migrate.Engine, error) {
	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return store, migrate.NewEngine(store.DB(), cfg.Plugins.Root, time.Now), nil
}

var migrateApplyCmd = &cobra.Command{
	Use:   "apply <plugin>",
	Short: "Apply pending migrations for a plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plugin := args[0]
		target, _ := cmd.Flags().GetInt("version")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		appliedBy, _ := cmd.Flags().GetString("applied-by")

		store, engine, err := openMigrateEngine()
		if err != nil {
			return err
		}
		defer store.Close()

		outcome, err := engine.Apply(context.Background(), plugin, target, appliedBy, dryRun)
		if err != nil {
			return err
		}

		for _, warning := range outcome.Warnings {
			fmt.Printf("  %s: %s\n", warning.Level, warning.Message)
		}
		for _, warning := range outcome.ValidationErrors {
			fmt.Printf("  %s: %s\n", warning.Level, warning.Message)
		}
		if len(outcome.ValidationErrors) > 0 {
			return fmt.Errorf("validation failed, nothing applied")
		}

		for _, applied := range outcome.Applied {
			fmt.Printf("  applied %03d_%s (%dms)\n", applied.Version, applied.Name, applied.ExecutionTimeMS)
		}
		if outcome.FailedVersion > 0 {
			return fmt.Errorf("failed at v%03d: %s", outcome.FailedVersion, outcome.FailedMessage)
		}
		if dryRun {
			fmt.Println("Dry run completed. No changes made.")
		}
		fmt.Printf("Current version: %d\n", outcome.CurrentVersion)
		return nil
	},
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback <plugin>",
	Short: "Roll back applied migrations for a plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plugin := args[0]
		target := -1
		if cmd.Flags().Changed("version") {
			target, _ = cmd.Flags().GetInt("version")
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		appliedBy, _ := cmd.Flags().GetString("applied-by")

		store, engine, err := openMigrateEngine()
		if err != nil {
			return err
		}
		defer store.Close()

		outcome, err := engine.Rollback(context.Background(), plugin, target, appliedBy, dryRun)
		if err != nil {
			return err
		}

		for _, rolled := range outcome.RolledBack {
			fmt.Printf("  rolled back %03d_%s (%dms)\n", rolled.Version, rolled.Name, rolled.ExecutionTimeMS)
		}
		if outcome.FailedVersion > 0 {
			return fmt.Errorf("failed at v%03d: %s", outcome.FailedVersion, outcome.FailedMessage)
		}
		fmt.Printf("Current version: %d\n", outcome.CurrentVersion)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status <plugin>",
	Short: "Show migration status for a plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, engine, err := openMigrateEngine()
		if err != nil {
			return err
		}
		defer store.Close()

		outcome, err := engine.Status(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Current version: %d\n", outcome.CurrentVersion)
		if len(outcome.Applied) > 0 {
			fmt.Println("Applied:")
			for _, entry := range outcome.Applied {
				fmt.Printf("  %03d_%s  %s  by %s at %s\n",
					entry.Version, entry.Name, entry.Status, entry.AppliedBy, entry.AppliedAt)
			}
		}
		if len(outcome.Pending) > 0 {
			fmt.Println("Pending:")
			for _, pending := range outcome.Pending {
				fmt.Printf("  %03d_%s (%s)\n", pending.Version, pending.Name, pending.Filename)
			}
		}
		for _, warning := range outcome.Warnings {
			fmt.Printf("  %s: %s\n", warning.Level, warning.Message)
		}
		return nil
	},
}

func init() {
	migrateApplyCmd.Flags().Int("version", 0, "Target version (0 = latest)")
	migrateApplyCmd.Flags().Bool("dry-run", false, "Validate and execute without committing")
	migrateApplyCmd.Flags().String("applied-by", "cli", "Who is applying the migration")

	migrateRollbackCmd.Flags().Int("version", 0, "Target version (default: one step back)")
	migrateRollbackCmd.Flags().Bool("dry-run", false, "Execute without committing")
	migrateRollbackCmd.Flags().String("applied-by", "cli", "Who is rolling back")

	migrateCmd.AddCommand(migrateApplyCmd)
	migrateCmd.AddCommand(migrateRollbackCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}
