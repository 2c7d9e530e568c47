package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grobertson/rosey/pkg/config"
	"github.com/grobertson/rosey/pkg/log"
	"github.com/grobertson/rosey/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rosey",
	Short: "Rosey - NATS-based chat automation bot",
	Long: `Rosey is a chat-platform automation bot built as a NATS service
decomposition: a connection front-end (bot) and a database service
communicate exclusively over the message bus. Plugins get isolated
key-value storage, typed row tables and versioned schema migrations.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Rosey version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initRuntime)

	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(botCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func initRuntime() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	if err := log.Setup(log.Options{Level: logLevel, JSON: logJSON}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	metrics.SetVersion(Version)

	configPath, _ := rootCmd.PersistentFlags().GetString("config")
	loaded, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded
}
