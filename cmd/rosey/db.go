package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/grobertson/rosey/pkg/bus"
	"github.com/grobertson/rosey/pkg/log"
	"github.com/grobertson/rosey/pkg/metrics"
	"github.com/grobertson/rosey/pkg/service"
	"github.com/grobertson/rosey/pkg/storage"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run the database service",
	Long: `Run the database service: the single writer to the SQLite store.
It subscribes to every rosey.db subject on the bus and serves state
writes, queries, plugin KV, plugin row tables and plugin migrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.WithComponent("main")

		store, err := storage.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()

		conn, err := bus.Connect(bus.Config{
			URL:            cfg.NATS.URL,
			Name:           "rosey-db-" + uuid.NewString()[:8],
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  time.Duration(cfg.NATS.ReconnectWaitSeconds) * time.Second,
			ConnectTimeout: time.Duration(cfg.NATS.ConnectTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		defer conn.Close()

		svc := service.New(conn, store, service.Config{
			PluginRoot:      cfg.Plugins.Root,
			KVSweepInterval: time.Duration(cfg.Intervals.KVSweepSeconds) * time.Second,
			MaintenanceCron: cfg.Intervals.MaintenanceCron,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start service: %w", err)
		}

		var metricsSrv *http.Server
		if cfg.Metrics.Addr != "" {
			metricsSrv = metrics.NewServer(cfg.Metrics.Addr)
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error().Err(err).Msg("Metrics server failed")
				}
			}()
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics server listening")
		}

		logger.Info().Str("db", cfg.Database.Path).Msg("Database service running")
		<-ctx.Done()
		logger.Info().Msg("Shutdown requested")

		// Ordered shutdown: stop handlers and loops, then the bus,
		// then the database (via defers).
		svc.Stop()
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	},
}
