package service

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/grobertson/rosey/pkg/bus"
	"github.com/grobertson/rosey/pkg/kv"
	"github.com/grobertson/rosey/pkg/log"
	"github.com/grobertson/rosey/pkg/metrics"
	"github.com/grobertson/rosey/pkg/migrate"
	"github.com/grobertson/rosey/pkg/registry"
	"github.com/grobertson/rosey/pkg/rows"
	"github.com/grobertson/rosey/pkg/storage"
)

// Config holds database-service settings
type Config struct {
	PluginRoot      string
	KVSweepInterval time.Duration
	MaintenanceCron string
}

// Service is the database service: it subscribes to every subject in
// the rosey.db taxonomy and dispatches into the storage layer, schema
// registry, row engine, KV store and migration engine. It is the
// single writer to the database.
type Service struct {
	conn     bus.Conn
	store    *storage.Store
	registry *registry.Registry
	rows     *rows.Engine
	kv       *kv.Store
	migrate  *migrate.Engine
	logger   zerolog.Logger

	cfg    Config
	subs   []bus.Subscription
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Service over an open bus connection and store
func New(conn bus.Conn, store *storage.Store, cfg Config) *Service {
	if cfg.KVSweepInterval <= 0 {
		cfg.KVSweepInterval = kv.DefaultSweepInterval
	}

	reg := registry.New(store.DB(), store.Now)
	return &Service{
		conn:     conn,
		store:    store,
		registry: reg,
		rows:     rows.NewEngine(store.DB(), reg, time.Now),
		kv:       kv.New(store.DB(), store.Now),
		migrate:  migrate.NewEngine(store.DB(), cfg.PluginRoot, time.Now),
		logger:   log.WithComponent("db-service"),
		cfg:      cfg,
	}
}

// Registry exposes the schema registry (CLI, tests)
func (s *Service) Registry() *registry.Registry { return s.registry }

// Start loads the schema cache, subscribes to the full subject
// taxonomy and launches the background loops.
func (s *Service) Start(ctx context.Context) error {
	if err := s.registry.LoadCache(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	subscriptions := []struct {
		pattern string
		handler bus.Handler
	}{
		// Pub/sub state writes
		{bus.SubjectUserJoined, s.pubsub("user.joined", s.handleUserJoined)},
		{bus.SubjectUserLeft, s.pubsub("user.left", s.handleUserLeft)},
		{bus.SubjectMessageLog, s.pubsub("message.log", s.handleMessageLog)},
		{bus.SubjectUserCount, s.pubsub("stats.user_count", s.handleUserCount)},
		{bus.SubjectHighWater, s.pubsub("stats.high_water", s.handleHighWater)},
		{bus.SubjectStatusUpdate, s.pubsub("status.update", s.handleStatusUpdate)},
		{bus.SubjectMarkSent, s.pubsub("outbound.mark_sent", s.handleMarkSent)},
		{bus.SubjectMarkFailed, s.pubsub("outbound.mark_failed", s.handleMarkFailed)},
		{bus.SubjectPMCommand, s.pubsub("action.pm_command", s.handlePMCommand)},

		// Request/reply queries
		{bus.SubjectOutboundGet, s.request("outbound.get", s.handleOutboundGet)},
		{bus.SubjectOutboundEnqueue, s.request("outbound.enqueue", s.handleOutboundEnqueue)},
		{bus.SubjectRecentChatGet, s.request("recent_chat.get", s.handleRecentChat)},
		{bus.SubjectChannelStats, s.request("query.channel_stats", s.handleChannelStats)},
		{bus.SubjectUserStats, s.request("query.user_stats", s.handleUserStats)},
		{bus.SubjectUserCountHistory, s.request("query.user_count_history", s.handleUserCountHistory)},
		{bus.SubjectStatusGet, s.request("query.status", s.handleStatusGet)},

		// Plugin KV
		{bus.SubjectKVSet, s.request("kv.set", s.handleKVSet)},
		{bus.SubjectKVGet, s.request("kv.get", s.handleKVGet)},
		{bus.SubjectKVDelete, s.request("kv.delete", s.handleKVDelete)},
		{bus.SubjectKVList, s.request("kv.list", s.handleKVList)},

		// Plugin row storage
		{bus.PatternSchemaRegister, s.request("row.schema.register", s.handleSchemaRegister)},
		{bus.PatternRowInsert, s.request("row.insert", s.handleRowInsert)},
		{bus.PatternRowSelect, s.request("row.select", s.handleRowSelect)},
		{bus.PatternRowUpdate, s.request("row.update", s.handleRowUpdate)},
		{bus.PatternRowDelete, s.request("row.delete", s.handleRowDelete)},
		{bus.PatternRowSearch, s.request("row.search", s.handleRowSearch)},

		// Plugin migrations
		{bus.PatternMigrateApply, s.request("migrate.apply", s.handleMigrateApply)},
		{bus.PatternMigrateRollback, s.request("migrate.rollback", s.handleMigrateRollback)},
		{bus.PatternMigrateStatus, s.request("migrate.status", s.handleMigrateStatus)},
	}

	for _, sub := range subscriptions {
		handle, err := s.conn.Subscribe(sub.pattern, sub.handler)
		if err != nil {
			s.Stop()
			return err
		}
		s.subs = append(s.subs, handle)
	}

	// Background loops share the shutdown signal
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.kv.Sweep(loopCtx, s.cfg.KVSweepInterval)
	}()

	if s.cfg.MaintenanceCron != "" {
		s.cron = cron.New()
		_, err := s.cron.AddFunc(s.cfg.MaintenanceCron, func() {
			if err := s.store.PerformMaintenance(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("Maintenance failed")
			}
		})
		if err != nil {
			s.Stop()
			return err
		}
		s.cron.Start()
	}

	metrics.RegisterComponent("db-service", true, "")
	s.logger.Info().Int("subscriptions", len(s.subs)).Msg("Database service started")
	return nil
}

// Stop drains subscriptions, stops background loops, finalizes open
// user sessions and leaves the store ready to close.
func (s *Service) Stop() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn().Err(err).Msg("Unsubscribe failed")
		}
	}
	s.subs = nil

	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if closed, err := s.store.FinalizeSessions(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to finalize sessions")
	} else if closed > 0 {
		s.logger.Info().Int64("sessions", closed).Msg("Finalized open sessions")
	}

	metrics.UpdateComponent("db-service", false, "stopped")
	s.logger.Info().Msg("Database service stopped")
}

// pubsub wraps a fire-and-forget handler: errors are logged and
// dropped, panics never escape, metrics are recorded.
func (s *Service) pubsub(name string, fn func(ctx context.Context, msg *bus.Msg) error) bus.Handler {
	return func(msg *bus.Msg) {
		timer := metrics.NewTimer()
		logger := log.WithSubject("db-service", msg.Subject)
		outcome := "ok"
		defer func() {
			if r := recover(); r != nil {
				outcome = "panic"
				logger.Error().Interface("panic", r).Msg("Handler panicked")
			}
			metrics.MessagesTotal.WithLabelValues(name, outcome).Inc()
			timer.ObserveDurationVec(metrics.HandlerDuration, name)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx, msg); err != nil {
			outcome = "error"
			logger.Error().Err(err).Msg("Handler error")
		}
	}
}

// request wraps a request/reply handler: it must respond exactly once,
// even on panic.
func (s *Service) request(name string, fn func(ctx context.Context, msg *bus.Msg)) bus.Handler {
	return func(msg *bus.Msg) {
		timer := metrics.NewTimer()
		defer func() {
			if r := recover(); r != nil {
				log.WithSubject("db-service", msg.Subject).Error().
					Interface("panic", r).Msg("Handler panicked")
				respondErr(msg, CodeInternalError, "Unexpected error")
				metrics.MessagesTotal.WithLabelValues(name, "panic").Inc()
			} else {
				metrics.MessagesTotal.WithLabelValues(name, "ok").Inc()
			}
			timer.ObserveDurationVec(metrics.HandlerDuration, name)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(ctx, msg)
	}
}
