package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/grobertson/rosey/pkg/bot"
	"github.com/grobertson/rosey/pkg/bus"
	"github.com/grobertson/rosey/pkg/connection"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the connection front-end",
	Long: `Run the bot: connects to the chat platform, normalizes platform
events, mirrors channel state and publishes state writes to the
database service over the bus.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, _ := cmd.Flags().GetString("platform")

		transport, err := connection.NewTransport(platform, cfg.Bot.Domain, cfg.Bot.Name, cfg.Bot.Channel)
		if err != nil {
			return err
		}
		adapter := connection.NewEventConn(transport)

		conn, err := bus.Connect(bus.Config{
			URL:            cfg.NATS.URL,
			Name:           "rosey-bot-" + uuid.NewString()[:8],
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  time.Duration(cfg.NATS.ReconnectWaitSeconds) * time.Second,
			ConnectTimeout: time.Duration(cfg.NATS.ConnectTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		defer conn.Close()

		b := bot.New(adapter, conn, bot.Config{
			Name:              cfg.Bot.Name,
			Channel:           cfg.Bot.Channel,
			UserCountInterval: time.Duration(cfg.Intervals.UserCountSeconds) * time.Second,
			StatusInterval:    time.Duration(cfg.Intervals.StatusSeconds) * time.Second,
			OutboundInterval:  time.Duration(cfg.Intervals.OutboundSeconds) * time.Second,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return b.Run(ctx)
	},
}

func init() {
	botCmd.Flags().String("platform", "loopback", "Platform transport scheme (see connection.RegisterTransport)")
}
