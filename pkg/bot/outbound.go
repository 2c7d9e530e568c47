package bot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/grobertson/rosey/pkg/bus"
	"github.com/grobertson/rosey/pkg/connection"
	"github.com/grobertson/rosey/pkg/metrics"
	"github.com/grobertson/rosey/pkg/types"
)

const (
	outboundFetchLimit   = 20
	outboundMaxRetries   = 3
	outboundFetchTimeout = 2 * time.Second
)

// outboundLoop polls the database service for queued messages and
// transmits them. Success and failure outcomes are reported back so
// the database can mark rows sent or schedule retry backoff.
func (b *Bot) outboundLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.OutboundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !b.adapter.Connected() || !b.ready() {
			continue
		}

		messages, err := b.fetchOutbound()
		if err != nil {
			if errors.Is(err, bus.ErrTimeout) {
				b.logger.Warn().Msg("Timeout querying outbound messages")
			} else {
				b.logger.Error().Err(err).Msg("Failed to query outbound messages")
			}
			continue
		}

		for _, m := range messages {
			b.transmit(ctx, m)
		}
	}
}

func (b *Bot) fetchOutbound() ([]types.OutboundMessage, error) {
	request, err := json.Marshal(map[string]any{
		"limit":       outboundFetchLimit,
		"max_retries": outboundMaxRetries,
	})
	if err != nil {
		return nil, err
	}

	reply, err := b.conn.Request(bus.SubjectOutboundGet, request, outboundFetchTimeout)
	if err != nil {
		return nil, err
	}

	var response struct {
		Success  bool                    `json:"success"`
		Messages []types.OutboundMessage `json:"messages"`
	}
	if err := json.Unmarshal(reply.Data, &response); err != nil {
		return nil, err
	}
	if !response.Success {
		return nil, errors.New("outbound query rejected")
	}
	return response.Messages, nil
}

func (b *Bot) transmit(ctx context.Context, m types.OutboundMessage) {
	err := b.adapter.SendMessage(ctx, m.Message)
	if err == nil {
		b.publish(bus.SubjectMarkSent, map[string]any{"message_id": m.ID})
		metrics.OutboundProcessed.WithLabelValues("sent").Inc()
		if m.RetryCount > 0 {
			b.logger.Info().Int64("id", m.ID).Int64("retries", m.RetryCount).
				Msg("Sent outbound message after retries")
		} else {
			b.logger.Info().Int64("id", m.ID).Msg("Sent outbound message")
		}
		return
	}

	permanent := connection.IsPermanent(err)
	b.publish(bus.SubjectMarkFailed, map[string]any{
		"message_id": m.ID,
		"error":      err.Error(),
		"permanent":  permanent,
	})

	if permanent {
		metrics.OutboundProcessed.WithLabelValues("permanent_failure").Inc()
		b.logger.Error().Err(err).Int64("id", m.ID).Msg("Outbound message permanently failed")
	} else {
		metrics.OutboundProcessed.WithLabelValues("transient_failure").Inc()
		b.logger.Warn().Err(err).Int64("id", m.ID).Int64("retry", m.RetryCount+1).
			Msg("Outbound message failed, will retry")
	}
}
