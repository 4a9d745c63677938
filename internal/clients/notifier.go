// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package clients

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/yomira-sync/internal/platform/config"
	"github.com/taibuivan/yomira-sync/internal/platform/constants"
)

// # Failure Notifier

// Notifier posts operator-facing failure alerts to an external webhook.
//
// Alerts are per-series rate-limited through a Redis cooldown key (SET NX EX)
// so a flapping source cannot spam the channel. Notification errors never
// propagate into the pipeline.
type Notifier struct {
	webhookURL string
	webhookKey string
	redis      *redis.Client
	http       *http.Client
	cfg        *config.Config
	logger     *slog.Logger
}

// NewNotifier builds the failure notifier. An empty webhook URL disables it.
func NewNotifier(cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) *Notifier {
	return &Notifier{
		webhookURL: cfg.NotifyWebhook,
		webhookKey: cfg.NotifyWebhookKey,
		redis:      redisClient,
		http:       &http.Client{},
		cfg:        cfg,
		logger:     logger,
	}
}

/*
NotifyFailure alerts the operator channel about a persistently failing series.

Description: The Redis cooldown key is claimed first (SET NX EX); when the
claim fails a notification for this series went out within the cooldown
window and the alert is suppressed. All errors are logged and swallowed.
*/
func (n *Notifier) NotifyFailure(ctx context.Context, seriesExternalID, title, message string) {

	if n.webhookURL == "" {
		return
	}

	cooldownKey := constants.RedisPrefixNotifyCooldown + seriesExternalID
	claimed, err := n.redis.SetNX(ctx, cooldownKey, "1", n.cfg.NotifyCooldown()).Result()
	if err != nil {
		n.logger.Warn("notification cooldown check failed",
			slog.String("series", seriesExternalID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !claimed {
		return
	}

	payload := map[string]any{
		"series_external_id": seriesExternalID,
		"title":              title,
		"message":            message,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	}

	if err := callJSON(ctx, n.http, http.MethodPost, n.webhookURL, n.webhookKey, payload, nil, n.cfg.FetchTimeout()); err != nil {
		n.logger.Warn("failure notification not delivered",
			slog.String("series", seriesExternalID),
			slog.String("error", err.Error()),
		)
	}
}
