// Package notify posts plain text messages to Discord webhooks.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/olly-social/olly/internal/logger"
)

type Discord struct {
	http       *resty.Client
	webhookURL string
}

// NewDiscord returns a notifier for webhookURL. With an empty URL every
// message is logged and dropped.
func NewDiscord(webhookURL string, timeout time.Duration) *Discord {
	return &Discord{
		http:       resty.New().SetTimeout(timeout),
		webhookURL: webhookURL,
	}
}

type discordMessage struct {
	Content string `json:"content"`
}

func (d *Discord) Notify(ctx context.Context, message string) error {
	if d.webhookURL == "" {
		logger.Log.Warnw("discord webhook is not configured, dropping message", "message", message)
		return nil
	}

	response, err := d.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(discordMessage{Content: message}).
		Post(d.webhookURL)
	if err != nil {
		return err
	}
	if response.IsError() {
		return fmt.Errorf("discord webhook failed: %d", response.StatusCode())
	}

	return nil
}
