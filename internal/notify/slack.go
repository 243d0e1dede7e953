// Package notify delivers human-readable status lines to operators.
package notify

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
)

// Slack posts messages either through a bot token and channel or through
// an incoming webhook.
type Slack struct {
	client     *slack.Client
	channel    string
	webhookURL string
	prefix     string
	logger     *slog.Logger
}

// SlackOptions configures a Slack notifier.
type SlackOptions struct {
	Token      string
	Channel    string
	WebhookURL string
	// Prefix is prepended to every message, usually the cluster name.
	Prefix string
	// APIURL overrides the Slack Web API base URL.
	APIURL string
}

// Notifier is implemented by Slack and Nop.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// New returns a Slack notifier, or Nop when neither a token nor a webhook
// is configured.
func New(opts SlackOptions, logger *slog.Logger) Notifier {
	if opts.Token == "" && opts.WebhookURL == "" {
		logger.Info("no slack token or webhook configured, notifications are disabled")
		return Nop{}
	}

	s := &Slack{
		channel:    opts.Channel,
		webhookURL: opts.WebhookURL,
		prefix:     opts.Prefix,
		logger:     logger,
	}
	if opts.Token != "" {
		var clientOpts []slack.Option
		if opts.APIURL != "" {
			clientOpts = append(clientOpts, slack.OptionAPIURL(opts.APIURL))
		}
		s.client = slack.New(opts.Token, clientOpts...)
	}
	return s
}

// Notify posts text. The bot token takes precedence over the webhook.
func (s *Slack) Notify(ctx context.Context, text string) error {
	if s.prefix != "" {
		text = "[" + s.prefix + "] " + text
	}

	var err error
	if s.client != nil {
		_, _, err = s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	} else {
		err = slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: text})
	}
	if err != nil {
		return apperrors.New(apperrors.ErrNotifyFailed, "notify", "post slack message", err)
	}

	s.logger.Debug("slack notification sent", "text", text)
	return nil
}

// Nop discards every message.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, string) error { return nil }
