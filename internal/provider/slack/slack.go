// Package slack implements the notifier capability using the slack-go
// client. Release reminders, stage announcements, and failure alerts
// all go out as plain channel messages.
package slack

import (
	"context"

	goslack "github.com/slack-go/slack"

	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
)

// Compile-time interface check.
var _ provider.Notifier = (*Client)(nil)

// Options configures the Slack client.
type Options struct {
	// Token is a bot token with chat:write scope.
	Token string
	// DefaultChannel receives messages posted with an empty channel.
	DefaultChannel string
}

// Client posts messages through the Slack Web API.
type Client struct {
	api            *goslack.Client
	defaultChannel string
}

// New creates a Slack client from a bot token.
func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.ErrConfigMissing("slack.token")
	}
	return &Client{
		api:            goslack.New(opts.Token),
		defaultChannel: opts.DefaultChannel,
	}, nil
}

// Name returns the provider key.
func (c *Client) Name() string { return "slack" }

// VerifyCredentials validates the token against auth.test.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	if _, err := c.api.AuthTestContext(ctx); err != nil {
		return errors.ErrProviderTerminal("slack", "verify credentials", err)
	}
	return nil
}

// PostMessage posts text to the channel, falling back to the default
// channel when none is given.
func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	if channel == "" {
		channel = c.defaultChannel
	}
	if channel == "" {
		return errors.ErrConfigMissing("slack.default_channel")
	}
	_, _, err := c.api.PostMessageContext(ctx, channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return errors.ErrProviderTerminal("slack", "post message to "+channel, err)
	}
	return nil
}
