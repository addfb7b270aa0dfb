package relay

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ncode/mattermost-courier/pkg/notify"
	"github.com/ncode/mattermost-courier/pkg/transport"
)

// Sender dispatches one notification request.
type Sender interface {
	Send(req notify.Request) error
}

// Muter decides whether a request should be suppressed.
type Muter interface {
	Muted(req *notify.Request) bool
}

// Relay is the host-facing surface of courier: a one-shot activation
// check, a teardown hook, and the send capability.
type Relay struct {
	client         transport.Client
	resolver       notify.ChannelResolver
	dispatcher     Sender
	muter          Muter
	defaultChannel string
	logger         *slog.Logger
}

// New creates a Relay. The muter may be nil when no mute rules are
// configured.
func New(client transport.Client, resolver notify.ChannelResolver, dispatcher Sender, muter Muter, defaultChannel string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Relay{
		client:         client,
		resolver:       resolver,
		dispatcher:     dispatcher,
		muter:          muter,
		defaultChannel: defaultChannel,
		logger:         logger,
	}
}

// Activate probes the server and validates the token. A failure at
// either step means the relay is not ready; the caller retries
// activation on its own schedule. A token that belongs to a regular
// user account works but draws a warning.
func (r *Relay) Activate() error {
	if err := r.client.Probe(); err != nil {
		return fmt.Errorf("activation: %w", err)
	}

	user, err := r.client.CurrentUser()
	if err != nil {
		return fmt.Errorf("activation: %w", err)
	}
	if !user.IsBot {
		r.logger.Warn("authenticated account is not a bot account", "username", user.Username)
	}

	if r.defaultChannel != "" {
		if _, err := r.resolver.Resolve(r.defaultChannel); err != nil {
			r.logger.Warn("could not verify default channel", "channel", r.defaultChannel, "error", err)
		}
	}

	r.logger.Info("relay activated", "username", user.Username, "bot", user.IsBot)
	return nil
}

// Deactivate drops pooled connections. In-flight sends are not
// cancelled.
func (r *Relay) Deactivate() {
	type idleCloser interface{ CloseIdleConnections() }
	if c, ok := r.client.(idleCloser); ok {
		c.CloseIdleConnections()
	}
	r.logger.Info("relay deactivated")
}

// Send delivers a request unless a mute rule suppresses it.
func (r *Relay) Send(req notify.Request) error {
	if r.muter != nil && r.muter.Muted(&req) {
		r.logger.Info("request muted by rule", "title", req.Title)
		return nil
	}
	return r.dispatcher.Send(req)
}
