package resolver

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ncode/mattermost-courier/pkg/transport"
)

const channelIDLength = 26

// NotFoundError reports that no team the bot belongs to has a channel
// matching the reference.
type NotFoundError struct {
	Reference string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("channel not found: %s", e.Reference)
}

// Resolver maps channel references to server channel IDs. A reference
// is either a raw channel ID, a "#name", or a bare name. Every call
// re-fetches teams and channels; nothing is cached.
type Resolver struct {
	client transport.Client
	logger *slog.Logger
}

// New creates a Resolver backed by the given client.
func New(client transport.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Resolver{client: client, logger: logger}
}

// Resolve turns a channel reference into a channel ID. Teams are
// searched in server order; within a team the slug is tried first, then
// the display names. The first match wins.
func (r *Resolver) Resolve(reference string) (string, error) {
	name := strings.TrimPrefix(reference, "#")

	// A 26-char alphanumeric string is assumed to already be a channel
	// ID. This is a guess based on the server's ID format: a channel
	// legitimately named with exactly 26 alphanumeric characters would
	// be misclassified and never resolved.
	if looksLikeChannelID(name) {
		return name, nil
	}

	teams, err := r.client.ListTeams()
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", reference, err)
	}

	for _, team := range teams {
		id, found, err := r.client.FindChannelByName(team.Id, name)
		if err != nil {
			r.logger.Warn("channel lookup failed", "team", team.Name, "channel", name, "error", err)
			continue
		}
		if found {
			return id, nil
		}

		channels, err := r.client.ListChannels(team.Id)
		if err != nil {
			r.logger.Warn("channel listing failed", "team", team.Name, "error", err)
			continue
		}
		for _, channel := range channels {
			if channel.DisplayName == name || channel.DisplayName == "#"+name {
				return channel.Id, nil
			}
		}
	}

	return "", &NotFoundError{Reference: reference}
}

func looksLikeChannelID(s string) bool {
	if len(s) != channelIDLength {
		return false
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
