// Package messaging creates assignment threads on a chat platform.
package messaging

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ErrChannelNotFound is returned by ResolveForum when the channel does not
// exist or cannot hold threads.
var ErrChannelNotFound = errors.New("forum channel not found or invalid")

// Forum is a resolved channel that accepts new threads.
type Forum struct {
	ID   string
	Name string
}

// ThreadPost is the content of a new thread.
type ThreadPost struct {
	Title string
	Body  string
	Tags  []string
}

// Client is a platform backend.
type Client interface {
	ResolveForum(ctx context.Context, channelID string) (*Forum, error)
	CreateThread(ctx context.Context, forum *Forum, post ThreadPost) (string, error)
}

const (
	PlatformDiscord = "discord"
	PlatformSlack   = "slack"
)

// New builds the backend for platform using a bot token.
func New(platform, token string) (Client, error) {
	switch strings.ToLower(platform) {
	case PlatformDiscord, "":
		d, err := NewDiscord(token)
		if err != nil {
			return nil, err
		}
		return d, nil
	case PlatformSlack:
		s, err := NewSlack(token)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, goerr.New("unsupported messaging platform", goerr.V("platform", platform))
	}
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
