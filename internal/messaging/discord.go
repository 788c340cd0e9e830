package messaging

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/m-mizutani/goerr/v2"
)

// Discord limits forum thread names and message bodies.
const (
	discordMaxThreadName = 100
	discordMaxContent    = 2000
)

// DiscordAPI is the subset of *discordgo.Session used by the backend.
type DiscordAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ForumThreadStartComplex(channelID string, threadData *discordgo.ThreadStart, messageData *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Discord posts assignments as threads in a guild forum channel.
type Discord struct {
	api DiscordAPI
}

// NewDiscord creates a REST-only session for a bot token. No gateway
// connection is opened.
func NewDiscord(token string) (*Discord, error) {
	if token == "" {
		return nil, goerr.New("discord bot token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create discord session")
	}
	return NewDiscordWithAPI(s), nil
}

// NewDiscordWithAPI wraps an existing API implementation.
func NewDiscordWithAPI(api DiscordAPI) *Discord {
	return &Discord{api: api}
}

// ResolveForum looks up channelID and checks it is a forum channel.
func (d *Discord) ResolveForum(ctx context.Context, channelID string) (*Forum, error) {
	if channelID == "" {
		return nil, goerr.Wrap(ErrChannelNotFound, "forum channel id is empty")
	}

	ch, err := d.api.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		if isDiscordNotFound(err) {
			return nil, goerr.Wrap(ErrChannelNotFound, "discord channel lookup failed",
				goerr.V("channel_id", channelID), goerr.V("cause", err.Error()))
		}
		return nil, goerr.Wrap(err, "failed to fetch discord channel", goerr.V("channel_id", channelID))
	}
	if ch == nil || ch.Type != discordgo.ChannelTypeGuildForum {
		return nil, goerr.Wrap(ErrChannelNotFound, "discord channel is not a forum",
			goerr.V("channel_id", channelID))
	}
	return &Forum{ID: ch.ID, Name: ch.Name}, nil
}

// CreateThread starts a forum post with the body as its first message and
// returns the thread id.
func (d *Discord) CreateThread(ctx context.Context, forum *Forum, post ThreadPost) (string, error) {
	start := &discordgo.ThreadStart{
		Name: truncate(post.Title, discordMaxThreadName),
	}
	if len(post.Tags) > 0 {
		start.AppliedTags = append([]string(nil), post.Tags...)
	}
	msg := &discordgo.MessageSend{
		Content: truncate(post.Body, discordMaxContent),
	}

	th, err := d.api.ForumThreadStartComplex(forum.ID, start, msg, discordgo.WithContext(ctx))
	if err != nil {
		return "", goerr.Wrap(err, "failed to create discord forum thread",
			goerr.V("channel_id", forum.ID), goerr.V("title", start.Name))
	}
	return th.ID, nil
}

func isDiscordNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeMissingAccess:
			return true
		}
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
