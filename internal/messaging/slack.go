package messaging

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/slack-go/slack"
)

// slackMaxText is the message text limit of chat.postMessage.
const slackMaxText = 40000

// SlackAPI is the subset of *slack.Client used by the backend.
type SlackAPI interface {
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts each thread as a single channel message; follow-ups go in its
// replies. Slack has no forum tags, so ThreadPost.Tags is ignored.
type Slack struct {
	api SlackAPI
}

// NewSlack creates a client for a bot token.
func NewSlack(token string) (*Slack, error) {
	if token == "" {
		return nil, goerr.New("slack bot token is empty")
	}
	return NewSlackWithAPI(slack.New(token)), nil
}

// NewSlackWithAPI wraps an existing API implementation.
func NewSlackWithAPI(api SlackAPI) *Slack {
	return &Slack{api: api}
}

// ResolveForum checks that channelID is a live, non-DM channel.
func (s *Slack) ResolveForum(ctx context.Context, channelID string) (*Forum, error) {
	if channelID == "" {
		return nil, goerr.Wrap(ErrChannelNotFound, "slack channel id is empty")
	}

	ch, err := s.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		if isSlackNotFound(err) {
			return nil, goerr.Wrap(ErrChannelNotFound, "slack channel lookup failed",
				goerr.V("channel_id", channelID), goerr.V("cause", err.Error()))
		}
		return nil, goerr.Wrap(err, "failed to fetch slack channel", goerr.V("channel_id", channelID))
	}
	if ch == nil || ch.IsArchived || ch.IsIM || ch.IsMpIM {
		return nil, goerr.Wrap(ErrChannelNotFound, "slack channel cannot hold threads",
			goerr.V("channel_id", channelID))
	}
	return &Forum{ID: ch.ID, Name: ch.Name}, nil
}

// CreateThread posts one message holding the title and body; its
// timestamp is the thread id. A failed post leaves nothing in the channel.
func (s *Slack) CreateThread(ctx context.Context, forum *Forum, post ThreadPost) (string, error) {
	text := truncate("*"+post.Title+"*\n"+post.Body, slackMaxText)

	_, ts, err := s.api.PostMessageContext(ctx, forum.ID, slack.MsgOptionText(text, false))
	if err != nil {
		return "", goerr.Wrap(err, "failed to post slack thread",
			goerr.V("channel_id", forum.ID), goerr.V("title", post.Title))
	}
	return ts, nil
}

func isSlackNotFound(err error) bool {
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		return resp.Err == "channel_not_found"
	}
	return err.Error() == "channel_not_found"
}
