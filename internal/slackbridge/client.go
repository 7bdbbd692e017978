// Package slackbridge adapts github.com/slack-go/slack's Socket Mode
// client to the minimal ChatClient surface intake and threadstore
// consume (SPEC_FULL.md §6). It keeps the teacher's channel-allowlist
// enforcement on posting operations, but restores display-name
// resolution (GetUserInfo) that the donor's SafeSlackClient omits —
// this domain's seeding and context-assembly operations require it.
// See DESIGN.md's "Slack adapter" entry for the full rationale.
package slackbridge

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/platform-agent/internal/threadstore"
)

// API is the subset of *slack.Client used by Client, narrowed for
// testability.
type API interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	GetConversationInfo(input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetConversationReplies(params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetUserInfo(userID string) (*slack.User, error)
	AuthTest() (*slack.AuthTestResponse, error)
}

// Client wraps a Slack API client with channel-allowlist enforcement
// on posting operations. Read-only operations (thread history, user
// info, channel info, auth test) are not allowlist-gated.
type Client struct {
	inner           API
	allowedChannels map[string]bool
	logger          zerolog.Logger
}

// NewClient creates a Client. allowedChannels restricts which channels
// the bot may post to; empty means fail-closed (no channel allowed).
func NewClient(inner API, allowedChannels []string, logger zerolog.Logger) *Client {
	allowed := make(map[string]bool, len(allowedChannels))
	for _, ch := range allowedChannels {
		allowed[ch] = true
	}
	return &Client{
		inner:           inner,
		allowedChannels: allowed,
		logger:          logger.With().Str("component", "slackbridge").Logger(),
	}
}

// PostMessage posts text to channel (threaded under threadTS if set),
// refusing non-allowlisted channels.
func (c *Client) PostMessage(channel, threadTS, text string) error {
	if !c.allowedChannels[channel] {
		c.logger.Warn().Str("channel", channel).Msg("blocked post to non-allowlisted channel")
		return fmt.Errorf("channel %s is not in the allowed channels list", channel)
	}
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, _, err := c.inner.PostMessage(channel, opts...)
	if err != nil {
		return fmt.Errorf("slackbridge: post message: %w", err)
	}
	return nil
}

// ListReplies fetches up to limit messages in a thread (read-only, not
// allowlist-gated).
func (c *Client) ListReplies(channel, ts string, limit int) ([]threadstore.PlatformMessage, error) {
	msgs, _, _, err := c.inner.GetConversationReplies(&slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: ts,
		Limit:     limit,
		Inclusive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("slackbridge: list replies: %w", err)
	}
	out := make([]threadstore.PlatformMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, threadstore.PlatformMessage{
			Ts:    m.Timestamp,
			User:  m.User,
			BotID: m.BotID,
			Text:  m.Text,
		})
	}
	return out, nil
}

// DescribeUser resolves a user ID to a display name (read-only).
func (c *Client) DescribeUser(userID string) (string, error) {
	u, err := c.inner.GetUserInfo(userID)
	if err != nil {
		return "", fmt.Errorf("slackbridge: describe user %s: %w", userID, err)
	}
	if u.Profile.DisplayName != "" {
		return u.Profile.DisplayName, nil
	}
	if u.RealName != "" {
		return u.RealName, nil
	}
	return u.Name, nil
}

// IsDirectMessage confirms a channel is a DM conversation (read-only).
func (c *Client) IsDirectMessage(channel string) (bool, error) {
	info, err := c.inner.GetConversationInfo(&slack.GetConversationInfoInput{ChannelID: channel})
	if err != nil {
		return false, fmt.Errorf("slackbridge: get conversation info: %w", err)
	}
	return info.IsIM, nil
}

// WhoAmI returns the bridge's own bot user ID.
func (c *Client) WhoAmI() (string, error) {
	resp, err := c.inner.AuthTest()
	if err != nil {
		return "", fmt.Errorf("slackbridge: auth test: %w", err)
	}
	return resp.UserID, nil
}
