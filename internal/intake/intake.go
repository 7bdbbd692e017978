// Package intake translates an inbound chat event into a queued job:
// filtering, thread resolution, context assembly, enqueue, and ack.
package intake

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/platform-agent/internal/jobhistory"
	"github.com/p-blackswan/platform-agent/internal/queue"
	"github.com/p-blackswan/platform-agent/internal/threadstore"
)

const (
	ackFormat          = "Got it! Processing in background (job: %s...)"
	queueFailureMsg    = "Sorry, something went wrong while queuing your request. Please try again."
	emptyMentionPrompt = "Hi! What would you like help with?"
)

// Event is a normalized inbound chat event — either a DM message or an
// app_mention, already confirmed to be one of those two kinds by the
// caller (e.g. the Slack adapter).
type Event struct {
	IsMention bool
	Channel   string
	User      string
	Text      string
	MessageTS string
	ThreadTS  string // empty if this message opens a new thread
	SubType   string
}

// ChatClient is the minimal platform capability Intake consumes (§6).
type ChatClient interface {
	PostMessage(channel, threadTS, text string) error
	DescribeUser(userID string) (string, error)
	IsDirectMessage(channel string) (bool, error)
	threadstore.PlatformClient
	WhoAmI() (string, error)
}

// Config configures an Intake.
type Config struct {
	UserAllowlist    map[string]bool
	ChannelAllowlist map[string]bool
	ContextBudget    int
}

// Intake wires event filtering to the thread store and queue.
type Intake struct {
	cfg     Config
	store   *threadstore.Store
	queue   *queue.Queue
	client  ChatClient
	history *jobhistory.Store
	logger  zerolog.Logger
}

// New constructs an Intake. history may be nil to disable audit recording.
func New(cfg Config, store *threadstore.Store, q *queue.Queue, client ChatClient, history *jobhistory.Store, logger zerolog.Logger) *Intake {
	return &Intake{cfg: cfg, store: store, queue: q, client: client, history: history, logger: logger.With().Str("component", "intake").Logger()}
}

func mentionPattern(botID string) *regexp.Regexp {
	return regexp.MustCompile(`<@` + regexp.QuoteMeta(botID) + `>`)
}

func allowed(allowlist map[string]bool, id string) bool {
	if len(allowlist) == 0 {
		return true
	}
	return allowlist[id]
}

// HandleEvent runs the full intake pipeline for one normalized event.
// Any internal failure is caught and surfaced as the fixed queuing
// apology; the event is then dropped either way.
func (in *Intake) HandleEvent(ev Event) {
	if !in.filter(ev) {
		return
	}

	botID, err := in.client.WhoAmI()
	if err != nil {
		in.logger.Warn().Err(err).Msg("whoami failed")
		botID = ""
	}

	prompt := ev.Text
	if botID != "" {
		prompt = mentionPattern(botID).ReplaceAllString(prompt, "")
	}
	prompt = strings.TrimSpace(prompt)

	reply := replyTS(ev)

	if prompt == "" {
		if ev.IsMention {
			if err := in.client.PostMessage(ev.Channel, reply, emptyMentionPrompt); err != nil {
				in.logger.Warn().Err(err).Msg("failed to post empty-mention prompt")
			}
		}
		return
	}

	if err := in.enqueue(ev, botID, prompt, reply); err != nil {
		in.logger.Error().Err(err).Msg("intake failed")
		if postErr := in.client.PostMessage(ev.Channel, reply, queueFailureMsg); postErr != nil {
			in.logger.Warn().Err(postErr).Msg("failed to post queuing-failure apology")
		}
	}
}

func (in *Intake) filter(ev Event) bool {
	if ev.SubType != "" || ev.Text == "" || ev.User == "" {
		return false
	}
	if !allowed(in.cfg.UserAllowlist, ev.User) {
		return false
	}
	if !allowed(in.cfg.ChannelAllowlist, ev.Channel) {
		return false
	}
	if !ev.IsMention {
		isDM, err := in.client.IsDirectMessage(ev.Channel)
		if err != nil {
			in.logger.Warn().Err(err).Msg("is_im check failed, dropping")
			return false
		}
		if !isDM {
			return false
		}
	}
	return true
}

func replyTS(ev Event) string {
	if ev.ThreadTS != "" {
		return ev.ThreadTS
	}
	return ev.MessageTS
}

func (in *Intake) enqueue(ev Event, botID, prompt, reply string) error {
	var threadContext string

	userName, err := in.client.DescribeUser(ev.User)
	if err != nil || userName == "" {
		userName = ev.User
	}

	if ev.ThreadTS != "" {
		file, ok := in.store.Load(reply)
		if !ok {
			file, err = in.store.SeedFromPlatform(reply, ev.Channel, botID, in.client)
			if err != nil {
				in.logger.Warn().Err(err).Msg("seed_from_platform failed, continuing with empty history")
				file = &threadstore.ThreadFile{ThreadTS: reply, Channel: ev.Channel}
			}
		}

		file, err = in.store.Append(reply, ev.Channel, threadstore.ThreadMessage{
			Role: "user",
			Name: userName,
			Text: prompt,
			Ts:   ev.MessageTS,
		})
		if err != nil {
			return fmt.Errorf("append user message: %w", err)
		}

		if len(file.Messages) > 1 {
			threadContext = threadstore.FormatContext(file, in.cfg.ContextBudget)
		}
	}

	job := &queue.Job{
		Channel:       ev.Channel,
		ThreadTS:      reply,
		User:          ev.User,
		Prompt:        prompt,
		ThreadContext: threadContext,
	}

	id, err := in.queue.Submit(job)
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}

	in.history.RecordSubmitted(job)

	ack := fmt.Sprintf(ackFormat, id[:8])
	if err := in.client.PostMessage(ev.Channel, reply, ack); err != nil {
		in.logger.Warn().Err(err).Msg("failed to post ack")
	}
	return nil
}
