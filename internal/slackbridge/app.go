package slackbridge

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/p-blackswan/platform-agent/internal/intake"
)

// EventSink receives normalized events translated off the wire. It is
// satisfied by *intake.Intake.
type EventSink interface {
	HandleEvent(ev intake.Event)
}

// App runs the Socket Mode connection and routes app_mention/message
// events into an EventSink.
type App struct {
	raw    *slack.Client
	socket *socketmode.Client
	sink   EventSink
	logger zerolog.Logger
}

// NewRawClient constructs the underlying *slack.Client used for both
// Socket Mode (App) and outbound API calls (Client). Build this first,
// wrap it with NewClient for intake's ChatClient, then pass it to
// NewApp once the sink (intake.Intake) is ready — this avoids a
// construction cycle between App and its sink.
func NewRawClient(botToken, appToken string) *slack.Client {
	return slack.New(botToken, slack.OptionAppLevelToken(appToken))
}

// NewApp constructs an App around an already-built raw client.
func NewApp(raw *slack.Client, sink EventSink, logger zerolog.Logger) *App {
	return &App{
		raw:    raw,
		socket: socketmode.New(raw),
		sink:   sink,
		logger: logger.With().Str("component", "slackbridge.app").Logger(),
	}
}

// Run starts the Socket Mode event loop. Blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info().Msg("starting socket mode connection")

	go func() {
		for evt := range a.socket.Events {
			a.handleEvent(evt)
		}
	}()

	if err := a.socket.RunContext(ctx); err != nil {
		return fmt.Errorf("slackbridge: socket mode: %w", err)
	}
	return nil
}

func (a *App) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		a.handleEventsAPI(evt)
	default:
		a.logger.Debug().Str("type", string(evt.Type)).Msg("unhandled event type")
	}
}

func (a *App) handleEventsAPI(evt socketmode.Event) {
	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}

	outer, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		a.logger.Warn().Msg("failed to cast events_api payload")
		return
	}
	if outer.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := outer.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.sink.HandleEvent(intake.Event{
			IsMention: true,
			Channel:   ev.Channel,
			User:      ev.User,
			Text:      ev.Text,
			MessageTS: ev.TimeStamp,
			ThreadTS:  ev.ThreadTimeStamp,
		})

	case *slackevents.MessageEvent:
		if ev.User == "" || ev.SubType != "" {
			return
		}
		a.sink.HandleEvent(intake.Event{
			IsMention: false,
			Channel:   ev.Channel,
			User:      ev.User,
			Text:      ev.Text,
			MessageTS: ev.TimeStamp,
			ThreadTS:  ev.ThreadTimeStamp,
			SubType:   ev.SubType,
		})

	default:
		a.logger.Debug().Str("inner_type", outer.InnerEvent.Type).Msg("unhandled callback event type")
	}
}
