// Package slack provides a Slack bot integration for Codeloom using
// Socket Mode.
//
// Socket Mode connects to Slack via WebSocket -- no public URL needed.
// The bot listens for @mentions, submits coding runs, posts progress
// updates in a Slack thread, and delivers the fragment preview link.
package slack

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/codeloom/codeloom/engine"
	"github.com/codeloom/codeloom/eventbus"
	"github.com/codeloom/codeloom/model"
)

// RunSubmitter is the interface used to submit runs. The engine
// implements this so the bot doesn't depend on its full surface.
type RunSubmitter interface {
	Submit(req model.RunRequest) (*engine.Run, error)
	GetRun(runID string) (*engine.Run, bool)
}

// Bot is the Slack Socket Mode bot for Codeloom.
type Bot struct {
	api          *slack.Client
	socketClient *socketmode.Client
	bus          eventbus.Bus
	runs         RunSubmitter
}

// NewBot creates a new Slack Socket Mode bot.
func NewBot(botToken, appToken string, bus eventbus.Bus, runs RunSubmitter) *Bot {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(log.New(log.Writer(), "slack-socketmode: ", log.LstdFlags)),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		bus:          bus,
		runs:         runs,
	}
}

// Name identifies the channel in logs.
func (b *Bot) Name() string { return "slack" }

// Run connects to Slack via Socket Mode and processes events.
// It blocks until the context is canceled or a fatal error occurs.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	log.Println("Slack bot connecting via Socket Mode...")
	return b.socketClient.RunContext(ctx)
}

// eventLoop reads events from the Socket Mode client and dispatches them.
func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(evt)
		}
	}
}

// handleEvent dispatches a single Socket Mode event.
func (b *Bot) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("Slack: connecting...")
	case socketmode.EventTypeConnected:
		log.Println("Slack: connected")
	case socketmode.EventTypeConnectionError:
		log.Println("Slack: connection error, will retry...")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Acknowledge immediately (Slack requires ack within 3 seconds).
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			b.handleCallbackEvent(eventsAPIEvent.InnerEvent)
		}
	case socketmode.EventTypeInteractive:
		// Acknowledge interactive events even if we don't handle them yet.
		b.socketClient.Ack(*evt.Request)
	}
}

// handleCallbackEvent routes inner Events API events.
func (b *Bot) handleCallbackEvent(innerEvent slackevents.EventsAPIInnerEvent) {
	switch ev := innerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		go b.handleMention(ev)
	}
}

// handleMention processes an @mention of the bot. The Slack channel
// doubles as the project: every run in the same channel shares one
// conversation history.
func (b *Bot) handleMention(ev *slackevents.AppMentionEvent) {
	// Strip the bot mention (<@U12345>) from the text to get the prompt.
	prompt := ev.Text
	if idx := strings.Index(prompt, ">"); idx >= 0 {
		prompt = strings.TrimSpace(prompt[idx+1:])
	}

	// Reply in the thread of the original message.
	threadTS := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		threadTS = ev.ThreadTimeStamp
	}

	if prompt == "" {
		b.postThread(ev.Channel, threadTS,
			"Please describe what to build. Example:\n`@codeloom build a pricing page with three tiers`")
		return
	}

	b.postThread(ev.Channel, threadTS,
		fmt.Sprintf(":rocket: *Building...*\n> %s", prompt))

	run, err := b.runs.Submit(model.RunRequest{
		ProjectID: "slack-" + ev.Channel,
		Prompt:    prompt,
	})
	if err != nil {
		b.postThread(ev.Channel, threadTS,
			fmt.Sprintf(":x: Failed to start run: %s", err))
		return
	}

	b.postThread(ev.Channel, threadTS,
		fmt.Sprintf("Run `%s` created. I'll update you as it progresses.", run.ID))

	go b.monitorRun(run.ID, ev.Channel, threadTS)
}

// monitorRun subscribes to run events and posts key updates to the
// Slack thread. When the run finishes it posts the fragment preview.
func (b *Bot) monitorRun(runID, channel, threadTS string) {
	ch := b.bus.Subscribe(runID)
	defer b.bus.Unsubscribe(runID, ch)

	timeout := time.After(30 * time.Minute)
	for {
		select {
		case <-timeout:
			b.postThread(channel, threadTS, ":hourglass: Gave up waiting for this run.")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			switch event.Type {
			case "status":
				b.postThread(channel, threadTS,
					fmt.Sprintf(":gear: %s", event.Data))

			case "error":
				b.postThread(channel, threadTS,
					fmt.Sprintf(":x: *Error:* %s", event.Data))
				return

			case "done":
				run, found := b.runs.GetRun(runID)
				if !found || run.Outcome == nil || run.Outcome.Fragment == nil {
					b.postThread(channel, threadTS,
						fmt.Sprintf(":white_check_mark: %s", event.Data))
					return
				}
				b.postFragmentMessage(channel, threadTS, run)
				return
			}
		}
	}
}

// postFragmentMessage posts a rich message with the fragment details
// to the Slack thread.
func (b *Bot) postFragmentMessage(channel, threadTS string, run *engine.Run) {
	frag := run.Outcome.Fragment

	headerText := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf(":white_check_mark: *%s*\n%s",
			frag.Title, run.Outcome.Content),
		false, false)
	headerSection := slack.NewSectionBlock(headerText, nil, nil)

	detail := fmt.Sprintf("Run `%s` | %d file(s)", run.ID, len(frag.Files))
	if frag.PreviewURL != "" {
		detail += fmt.Sprintf(" | <%s|Preview>", frag.PreviewURL)
	}
	contextBlock := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, detail, false, false))

	_, _, err := b.api.PostMessage(channel,
		slack.MsgOptionBlocks(headerSection, slack.NewDividerBlock(), contextBlock),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("Slack: failed to post fragment message: %v", err)
		// Fall back to plain text.
		b.postThread(channel, threadTS,
			fmt.Sprintf(":white_check_mark: *%s*\n%s", frag.Title, frag.PreviewURL))
	}
}

// postThread sends a plain text message as a thread reply.
func (b *Bot) postThread(channel, threadTS, text string) {
	_, _, err := b.api.PostMessage(channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("Slack: failed to post message to %s: %v", channel, err)
	}
}
