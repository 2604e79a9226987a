// Package notify announces workspace activity to a Slack channel.
// All posts are best-effort: failures are logged and never propagate into
// the streaming path.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"github.com/promptloom/loom/model"
)

// SlackNotifier posts version and suggestion announcements to one channel.
type SlackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlackNotifier creates a notifier for the given bot token and channel.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		api:     slack.New(token),
		channel: channel,
	}
}

// VersionPublished announces a newly persisted prompt version.
func (n *SlackNotifier) VersionPublished(ctx context.Context, p *model.Prompt) {
	header := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf(":memo: *%s* has a new version", p.Title), false, false),
		nil, nil,
	)
	preview := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType,
			model.Truncate(p.Content, 200), false, false),
	)

	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionBlocks(header, preview),
	)
	if err != nil {
		log.Printf("Slack: failed to post version notification: %v", err)
	}
}

// SuggestionsReady announces a batch of generated suggestions.
func (n *SlackNotifier) SuggestionsReady(ctx context.Context, p *model.Prompt, count int) {
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(
			fmt.Sprintf(":bulb: %d suggestion(s) ready for *%s*", count, p.Title), false),
	)
	if err != nil {
		log.Printf("Slack: failed to post suggestions notification: %v", err)
	}
}
