package notifications

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// slackPoster is the slice of the Slack API the channel uses; the real client
// satisfies it and tests stub it.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackChannel posts run reports to one Slack channel.
type SlackChannel struct {
	client    slackPoster
	channelID string
}

// NewSlackChannel creates a Slack delivery channel.
func NewSlackChannel(token, channelID string) (*SlackChannel, error) {
	if token == "" {
		return nil, fmt.Errorf("slack token is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("slack channel ID is required")
	}
	return &SlackChannel{client: slack.New(token), channelID: channelID}, nil
}

// Name returns the channel name.
func (c *SlackChannel) Name() string {
	return "slack"
}

// Deliver posts the run report as a block message.
func (c *SlackChannel) Deliver(ctx context.Context, report *RunReport) error {
	blocks := c.buildMessageBlocks(report)
	fallback := fmt.Sprintf("Scrape run %s: %s", report.RunID, summaryLine(report.Stats))

	_, _, err := c.client.PostMessageContext(
		ctx,
		c.channelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallback, false),
	)
	if err != nil {
		return fmt.Errorf("failed to post run report to Slack: %w", err)
	}
	return nil
}

func (c *SlackChannel) buildMessageBlocks(report *RunReport) []slack.Block {
	emoji := ":white_check_mark:"
	if report.Stats.Errors > 0 {
		emoji = ":warning:"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%s *Scrape run complete*", emoji),
				false,
				false,
			),
			nil,
			nil,
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", summaryLine(report.Stats), false, false),
			nil,
			nil,
		),
	}

	if len(report.TopRates) > 0 {
		text := "*Average hourly rates:*"
		for i, rate := range report.TopRates {
			if i >= 5 {
				break
			}
			text += fmt.Sprintf("\n• %s: $%.2f (%d jobs)", rate.Location, rate.Average, rate.Jobs)
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", text, false, false),
			nil,
			nil,
		))
	}

	return blocks
}
