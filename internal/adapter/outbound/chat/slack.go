// Package chat sends approval requests to the operator chat channel.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Action IDs carried on the interactive buttons; the callback handler maps
// them to decisions. The button value carries the pending id.
const (
	ActionApprove = "approve"
	ActionDeny    = "deny"
)

// Notifier posts approval requests with Approve and Deny buttons to a
// Slack incoming webhook. An unconfigured notifier logs a warning and
// drops the message; approvals then resolve via signed URLs or expiry.
type Notifier struct {
	webhookURL string
	logger     *slog.Logger
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

func NewNotifier(webhookURL string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		webhookURL: webhookURL,
		logger:     logger,
		post:       slack.PostWebhookContext,
	}
}

// RequestApproval announces a pending approval in the channel.
func (n *Notifier) RequestApproval(ctx context.Context, pendingID, summary string) error {
	if n.webhookURL == "" {
		n.logger.Warn("no chat webhook configured, approval request not announced",
			"pending_id", pendingID, "summary", summary)
		return nil
	}

	header := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, "*Approval Required*\n"+summary, false, false),
		nil, nil)

	approve := slack.NewButtonBlockElement(ActionApprove, pendingID,
		slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false))
	approve.Style = slack.StylePrimary
	deny := slack.NewButtonBlockElement(ActionDeny, pendingID,
		slack.NewTextBlockObject(slack.PlainTextType, "Deny", false, false))
	deny.Style = slack.StyleDanger

	msg := &slack.WebhookMessage{
		Text: "Approval Required: " + summary,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			header,
			slack.NewActionBlock("approval_actions", approve, deny),
		}},
	}

	if err := n.post(ctx, n.webhookURL, msg); err != nil {
		return fmt.Errorf("post approval request %s: %w", pendingID, err)
	}
	return nil
}
