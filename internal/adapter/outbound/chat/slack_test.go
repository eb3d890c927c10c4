package chat

import (
	"context"
	"log/slog"
	"testing"

	"github.com/slack-go/slack"
)

func TestRequestApprovalPostsButtons(t *testing.T) {
	var captured *slack.WebhookMessage
	n := NewNotifier("https://hooks.slack.example/T/B/X", slog.Default())
	n.post = func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
		captured = msg
		return nil
	}

	if err := n.RequestApproval(context.Background(), "appr-123", "[acme] cloud.ops requested by agent-7"); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if captured == nil {
		t.Fatal("no message posted")
	}
	if len(captured.Blocks.BlockSet) != 2 {
		t.Fatalf("block count = %d", len(captured.Blocks.BlockSet))
	}

	actions, ok := captured.Blocks.BlockSet[1].(*slack.ActionBlock)
	if !ok {
		t.Fatalf("second block is %T, want actions", captured.Blocks.BlockSet[1])
	}
	if len(actions.Elements.ElementSet) != 2 {
		t.Fatalf("button count = %d", len(actions.Elements.ElementSet))
	}
	for i, want := range []string{ActionApprove, ActionDeny} {
		btn, ok := actions.Elements.ElementSet[i].(*slack.ButtonBlockElement)
		if !ok {
			t.Fatalf("element %d is %T", i, actions.Elements.ElementSet[i])
		}
		if btn.ActionID != want {
			t.Errorf("button %d action_id = %q, want %q", i, btn.ActionID, want)
		}
		if btn.Value != "appr-123" {
			t.Errorf("button %d value = %q, want pending id", i, btn.Value)
		}
	}
}

func TestRequestApprovalUnconfigured(t *testing.T) {
	n := NewNotifier("", slog.Default())
	n.post = func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
		t.Fatal("post called with no webhook configured")
		return nil
	}
	if err := n.RequestApproval(context.Background(), "appr-123", "summary"); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
}
