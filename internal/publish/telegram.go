package publish

import (
	"context"
	"fmt"
	"strings"

	"scibot/internal/transport"
)

// Channel publishes messages to a telegram chat or channel through a transport sender.
type Channel struct {
	sender transport.Sender
	target transport.ChatTarget
	opt    *transport.SendOptions
}

func NewChannel(sender transport.Sender, target transport.ChatTarget, disablePreview bool) *Channel {
	return &Channel{
		sender: sender,
		target: target,
		opt:    &transport.SendOptions{DisablePreview: disablePreview},
	}
}

func (c *Channel) Publish(ctx context.Context, text string) (ID, error) {
	if strings.TrimSpace(text) == "" {
		return "", wrap("telegram", "send", ErrEmptyMessage)
	}
	ref, err := c.sender.SendText(ctx, c.target, text, c.opt)
	if err != nil {
		return "", wrap("telegram", "send", err)
	}
	return ID(fmt.Sprintf("tg:%d:%d", ref.ChatID, ref.MessageID)), nil
}
