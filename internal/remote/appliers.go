package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/toursync/internal/action"
	"github.com/roach88/toursync/internal/replay"
)

// Appliers returns the appliers for every known action type. Each one is
// safe to run twice for the same action.
func Appliers(c *Client) replay.Appliers {
	return replay.Appliers{
		action.TypeManifestStatus: replay.Typed(c.applyManifestStatus),
		action.TypeChatMessage:    replay.Typed(c.applyChatMessage),
		action.TypeCheckin:        replay.Typed(c.applyCheckin),
	}
}

func (c *Client) applyManifestStatus(ctx context.Context, tourID string, p action.ManifestStatus) error {
	return c.Write(ctx, Path("tours", tourID, "manifest", p.PassengerID), p)
}

// applyChatMessage writes the message, then recounts the thread into
// chatCount. The count never moves backwards.
func (c *Client) applyChatMessage(ctx context.Context, tourID string, p action.ChatMessage) error {
	if err := c.Write(ctx, Path("tours", tourID, "chat", p.MessageID), p); err != nil {
		return err
	}

	var messages map[string]json.RawMessage
	if _, err := c.Read(ctx, Path("tours", tourID, "chat"), &messages); err != nil {
		return err
	}
	total := len(messages)

	return c.Transaction(ctx, Path("tours", tourID, "chatCount"), func(current json.RawMessage) (any, error) {
		var n int
		if current != nil {
			if err := json.Unmarshal(current, &n); err != nil {
				return nil, fmt.Errorf("chatCount is not a number: %w", err)
			}
		}
		return max(n, total), nil
	})
}

func (c *Client) applyCheckin(ctx context.Context, tourID string, p action.Checkin) error {
	return c.Write(ctx, Path("tours", tourID, "checkins", p.StopID), p)
}
