package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventClaims claims webhook event ids so redelivered batches are not processed
// twice. Redis is optional: a nil *EventClaims claims everything.
type EventClaims struct {
	client *redis.Client
}

func NewEventClaims(redisURL string) (*EventClaims, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &EventClaims{client: client}, nil
}

// Event ids are hashed so the key width stays fixed regardless of what the
// platform puts in webhookEventId.
func eventClaimKey(channelID uint, eventID string) string {
	return fmt.Sprintf("webhook_event:%d:%s", channelID, Hash(eventID))
}

// Claim returns true when this process is the first to see the event.
// Errors are treated as a successful claim: processing an event twice is the
// documented at-least-once behavior, dropping one is not.
func (c *EventClaims) Claim(ctx context.Context, channelID uint, eventID string) bool {
	if c == nil || eventID == "" {
		return true
	}
	ok, err := c.client.SetNX(ctx, eventClaimKey(channelID, eventID), 1, time.Hour).Result()
	if err != nil {
		return true
	}
	return ok
}
