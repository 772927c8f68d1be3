package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docconvert/logger"
	"docconvert/models"

	"github.com/redis/go-redis/v9"
)

// EventPublisher records every lifecycle transition in the per-conversion
// status hash and fans it out on a pub/sub channel.
type EventPublisher struct {
	redis   redis.Cmdable
	channel string
}

func NewEventPublisher(client redis.Cmdable, channel string) *EventPublisher {
	return &EventPublisher{redis: client, channel: channel}
}

func StatusKey(conversionID int64) string {
	return fmt.Sprintf("conversion:status:%d", conversionID)
}

func (p *EventPublisher) Emit(ctx context.Context, ev models.ConversionEvent) error {
	logger.WithContext(ctx).Info("conversion status changed",
		"event_id", ev.ID,
		"conversion_id", ev.ConversionID,
		"source_file_id", ev.SourceFileID,
		"target_format", ev.TargetFormat,
		"status", ev.Status,
	)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, StatusKey(ev.ConversionID), map[string]interface{}{
			"status":     string(ev.Status),
			"message":    ev.Message,
			"event_id":   ev.ID,
			"updated_at": ev.OccurredAt.Format(time.RFC3339),
		})
		pipe.Publish(ctx, p.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event for conversion %d: %w", ev.ConversionID, err)
	}
	return nil
}
