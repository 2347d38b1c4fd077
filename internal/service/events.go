package service

import (
	"context"

	"go.uber.org/zap"

	"househunter/internal/logger"
	"househunter/internal/realtime"
)

// publish fans an event out after the mutation behind it has been
// persisted. A failed publish is logged and does not fail the operation.
func publish(ctx context.Context, pub realtime.Publisher, t realtime.Topic, ev realtime.Event) {
	if err := pub.Publish(ctx, t, ev); err != nil {
		logger.FromContext(ctx).Warn("publish event",
			zap.String("topic", t.String()),
			zap.String("kind", string(ev.Kind())),
			zap.Error(err),
		)
	}
}
