package cache

import (
	"context"
	"time"
)

// EventDedupe absorbs at-least-once webhook delivery. MarkProcessed returns
// true when the event id has not been seen within the TTL window, claiming
// it atomically so concurrent deliveries of the same event race safely.
type EventDedupe interface {
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// NoopEventDedupe treats every event as first-seen. Used when Redis is not
// configured; the engine's idempotence guard still keeps reruns harmless.
type NoopEventDedupe struct{}

func (NoopEventDedupe) MarkProcessed(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}
