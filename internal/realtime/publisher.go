package realtime

import (
	"context"

	"github.com/nestlinghq/nestling/backend/internal/activity"
	"go.uber.org/zap"
)

// Publisher is the only path by which persisted writes become visible to
// other live devices. Callers invoke it strictly after the write is durable;
// delivery itself is best-effort and unacknowledged.
type Publisher struct {
	registry *Registry
	logger   *zap.Logger
}

func NewPublisher(registry *Registry, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{registry: registry, logger: logger}
}

// PublishActivity wraps the record in an activity envelope and broadcasts it
// to every live connection in the family's room. senderID is the originating
// device, when known, so that device's reconciler can suppress the echo of
// its own write. HTTP writers hold no room membership, so no connection is
// excluded.
func (p *Publisher) PublishActivity(ctx context.Context, familyID string, action Action, record activity.Record, senderID string) {
	payload, err := MarshalActivity(action, record, senderID)
	if err != nil {
		p.logger.Error("failed to encode activity envelope",
			zap.String("family_id", familyID),
			zap.String("action", string(action)),
			zap.Error(err))
		return
	}
	p.registry.Broadcast(ctx, familyID, payload, nil)
}
