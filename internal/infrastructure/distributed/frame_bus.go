package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	"commlink/internal/infrastructure/signal"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// busEnvelope wraps a frame crossing the instance boundary.
type busEnvelope struct {
	InstanceID string               `json:"instance_id"`
	Target     domain.ParticipantID `json:"target"`
	Timestamp  time.Time            `json:"timestamp"`
	Frame      signal.Frame         `json:"frame"`
}

// FrameBus carries signaling frames between relay instances over Redis
// pub/sub. Each instance listens on its own channel; the participant
// registry says which channel a given participant's frames go to.
type FrameBus struct {
	client     *redis.Client
	registry   ports.ParticipantRegistry
	instanceID string
	pubsub     *redis.PubSub
	logger     *zap.SugaredLogger
}

func NewFrameBus(
	client *redis.Client,
	registry ports.ParticipantRegistry,
	instanceID string,
	logger *zap.SugaredLogger,
) *FrameBus {
	return &FrameBus{
		client:     client,
		registry:   registry,
		instanceID: instanceID,
		logger:     logger,
	}
}

func channelFor(instanceID string) string {
	return "commlink:frames:" + instanceID
}

// PublishToParticipant looks up which instance holds the target's
// connection and publishes the frame on that instance's channel.
func (b *FrameBus) PublishToParticipant(ctx context.Context, target domain.ParticipantID, frame signal.Frame) error {
	instanceID, err := b.registry.Lookup(ctx, target)
	if err != nil {
		return err
	}
	if instanceID == b.instanceID {
		// The target should have been delivered locally; a frame
		// looping back through the bus means the connection just
		// moved. Dropping it is safer than an infinite relay.
		return fmt.Errorf("participant %s registered on this instance", target)
	}

	envelope := busEnvelope{
		InstanceID: b.instanceID,
		Target:     target,
		Timestamp:  time.Now(),
		Frame:      frame,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, channelFor(instanceID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}

	b.logger.Debugw("published frame to remote instance",
		"target", target,
		"instance_id", instanceID,
		"type", frame.Type,
	)
	return nil
}

// Subscribe listens on this instance's channel and hands every inbound
// frame to deliver. Blocks until ctx is done.
func (b *FrameBus) Subscribe(ctx context.Context, deliver func(target domain.ParticipantID, frame signal.Frame) error) error {
	if b.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	b.pubsub = b.client.Subscribe(ctx, channelFor(b.instanceID))
	defer b.pubsub.Close()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var envelope busEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				b.logger.Warnw("failed to unmarshal bus envelope", "error", err)
				continue
			}
			if envelope.InstanceID == b.instanceID {
				continue
			}
			if err := deliver(envelope.Target, envelope.Frame); err != nil {
				b.logger.Warnw("failed to deliver bus frame",
					"target", envelope.Target,
					"type", envelope.Frame.Type,
					"error", err,
				)
			}
		}
	}
}

func (b *FrameBus) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
