package redisclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/notify"
)

const DefaultNotifyChannel = "clinic:notifications"

// Message is what PubSubNotifier publishes.
type Message struct {
	PatientID uuid.UUID      `json:"patient_id"`
	Payload   notify.Payload `json:"payload"`
}

// PubSubNotifier publishes notifications on a Redis channel for a delivery
// service to pick up.
type PubSubNotifier struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

func NewPubSubNotifier(client *redis.Client, channel string, log zerolog.Logger) *PubSubNotifier {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &PubSubNotifier{client: client, channel: channel, log: log}
}

func (n *PubSubNotifier) Send(ctx context.Context, patientID uuid.UUID, p notify.Payload) error {
	data, err := json.Marshal(Message{PatientID: patientID, Payload: p})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	n.log.Debug().
		Str("channel", n.channel).
		Str("entry_id", p.EntryID.String()).
		Msg("notification published")
	return nil
}

// Subscribe decodes messages from the channel until ctx is done. Malformed
// messages are logged and skipped.
func (n *PubSubNotifier) Subscribe(ctx context.Context) (<-chan Message, error) {
	pubsub := n.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", n.channel, err)
	}

	out := make(chan Message, 100)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					n.log.Warn().Err(err).Str("channel", n.channel).Msg("drop malformed notification")
					continue
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
