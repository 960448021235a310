package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const TaskDeliver = "notification:deliver"

type deliverTask struct {
	PatientID uuid.UUID `json:"patient_id"`
	Payload   Payload   `json:"payload"`
}

// QueueNotifier enqueues notifications as asynq tasks; a worker process
// delivers them through another Notifier.
type QueueNotifier struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

func NewQueueNotifier(client *asynq.Client, queue string) *QueueNotifier {
	if queue == "" {
		queue = "notifications"
	}
	return &QueueNotifier{client: client, queue: queue, maxRetry: 5}
}

func (n *QueueNotifier) Send(ctx context.Context, patientID uuid.UUID, p Payload) error {
	task, err := NewDeliverTask(patientID, p)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.Queue(n.queue), asynq.MaxRetry(n.maxRetry)}
	if p.ExpiresAt != nil {
		// A notification delivered after the grace window is useless.
		opts = append(opts, asynq.Deadline(*p.ExpiresAt))
	}
	if _, err := n.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func NewDeliverTask(patientID uuid.UUID, p Payload) (*asynq.Task, error) {
	data, err := json.Marshal(deliverTask{PatientID: patientID, Payload: p})
	if err != nil {
		return nil, fmt.Errorf("marshal notification task: %w", err)
	}
	return asynq.NewTask(TaskDeliver, data), nil
}

// NewTaskHandler returns the asynq handler that forwards queued
// notifications to next.
func NewTaskHandler(next Notifier, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var dt deliverTask
		if err := json.Unmarshal(t.Payload(), &dt); err != nil {
			log.Error().Err(err).Msg("drop malformed notification task")
			return fmt.Errorf("unmarshal notification task: %w: %w", err, asynq.SkipRetry)
		}
		if dt.Payload.ExpiresAt != nil && time.Now().After(*dt.Payload.ExpiresAt) {
			log.Warn().Str("entry_id", dt.Payload.EntryID.String()).Msg("notification expired before delivery")
			return nil
		}
		return next.Send(ctx, dt.PatientID, dt.Payload)
	}
}
