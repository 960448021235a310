package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const TypeWaitlistOpening = "waitlist_opening"

var ErrUnknownNotifier = errors.New("unknown notifier")

// Payload is the message handed to whatever channel reaches the patient.
type Payload struct {
	Type      string     `json:"type"`
	EntryID   uuid.UUID  `json:"entry_id"`
	Subject   string     `json:"subject"`
	Message   string     `json:"message"`
	SlotStart *time.Time `json:"slot_start,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Notifier delivers a payload to a patient.
type Notifier interface {
	Send(ctx context.Context, patientID uuid.UUID, p Payload) error
}

// LogNotifier only writes the notification to the log. Used in development
// and by the CLI.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, patientID uuid.UUID, p Payload) error {
	ev := n.log.Info().
		Str("patient_id", patientID.String()).
		Str("type", p.Type).
		Str("entry_id", p.EntryID.String()).
		Str("subject", p.Subject)
	if p.ExpiresAt != nil {
		ev = ev.Time("expires_at", *p.ExpiresAt)
	}
	ev.Msg("notification")
	return nil
}
