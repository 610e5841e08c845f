package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is stored in outbox_events and shipped as the Pub/Sub
// message body. Subscribers switch on EventType and decode Data into the
// matching struct from payloads.go.
type PayloadEnvelope struct {
	Version     int                   `json:"version"`
	EventID     string                `json:"eventId"`
	EventType   enums.OutboxEventType `json:"eventType"`
	AggregateID uuid.UUID             `json:"aggregateId"`
	OccurredAt  time.Time             `json:"occurredAt"`
	Actor       *ActorRef             `json:"actor,omitempty"`
	Data        json.RawMessage       `json:"data"`
}

var ErrMalformedEnvelope = errors.New("malformed outbox envelope")

// DecodeEnvelope parses a stored payload. Rows written before eventType was
// part of the envelope decode with an empty EventType.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return envelope, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if envelope.EventID == "" {
		return envelope, fmt.Errorf("%w: missing event id", ErrMalformedEnvelope)
	}
	if envelope.Version < 1 || envelope.Version > currentVersion {
		return envelope, fmt.Errorf("%w: unsupported version %d", ErrMalformedEnvelope, envelope.Version)
	}
	return envelope, nil
}
