package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one audit event waiting to be relayed to Kafka.
type Entry struct {
	ID          uuid.UUID
	Provider    string
	Action      string
	RequestID   string
	Payload     []byte // JSON-encoded audit.Event
	CreatedAt   time.Time
	PublishedAt *time.Time
	Attempts    int
	LastError   string
}

func NewEntry(provider, action, requestID string, payload []byte) *Entry {
	return &Entry{
		ID:        uuid.New(),
		Provider:  provider,
		Action:    action,
		RequestID: requestID,
		Payload:   payload,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (e *Entry) Pending() bool {
	return e.PublishedAt == nil
}

// PartitionKey keeps the events of one verify request on one partition so
// consumers see them in order.
func (e *Entry) PartitionKey() []byte {
	if e.RequestID != "" {
		return []byte(e.RequestID)
	}
	return []byte(e.ID.String())
}
