package domain

import "time"

type InboxMessageStatus string

const (
	InboxStatusProcessed InboxMessageStatus = "PROCESSED"
	InboxStatusIgnored   InboxMessageStatus = "IGNORED"
)

// InboxMessage records a gateway event id once it has been applied.
type InboxMessage struct {
	ID            string
	TransactionID string
	EventType     string
	Payload       []byte
	Status        InboxMessageStatus
	ReceivedAt    time.Time
	ProcessedAt   *time.Time
}
