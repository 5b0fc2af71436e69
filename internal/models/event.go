package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType представляет тип события в системе
type EventType string

const (
	EventTypeWalletCreated         EventType = "wallet.created"
	EventTypeTokenIssued           EventType = "token.issued"
	EventTypeTokenSettled          EventType = "token.settled"
	EventTypeTokenExpired          EventType = "token.expired"
	EventTypeTokenCancelled        EventType = "token.cancelled"
	EventTypeNotificationRequested EventType = "notification.requested"
)

// Event представляет событие, публикуемое в Kafka
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Notification представляет исходящее уведомление владельцу аккаунта.
// Доставка best-effort: леджер не зависит от её результата.
type Notification struct {
	AccountID uuid.UUID         `json:"account_id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
