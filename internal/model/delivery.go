// internal/model/delivery.go
package model

import "time"

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Delivery is one recipient of one send. Unique on (send_id, email).
type Delivery struct {
	ID                string         `db:"id" json:"id"`
	SendID            string         `db:"send_id" json:"send_id"`
	SubscriberID      *string        `db:"subscriber_id" json:"subscriber_id,omitempty"`
	Email             string         `db:"email" json:"email"`
	Status            DeliveryStatus `db:"status" json:"status"` // pending, sent, failed
	Provider          string         `db:"provider" json:"provider,omitempty"`
	ProviderMessageID *string        `db:"provider_message_id" json:"provider_message_id,omitempty"`
	SentAt            *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	Error             *string        `db:"error" json:"error,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}

type DeliveryCounts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}
