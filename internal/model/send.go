// internal/model/send.go
package model

import "time"

type SendStatus string

const (
	SendDraft     SendStatus = "draft"
	SendScheduled SendStatus = "scheduled"
	SendSending   SendStatus = "sending"
	SendSent      SendStatus = "sent"
	SendFailed    SendStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s SendStatus) Terminal() bool {
	return s == SendSent || s == SendFailed
}

func (s SendStatus) Valid() bool {
	switch s {
	case SendDraft, SendScheduled, SendSending, SendSent, SendFailed:
		return true
	}
	return false
}

type Send struct {
	ID              string     `db:"id" json:"id"`
	NewsletterID    string     `db:"newsletter_id" json:"newsletter_id"`
	Audience        Audience   `db:"audience" json:"audience"`
	Status          SendStatus `db:"status" json:"status"`
	TotalRecipients int        `db:"total_recipients" json:"total_recipients"`
	SentCount       int        `db:"sent_count" json:"sent_count"`
	FailedCount     int        `db:"failed_count" json:"failed_count"`
	Error           *string    `db:"error" json:"error,omitempty"`
	Content         *Content   `db:"content" json:"-"`
	ScheduledFor    *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// SendFilter narrows the admin listing of sends.
type SendFilter struct {
	NewsletterID string
	Status       string
	Offset       int
	Limit        int
}
