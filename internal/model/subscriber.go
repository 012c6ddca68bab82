// internal/model/subscriber.go
package model

import "time"

type Subscriber struct {
	ID             string     `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	Source         *string    `db:"source" json:"source,omitempty"`
	SubscribedAt   time.Time  `db:"subscribed_at" json:"subscribed_at"`
	UnsubscribedAt *time.Time `db:"unsubscribed_at" json:"unsubscribed_at,omitempty"`
}

func (s Subscriber) Active() bool {
	return s.UnsubscribedAt == nil
}
