package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

// SubscriberRepositoryInterface defines methods used by the audience resolver
type SubscriberRepositoryInterface interface {
	ListActive(ctx context.Context, source string) ([]model.Subscriber, error)
}

// SubscriberRepository is the concrete implementation
type SubscriberRepository struct {
	DB *sql.DB
}

// ListActive returns subscribers without an unsubscribe timestamp in the order
// they subscribed. A non-empty source restricts the result to that exact tag.
func (r *SubscriberRepository) ListActive(ctx context.Context, source string) ([]model.Subscriber, error) {
	query := `
        SELECT id, email, source, subscribed_at, unsubscribed_at
        FROM subscribers
        WHERE unsubscribed_at IS NULL
    `
	args := []interface{}{}
	if source != "" {
		query += ` AND source = $1`
		args = append(args, source)
	}
	query += ` ORDER BY subscribed_at ASC, id ASC`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	subscribers := []model.Subscriber{}
	for rows.Next() {
		var s model.Subscriber
		if err := rows.Scan(&s.ID, &s.Email, &s.Source, &s.SubscribedAt, &s.UnsubscribedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subscribers = append(subscribers, s)
	}
	return subscribers, rows.Err()
}

var _ SubscriberRepositoryInterface = (*SubscriberRepository)(nil)
