package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

// DeliveryRepositoryInterface is the persistence side of the delivery ledger.
type DeliveryRepositoryInterface interface {
	ExistingEmails(ctx context.Context, sendID string) ([]string, error)
	InsertPending(ctx context.Context, sendID string, recipients []model.Recipient) (int, error)
	ListPending(ctx context.Context, sendID string, limit int) ([]*model.Delivery, error)
	ListBySend(ctx context.Context, sendID string, status model.DeliveryStatus, limit int) ([]*model.Delivery, error)
	MarkSent(ctx context.Context, id, provider string, messageID *string, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, provider, reason string) (bool, error)
	CountByStatus(ctx context.Context, sendID string) (model.DeliveryCounts, error)
}

type DeliveryRepository struct {
	DB *sql.DB
}

const deliveryColumns = `id, send_id, subscriber_id, email, status, provider, provider_message_id,
        sent_at, error, created_at`

func (r *DeliveryRepository) ExistingEmails(ctx context.Context, sendID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT email FROM deliveries WHERE send_id=$1`, sendID)
	if err != nil {
		return nil, fmt.Errorf("list delivery emails: %w", err)
	}
	defer rows.Close()

	emails := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// InsertPending inserts one pending row per recipient. Rows that already exist
// for (send_id, email) are left untouched, whatever their status.
func (r *DeliveryRepository) InsertPending(ctx context.Context, sendID string, recipients []model.Recipient) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}

	subscriberIDs := make([]string, len(recipients))
	emails := make([]string, len(recipients))
	for i, rc := range recipients {
		if rc.SubscriberID != nil {
			subscriberIDs[i] = *rc.SubscriberID
		}
		emails[i] = rc.Email
	}

	query := `
        INSERT INTO deliveries (send_id, subscriber_id, email, status, created_at)
        SELECT $1, NULLIF(t.subscriber_id, '')::uuid, t.email, 'pending', NOW()
        FROM unnest($2::text[], $3::text[]) AS t(subscriber_id, email)
        ON CONFLICT (send_id, email) DO NOTHING
    `
	res, err := r.DB.ExecContext(ctx, query, sendID, pq.Array(subscriberIDs), pq.Array(emails))
	if err != nil {
		return 0, fmt.Errorf("insert deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *DeliveryRepository) ListPending(ctx context.Context, sendID string, limit int) ([]*model.Delivery, error) {
	return r.ListBySend(ctx, sendID, model.DeliveryPending, limit)
}

// ListBySend returns deliveries of a send ordered by email. An empty status
// returns every row.
func (r *DeliveryRepository) ListBySend(ctx context.Context, sendID string, status model.DeliveryStatus, limit int) ([]*model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE send_id=$1`
	args := []interface{}{sendID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY email ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []*model.Delivery{}
	for rows.Next() {
		var d model.Delivery
		if err := rows.Scan(
			&d.ID, &d.SendID, &d.SubscriberID, &d.Email, &d.Status, &d.Provider,
			&d.ProviderMessageID, &d.SentAt, &d.Error, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, &d)
	}
	return deliveries, rows.Err()
}

func (r *DeliveryRepository) MarkSent(ctx context.Context, id, provider string, messageID *string, sentAt time.Time) (bool, error) {
	query := `
        UPDATE deliveries
        SET status='sent', provider=$2, provider_message_id=$3, sent_at=$4, error=NULL
        WHERE id=$1 AND status='pending'
    `
	return execAffected(ctx, r.DB, query, id, provider, messageID, sentAt)
}

func (r *DeliveryRepository) MarkFailed(ctx context.Context, id, provider, reason string) (bool, error) {
	query := `
        UPDATE deliveries
        SET status='failed', provider=$2, error=$3
        WHERE id=$1 AND status='pending'
    `
	return execAffected(ctx, r.DB, query, id, provider, reason)
}

func (r *DeliveryRepository) CountByStatus(ctx context.Context, sendID string) (model.DeliveryCounts, error) {
	query := `SELECT status, COUNT(*) FROM deliveries WHERE send_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, sendID)
	if err != nil {
		return model.DeliveryCounts{}, fmt.Errorf("count deliveries: %w", err)
	}
	defer rows.Close()

	var counts model.DeliveryCounts
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return model.DeliveryCounts{}, err
		}
		switch model.DeliveryStatus(status) {
		case model.DeliveryPending:
			counts.Pending = count
		case model.DeliverySent:
			counts.Sent = count
		case model.DeliveryFailed:
			counts.Failed = count
		}
		counts.Total += count
	}
	return counts, rows.Err()
}

var _ DeliveryRepositoryInterface = (*DeliveryRepository)(nil)
