package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

type SendRepositoryInterface interface {
	Create(ctx context.Context, s *model.Send) error
	GetByID(ctx context.Context, id string) (*model.Send, error)
	List(ctx context.Context, f model.SendFilter) ([]*model.Send, int, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Send, error)

	// Status transitions. Each one is conditional on the current status and
	// reports whether a row was changed.
	Promote(ctx context.Context, id string, startedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, reason string, completedAt time.Time) (bool, error)
	Finalize(ctx context.Context, id string, status model.SendStatus, counts model.DeliveryCounts, completedAt time.Time) (bool, error)
	UpdateCounts(ctx context.Context, id string, counts model.DeliveryCounts) error
}

type SendRepository struct {
	DB *sql.DB
}

const sendColumns = `id, newsletter_id, audience, status, total_recipients, sent_count, failed_count,
        error, content, scheduled_for, created_at, started_at, completed_at`

func scanSend(row interface{ Scan(...any) error }) (*model.Send, error) {
	var s model.Send
	var content model.Content
	var hasContent sql.NullString
	err := row.Scan(
		&s.ID, &s.NewsletterID, &s.Audience, &s.Status, &s.TotalRecipients, &s.SentCount, &s.FailedCount,
		&s.Error, &hasContent, &s.ScheduledFor, &s.CreatedAt, &s.StartedAt, &s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if hasContent.Valid {
		if err := content.Scan(hasContent.String); err != nil {
			return nil, fmt.Errorf("decode send content: %w", err)
		}
		s.Content = &content
	}
	return &s, nil
}

func (r *SendRepository) Create(ctx context.Context, s *model.Send) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = model.SendDraft
	}
	query := `
        INSERT INTO sends (id, newsletter_id, audience, status, total_recipients, content,
                           scheduled_for, created_at, started_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.DB.ExecContext(ctx, query,
		s.ID, s.NewsletterID, s.Audience, s.Status, s.TotalRecipients, s.Content,
		s.ScheduledFor, s.CreatedAt, s.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create send: %w", err)
	}
	return nil
}

func (r *SendRepository) GetByID(ctx context.Context, id string) (*model.Send, error) {
	query := `SELECT ` + sendColumns + ` FROM sends WHERE id=$1`
	s, err := scanSend(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewSendNotFound(id)
		}
		return nil, fmt.Errorf("get send: %w", err)
	}
	return s, nil
}

func (r *SendRepository) List(ctx context.Context, f model.SendFilter) ([]*model.Send, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if f.NewsletterID != "" {
		where += fmt.Sprintf(" AND newsletter_id=$%d", argPos)
		args = append(args, f.NewsletterID)
		argPos++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, f.Status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sends`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sends: %w", err)
	}

	query := `SELECT ` + sendColumns + ` FROM sends` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sends: %w", err)
	}
	defer rows.Close()

	sends := []*model.Send{}
	for rows.Next() {
		s, err := scanSend(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan send: %w", err)
		}
		sends = append(sends, s)
	}
	return sends, total, rows.Err()
}

// ListDue returns scheduled sends whose time has come, oldest first.
func (r *SendRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Send, error) {
	query := `SELECT ` + sendColumns + ` FROM sends
        WHERE status = 'scheduled' AND scheduled_for <= $1
        ORDER BY scheduled_for ASC
        LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due sends: %w", err)
	}
	defer rows.Close()

	sends := []*model.Send{}
	for rows.Next() {
		s, err := scanSend(rows)
		if err != nil {
			return nil, fmt.Errorf("scan send: %w", err)
		}
		sends = append(sends, s)
	}
	return sends, rows.Err()
}

func (r *SendRepository) Promote(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	query := `UPDATE sends SET status='sending', started_at=$2 WHERE id=$1 AND status='scheduled'`
	return execAffected(ctx, r.DB, query, id, startedAt)
}

func (r *SendRepository) MarkFailed(ctx context.Context, id, reason string, completedAt time.Time) (bool, error) {
	query := `
        UPDATE sends SET status='failed', error=$2, completed_at=$3
        WHERE id=$1 AND status NOT IN ('sent', 'failed')
    `
	return execAffected(ctx, r.DB, query, id, reason, completedAt)
}

func (r *SendRepository) Finalize(ctx context.Context, id string, status model.SendStatus, counts model.DeliveryCounts, completedAt time.Time) (bool, error) {
	query := `
        UPDATE sends
        SET status=$2, total_recipients=$3, sent_count=$4, failed_count=$5, completed_at=$6
        WHERE id=$1 AND status='sending'
    `
	return execAffected(ctx, r.DB, query, id, status, counts.Total, counts.Sent, counts.Failed, completedAt)
}

func (r *SendRepository) UpdateCounts(ctx context.Context, id string, counts model.DeliveryCounts) error {
	query := `UPDATE sends SET total_recipients=$2, sent_count=$3, failed_count=$4 WHERE id=$1`
	_, err := r.DB.ExecContext(ctx, query, id, counts.Total, counts.Sent, counts.Failed)
	if err != nil {
		return fmt.Errorf("update send counts: %w", err)
	}
	return nil
}

func execAffected(ctx context.Context, db *sql.DB, query string, args ...interface{}) (bool, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ SendRepositoryInterface = (*SendRepository)(nil)
