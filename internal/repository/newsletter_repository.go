package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

type NewsletterRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Newsletter, error)
}

type NewsletterRepository struct {
	DB *sql.DB
}

func (r *NewsletterRepository) GetByID(ctx context.Context, id string) (*model.Newsletter, error) {
	query := `
        SELECT id, subject, preview_text, body_html, attachments, status, created_at, updated_at
        FROM newsletters WHERE id=$1
    `
	var n model.Newsletter
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&n.ID, &n.Subject, &n.PreviewText, &n.BodyHTML, &n.Attachments,
		&n.Status, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNewsletterNotFound(id)
		}
		return nil, fmt.Errorf("get newsletter: %w", err)
	}
	return &n, nil
}

var _ NewsletterRepositoryInterface = (*NewsletterRepository)(nil)
