package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type SeedOptions struct {
	Subscribers int
	Sources     []string
	Domain      string
}

type SeedResult struct {
	NewsletterID string
	Subscribers  int
}

// Seed inserts one published newsletter and a batch of active subscribers
// for local runs. Subscribers that already exist are skipped.
func Seed(ctx context.Context, db *sql.DB, opts SeedOptions) (*SeedResult, error) {
	if opts.Subscribers <= 0 {
		opts.Subscribers = 25
	}
	if len(opts.Sources) == 0 {
		opts.Sources = []string{"footer", "blog"}
	}
	if opts.Domain == "" {
		opts.Domain = "example.com"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var newsletterID string
	err = tx.QueryRowContext(ctx, `
        INSERT INTO newsletters (subject, preview_text, body_html, attachments, status)
        VALUES ($1, $2, $3, $4, 'published')
        RETURNING id
    `, "Welcome issue", "What we shipped this month",
		"<p>Thanks for subscribing.</p>",
		`[{"type":"blog","title":"Hello world","slug":"hello-world"}]`,
	).Scan(&newsletterID)
	if err != nil {
		return nil, fmt.Errorf("insert newsletter: %w", err)
	}

	emails := make([]string, opts.Subscribers)
	sources := make([]string, opts.Subscribers)
	for i := range emails {
		emails[i] = fmt.Sprintf("reader%03d@%s", i+1, opts.Domain)
		sources[i] = opts.Sources[i%len(opts.Sources)]
	}
	res, err := tx.ExecContext(ctx, `
        INSERT INTO subscribers (email, source)
        SELECT * FROM unnest($1::text[], $2::text[])
        ON CONFLICT (email) DO NOTHING
    `, pq.Array(emails), pq.Array(sources))
	if err != nil {
		return nil, fmt.Errorf("insert subscribers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.Info().Str("newsletter_id", newsletterID).Int64("subscribers", n).Msg("database seeded")
	return &SeedResult{NewsletterID: newsletterID, Subscribers: int(n)}, nil
}
