package service

import (
	"context"
	"fmt"
	"time"

	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

const (
	DefaultPageSize  = 5000
	DefaultSeedChunk = 1000
)

// DeliveryLedger tracks one row per recipient per send.
type DeliveryLedger struct {
	Repo      repository.DeliveryRepositoryInterface
	PageSize  int
	SeedChunk int
}

func NewDeliveryLedger(repo repository.DeliveryRepositoryInterface, pageSize, seedChunk int) *DeliveryLedger {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if seedChunk <= 0 {
		seedChunk = DefaultSeedChunk
	}
	return &DeliveryLedger{Repo: repo, PageSize: pageSize, SeedChunk: seedChunk}
}

// Seed inserts a pending delivery for every recipient not already on the
// send. Existing rows keep their status. Safe to call repeatedly.
func (l *DeliveryLedger) Seed(ctx context.Context, sendID string, recipients []model.Recipient) (int, error) {
	existing, err := l.Repo.ExistingEmails(ctx, sendID)
	if err != nil {
		return 0, fmt.Errorf("seed deliveries: %w", err)
	}
	seen := make(map[string]struct{}, len(existing)+len(recipients))
	for _, e := range existing {
		seen[e] = struct{}{}
	}

	missing := make([]model.Recipient, 0, len(recipients))
	for _, r := range recipients {
		if _, ok := seen[r.Email]; ok {
			continue
		}
		seen[r.Email] = struct{}{}
		missing = append(missing, r)
	}

	inserted := 0
	for start := 0; start < len(missing); start += l.SeedChunk {
		end := min(start+l.SeedChunk, len(missing))
		// ON CONFLICT DO NOTHING covers a concurrent seeder racing us
		n, err := l.Repo.InsertPending(ctx, sendID, missing[start:end])
		if err != nil {
			return inserted, fmt.Errorf("seed deliveries: %w", err)
		}
		inserted += n
	}
	return inserted, nil
}

// FetchPending returns up to limit pending deliveries ordered by email. A
// non-positive limit uses the ledger page size.
func (l *DeliveryLedger) FetchPending(ctx context.Context, sendID string, limit int) ([]*model.Delivery, error) {
	if limit <= 0 {
		limit = l.PageSize
	}
	return l.Repo.ListPending(ctx, sendID, limit)
}

// MarkSent moves a pending delivery to sent. It reports false when the row
// was no longer pending.
func (l *DeliveryLedger) MarkSent(ctx context.Context, deliveryID, provider, messageID string, at time.Time) (bool, error) {
	var mid *string
	if messageID != "" {
		mid = &messageID
	}
	return l.Repo.MarkSent(ctx, deliveryID, provider, mid, at)
}

func (l *DeliveryLedger) MarkFailed(ctx context.Context, deliveryID, provider, reason string) (bool, error) {
	return l.Repo.MarkFailed(ctx, deliveryID, provider, reason)
}

// Counts recounts the ledger for a send.
func (l *DeliveryLedger) Counts(ctx context.Context, sendID string) (model.DeliveryCounts, error) {
	return l.Repo.CountByStatus(ctx, sendID)
}
