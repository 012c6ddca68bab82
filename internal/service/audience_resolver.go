package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

var (
	emailShape      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	manualSeparator = regexp.MustCompile(`[\n\r,;]+`)
)

// AudienceResolver turns an audience into a concrete, deduplicated list of
// recipients.
type AudienceResolver struct {
	SubscriberRepo repository.SubscriberRepositoryInterface
}

func NewAudienceResolver(repo repository.SubscriberRepositoryInterface) *AudienceResolver {
	return &AudienceResolver{SubscriberRepo: repo}
}

// NormalizeEmail lowercases and trims an address and reports whether it has
// the local@domain.tld shape.
func NormalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || !emailShape.MatchString(email) {
		return "", false
	}
	return email, true
}

// SplitManual breaks manual entries on newlines, commas and semicolons.
func SplitManual(entries []string, raw string) []string {
	all := make([]string, 0, len(entries)+1)
	all = append(all, entries...)
	all = append(all, raw)

	var out []string
	for _, e := range all {
		for _, part := range manualSeparator.Split(e, -1) {
			if strings.TrimSpace(part) != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Resolve returns recipients in subscription order for subscriber based
// audiences and in input order for manual ones. Malformed addresses are
// dropped. When two entries share an email the first one wins.
func (r *AudienceResolver) Resolve(ctx context.Context, a model.Audience) ([]model.Recipient, error) {
	if err := a.Validate(); err != nil {
		return nil, appErrors.NewValidation("audience", err.Error())
	}

	var candidates []model.Recipient
	switch a.Type {
	case model.AudienceAll, model.AudienceSource:
		// Source tags match exactly as stored; blank-only tags fail Validate.
		source := ""
		if a.Type == model.AudienceSource {
			source = a.Source
		}
		subs, err := r.SubscriberRepo.ListActive(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("resolve audience: %w", err)
		}
		for _, s := range subs {
			if !s.Active() {
				continue
			}
			id := s.ID
			candidates = append(candidates, model.Recipient{SubscriberID: &id, Email: s.Email})
		}
	case model.AudienceManual:
		for _, e := range SplitManual(a.Emails, a.Raw) {
			candidates = append(candidates, model.Recipient{Email: e})
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	recipients := make([]model.Recipient, 0, len(candidates))
	for _, c := range candidates {
		email, ok := NormalizeEmail(c.Email)
		if !ok {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		recipients = append(recipients, model.Recipient{SubscriberID: c.SubscriberID, Email: email})
	}
	return recipients, nil
}

// ResolveRequired is Resolve for callers that need at least one recipient.
func (r *AudienceResolver) ResolveRequired(ctx context.Context, a model.Audience) ([]model.Recipient, error) {
	recipients, err := r.Resolve(ctx, a)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return recipients, nil
}

// ErrNoRecipients is also a validation error so callers map it to a 4xx.
var ErrNoRecipients error = &appErrors.ValidationError{Field: "audience", Message: "audience resolved to no valid recipients"}
