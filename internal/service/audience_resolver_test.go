package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

func emails(rs []model.Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Email
	}
	return out
}

func TestResolveManualDedupAndDrop(t *testing.T) {
	r := NewAudienceResolver(memSubscribers{memStore: newMemStore()})

	got, err := r.Resolve(context.Background(), model.Audience{
		Type:   model.AudienceManual,
		Emails: []string{"A@x.com", "a@x.com ", "not-an-email", ""},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a@x.com", got[0].Email)
	assert.Nil(t, got[0].SubscriberID)
}

func TestResolveManualSplitsDelimiters(t *testing.T) {
	r := NewAudienceResolver(memSubscribers{memStore: newMemStore()})

	got, err := r.Resolve(context.Background(), model.Audience{
		Type: model.AudienceManual,
		Raw:  "one@x.com,two@x.com;\nthree@x.org\r\n  ONE@x.com ; bad@nodot",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one@x.com", "two@x.com", "three@x.org"}, emails(got))
}

func TestResolveSourceFilter(t *testing.T) {
	store := newMemStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.addSubscriber("p@x.com", "footer", base, false)
	store.addSubscriber("q@x.com", "blog", base.Add(time.Minute), false)
	r := NewAudienceResolver(memSubscribers{memStore: store})

	got, err := r.Resolve(context.Background(), model.Audience{Type: model.AudienceSource, Source: "footer"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p@x.com"}, emails(got))
	require.NotNil(t, got[0].SubscriberID)
}

func TestResolveSourceMatchesExactly(t *testing.T) {
	store := newMemStore()
	store.addSubscriber("p@x.com", "footer", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), false)
	r := NewAudienceResolver(memSubscribers{memStore: store})

	got, err := r.Resolve(context.Background(), model.Audience{Type: model.AudienceSource, Source: " footer"})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = r.ResolveRequired(context.Background(), model.Audience{Type: model.AudienceSource, Source: "Footer"})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestResolveSourceRequiresSource(t *testing.T) {
	r := NewAudienceResolver(memSubscribers{memStore: newMemStore()})

	_, err := r.Resolve(context.Background(), model.Audience{Type: model.AudienceSource, Source: "  "})
	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))
}

func TestResolveAllOrderedAndSkipsUnsubscribed(t *testing.T) {
	store := newMemStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.addSubscriber("late@x.com", "", base.Add(2*time.Hour), false)
	store.addSubscriber("Early@X.com", "footer", base, false)
	store.addSubscriber("gone@x.com", "", base.Add(time.Hour), true)
	r := NewAudienceResolver(memSubscribers{memStore: store})

	got, err := r.Resolve(context.Background(), model.Audience{Type: model.AudienceAll})
	require.NoError(t, err)
	assert.Equal(t, []string{"early@x.com", "late@x.com"}, emails(got))
}

func TestResolveKeepsFirstSeenSubscriberID(t *testing.T) {
	store := newMemStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.addSubscriber("dup@x.com", "", base, false)
	store.addSubscriber("DUP@x.com ", "", base.Add(time.Minute), false)
	r := NewAudienceResolver(memSubscribers{memStore: store})

	got, err := r.Resolve(context.Background(), model.Audience{Type: model.AudienceAll})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, store.subscribers[0].ID, *got[0].SubscriberID)
}

func TestResolveRequiredEmpty(t *testing.T) {
	r := NewAudienceResolver(memSubscribers{memStore: newMemStore()})

	_, err := r.ResolveRequired(context.Background(), model.Audience{
		Type: model.AudienceManual, Emails: []string{"nope", "also nope"},
	})
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.True(t, appErrors.IsValidation(err))
}

func TestResolvePropagatesQueryError(t *testing.T) {
	r := NewAudienceResolver(memSubscribers{memStore: newMemStore(), err: errors.New("connection reset")})

	_, err := r.Resolve(context.Background(), model.Audience{Type: model.AudienceAll})
	require.Error(t, err)
	assert.False(t, appErrors.IsValidation(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNormalizeEmail(t *testing.T) {
	cases := map[string]string{
		" Foo@Bar.COM ": "foo@bar.com",
		"a@b.co":        "a@b.co",
		"a@b":           "",
		"a b@c.com":     "",
		"@c.com":        "",
		"":              "",
	}
	for in, want := range cases {
		got, ok := NormalizeEmail(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, want != "", ok, in)
	}
}
