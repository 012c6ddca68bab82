package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/mailer"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// memStore is an in-memory stand-in for the four tables. It enforces the
// (send_id, email) uniqueness and the conditional status updates.
type memStore struct {
	mu          sync.Mutex
	newsletters map[string]*model.Newsletter
	subscribers []model.Subscriber
	sends       map[string]*model.Send
	deliveries  map[string]*model.Delivery

	createErr  error
	promoteErr map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		newsletters: map[string]*model.Newsletter{},
		sends:       map[string]*model.Send{},
		deliveries:  map[string]*model.Delivery{},
		promoteErr:  map[string]error{},
	}
}

func (m *memStore) addNewsletter(status model.NewsletterStatus) *model.Newsletter {
	n := &model.Newsletter{
		ID:          uuid.New().String(),
		Subject:     "Issue #1",
		PreviewText: "What happened this month",
		BodyHTML:    "<p>Hello</p>",
		Status:      status,
		CreatedAt:   time.Now(),
	}
	m.newsletters[n.ID] = n
	return n
}

func (m *memStore) addSubscriber(email, source string, at time.Time, unsubscribed bool) {
	s := model.Subscriber{ID: uuid.New().String(), Email: email, SubscribedAt: at}
	if source != "" {
		s.Source = &source
	}
	if unsubscribed {
		u := at.Add(time.Hour)
		s.UnsubscribedAt = &u
	}
	m.subscribers = append(m.subscribers, s)
}

func (m *memStore) send(id string) model.Send {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sends[id]
}

func (m *memStore) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}

func (m *memStore) deliveriesFor(sendID string) []model.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Delivery
	for _, d := range m.deliveries {
		if d.SendID == sendID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// newsletters

type memNewsletters struct{ *memStore }

func (r memNewsletters) GetByID(_ context.Context, id string) (*model.Newsletter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.newsletters[id]
	if !ok {
		return nil, appErrors.NewNewsletterNotFound(id)
	}
	cp := *n
	return &cp, nil
}

// subscribers

type memSubscribers struct {
	*memStore
	err error
}

func (r memSubscribers) ListActive(_ context.Context, source string) ([]model.Subscriber, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Subscriber
	for _, s := range r.subscribers {
		if s.UnsubscribedAt != nil {
			continue
		}
		if source != "" && (s.Source == nil || *s.Source != source) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubscribedAt.Equal(out[j].SubscribedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubscribedAt.Before(out[j].SubscribedAt)
	})
	return out, nil
}

// sends

type memSends struct{ *memStore }

func (r memSends) Create(_ context.Context, s *model.Send) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	cp := *s
	r.sends[s.ID] = &cp
	return nil
}

func (r memSends) GetByID(_ context.Context, id string) (*model.Send, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sends[id]
	if !ok {
		return nil, appErrors.NewSendNotFound(id)
	}
	cp := *s
	return &cp, nil
}

func (r memSends) List(_ context.Context, f model.SendFilter) ([]*model.Send, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.Send
	for _, s := range r.sends {
		if f.NewsletterID != "" && s.NewsletterID != f.NewsletterID {
			continue
		}
		if f.Status != "" && string(s.Status) != f.Status {
			continue
		}
		cp := *s
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	start := min(f.Offset, total)
	end := min(start+f.Limit, total)
	return all[start:end], total, nil
}

func (r memSends) ListDue(_ context.Context, now time.Time, limit int) ([]*model.Send, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*model.Send
	for _, s := range r.sends {
		if s.Status == model.SendScheduled && s.ScheduledFor != nil && !s.ScheduledFor.After(now) {
			cp := *s
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(*due[j].ScheduledFor) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r memSends) Promote(_ context.Context, id string, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.promoteErr[id]; err != nil {
		return false, err
	}
	s, ok := r.sends[id]
	if !ok || s.Status != model.SendScheduled {
		return false, nil
	}
	s.Status = model.SendSending
	s.StartedAt = &startedAt
	return true, nil
}

func (r memSends) MarkFailed(_ context.Context, id, reason string, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sends[id]
	if !ok || s.Status.Terminal() {
		return false, nil
	}
	s.Status = model.SendFailed
	s.Error = &reason
	s.CompletedAt = &completedAt
	return true, nil
}

func (r memSends) Finalize(_ context.Context, id string, status model.SendStatus, c model.DeliveryCounts, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sends[id]
	if !ok || s.Status != model.SendSending {
		return false, nil
	}
	s.Status = status
	s.TotalRecipients, s.SentCount, s.FailedCount = c.Total, c.Sent, c.Failed
	s.CompletedAt = &completedAt
	return true, nil
}

func (r memSends) UpdateCounts(_ context.Context, id string, c model.DeliveryCounts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sends[id]
	if !ok {
		return appErrors.NewSendNotFound(id)
	}
	s.TotalRecipients, s.SentCount, s.FailedCount = c.Total, c.Sent, c.Failed
	return nil
}

// deliveries

type memDeliveries struct{ *memStore }

func (r memDeliveries) ExistingEmails(_ context.Context, sendID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.deliveries {
		if d.SendID == sendID {
			out = append(out, d.Email)
		}
	}
	return out, nil
}

func (r memDeliveries) InsertPending(_ context.Context, sendID string, recipients []model.Recipient) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rc := range recipients {
		conflict := false
		for _, d := range r.deliveries {
			if d.SendID == sendID && d.Email == rc.Email {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		id := uuid.New().String()
		r.deliveries[id] = &model.Delivery{
			ID: id, SendID: sendID, SubscriberID: rc.SubscriberID, Email: rc.Email,
			Status: model.DeliveryPending, CreatedAt: time.Now(),
		}
		n++
	}
	return n, nil
}

func (r memDeliveries) ListPending(ctx context.Context, sendID string, limit int) ([]*model.Delivery, error) {
	return r.ListBySend(ctx, sendID, model.DeliveryPending, limit)
}

func (r memDeliveries) ListBySend(_ context.Context, sendID string, status model.DeliveryStatus, limit int) ([]*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Delivery
	for _, d := range r.deliveries {
		if d.SendID == sendID && (status == "" || d.Status == status) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memDeliveries) MarkSent(ctx context.Context, id, provider string, messageID *string, sentAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok || d.Status != model.DeliveryPending {
		return false, nil
	}
	d.Status, d.Provider, d.ProviderMessageID, d.SentAt = model.DeliverySent, provider, messageID, &sentAt
	return true, nil
}

func (r memDeliveries) MarkFailed(ctx context.Context, id, provider, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok || d.Status != model.DeliveryPending {
		return false, nil
	}
	d.Status, d.Provider, d.Error = model.DeliveryFailed, provider, &reason
	return true, nil
}

func (r memDeliveries) CountByStatus(_ context.Context, sendID string) (model.DeliveryCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c model.DeliveryCounts
	for _, d := range r.deliveries {
		if d.SendID != sendID {
			continue
		}
		c.Total++
		switch d.Status {
		case model.DeliveryPending:
			c.Pending++
		case model.DeliverySent:
			c.Sent++
		case model.DeliveryFailed:
			c.Failed++
		}
	}
	return c, nil
}

var (
	_ repository.NewsletterRepositoryInterface = memNewsletters{}
	_ repository.SubscriberRepositoryInterface = memSubscribers{}
	_ repository.SendRepositoryInterface       = memSends{}
	_ repository.DeliveryRepositoryInterface   = memDeliveries{}
)

// fakeDispatcher fails for the addresses in failFor and counts every call.
// onSend runs after the provider "answered" and before Dispatch returns.
type fakeDispatcher struct {
	mu      sync.Mutex
	failFor map[string]bool
	calls   []string
	delay   time.Duration
	onSend  func(to string)
}

func (f *fakeDispatcher) ProviderName() string { return "fake" }

func (f *fakeDispatcher) Dispatch(_ context.Context, to, subject, html string) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, to)
	n, fail, hook := len(f.calls), f.failFor[to], f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(to)
	}
	if fail {
		return "", &mailer.DispatchError{Provider: "fake", StatusCode: 422, Message: "rejected " + to}
	}
	return fmt.Sprintf("msg-%d", n), nil
}

func (f *fakeDispatcher) callsTo(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == to {
			n++
		}
	}
	return n
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeTrigger struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeTrigger) TriggerSend(_ context.Context, sendID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, sendID)
	return nil
}

func (f *fakeTrigger) triggered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type fixture struct {
	store      *memStore
	dispatcher *fakeDispatcher
	trigger    *fakeTrigger
	svc        *SendService
	now        time.Time
}

func newFixture(pageSize int) *fixture {
	store := newMemStore()
	renderer, err := mailer.NewRenderer("https://example.com")
	if err != nil {
		panic(err)
	}
	f := &fixture{
		store:      store,
		dispatcher: &fakeDispatcher{failFor: map[string]bool{}},
		trigger:    &fakeTrigger{},
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = &SendService{
		NewsletterRepo: memNewsletters{store},
		SendRepo:       memSends{store},
		Resolver:       NewAudienceResolver(memSubscribers{memStore: store}),
		Ledger:         NewDeliveryLedger(memDeliveries{store}, pageSize, 2),
		Dispatcher:     f.dispatcher,
		Renderer:       renderer,
		Trigger:        f.trigger,
		Pool:           NewWorkerPool(5),
		Now:            func() time.Time { return f.now },
	}
	return f
}
