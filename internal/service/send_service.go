// internal/service/send_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/lock"
	"github.com/unclebandit/newsletter-backend/internal/logger"
	"github.com/unclebandit/newsletter-backend/internal/metrics"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

var (
	ErrNotPublished       = &appErrors.ValidationError{Field: "newsletterId", Message: "newsletter is not published"}
	ErrSendNotProcessable = errors.New("send is not in a processable state")
	ErrSendLocked         = errors.New("send is being processed by another worker")
	ErrTriggerFailed      = errors.New("failed to trigger send processing")
)

// Trigger starts processing of a send out of band, e.g. by publishing a job
// or calling the processing webhook. It must not wait for the fan-out.
type Trigger interface {
	TriggerSend(ctx context.Context, sendID string) error
}

// EmailDispatcher sends one message to one recipient.
type EmailDispatcher interface {
	ProviderName() string
	Dispatch(ctx context.Context, to, subject, html string) (string, error)
}

type ContentRenderer interface {
	Render(c model.Content) (string, error)
}

// SendService drives a send from creation to a terminal status. Processing is
// re-entrant: a repeated call only touches deliveries that are still pending.
type SendService struct {
	NewsletterRepo repository.NewsletterRepositoryInterface
	SendRepo       repository.SendRepositoryInterface
	Resolver       *AudienceResolver
	Ledger         *DeliveryLedger
	Dispatcher     EmailDispatcher
	Renderer       ContentRenderer
	Trigger        Trigger
	Pool           *WorkerPool

	// Locks is optional. When set, only one invocation per send id runs at a time.
	Locks   lock.Provider
	LockTTL time.Duration

	Metrics *metrics.Registry
	Now     func() time.Time
}

type CreateSendInput struct {
	NewsletterID string
	Audience     model.Audience
	ScheduledFor string
}

type CreateSendResult struct {
	SendID       string     `json:"sendId"`
	Total        int        `json:"total"`
	Scheduled    bool       `json:"scheduled,omitempty"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
}

type ProcessResult struct {
	SendID    string           `json:"sendId"`
	Processed int              `json:"processed"`
	Sent      int              `json:"sent"`
	Failed    int              `json:"failed"`
	Status    model.SendStatus `json:"status"`
}

type SendDetails struct {
	*model.Send
	Stats    model.DeliveryCounts `json:"stats"`
	Failures []*model.Delivery    `json:"failures"`
}

func (s *SendService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateSend validates the request, records the send and, for immediate
// sends, triggers processing. Nothing is written when validation fails.
func (s *SendService) CreateSend(ctx context.Context, in CreateSendInput) (*CreateSendResult, error) {
	if _, err := uuid.Parse(strings.TrimSpace(in.NewsletterID)); err != nil {
		return nil, appErrors.NewValidation("newsletterId", "must be a valid UUID")
	}
	if err := in.Audience.Validate(); err != nil {
		return nil, appErrors.NewValidation("audience", err.Error())
	}

	now := s.now()
	var scheduledFor *time.Time
	if raw := strings.TrimSpace(in.ScheduledFor); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, appErrors.NewValidation("scheduledFor", "must be an RFC3339 timestamp")
		}
		if !t.After(now) {
			return nil, appErrors.NewValidation("scheduledFor", "must be in the future")
		}
		t = t.UTC()
		scheduledFor = &t
	}

	newsletter, err := s.NewsletterRepo.GetByID(ctx, strings.TrimSpace(in.NewsletterID))
	if err != nil {
		return nil, err
	}
	if newsletter.Status != model.NewsletterPublished {
		return nil, ErrNotPublished
	}

	recipients, err := s.Resolver.ResolveRequired(ctx, in.Audience)
	if err != nil {
		return nil, err
	}

	content := newsletter.Content()
	send := &model.Send{
		NewsletterID:    newsletter.ID,
		Audience:        in.Audience,
		TotalRecipients: len(recipients),
		Content:         &content,
		CreatedAt:       now,
	}
	if scheduledFor != nil {
		send.Status = model.SendScheduled
		send.ScheduledFor = scheduledFor
	} else {
		send.Status = model.SendSending
		send.StartedAt = &now
	}
	if err := s.SendRepo.Create(ctx, send); err != nil {
		return nil, err
	}

	result := &CreateSendResult{SendID: send.ID, Total: send.TotalRecipients}
	if scheduledFor != nil {
		result.Scheduled = true
		result.ScheduledFor = scheduledFor
		log.Info().Str("send_id", send.ID).Time("scheduled_for", *scheduledFor).
			Int("total", result.Total).Msg("send scheduled")
		return result, nil
	}

	if err := s.Trigger.TriggerSend(ctx, send.ID); err != nil {
		s.failSend(ctx, send.ID, fmt.Sprintf("trigger failed: %v", err))
		return result, fmt.Errorf("%w: %v", ErrTriggerFailed, err)
	}
	log.Info().Str("send_id", send.ID).Int("total", result.Total).Msg("send triggered")
	return result, nil
}

// failSend records a terminal failure. It uses a fresh context so a cancelled
// request still leaves the send marked.
func (s *SendService) failSend(ctx context.Context, sendID, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	ok, err := s.SendRepo.MarkFailed(ctx, sendID, reason, s.now())
	if err != nil {
		log.Error().Err(err).Str("send_id", sendID).Msg("failed to mark send failed")
		return
	}
	if ok {
		s.Metrics.SendFinalized(string(model.SendFailed))
	}
}

// ProcessSend runs one invocation of the fan-out for a send in status
// sending: resolve, seed, dispatch one page of pending deliveries and
// finalize from the recounted ledger.
func (s *SendService) ProcessSend(ctx context.Context, sendID string) (*ProcessResult, error) {
	send, newsletter, err := s.loadProcessable(ctx, sendID)
	if err != nil {
		return nil, err
	}

	// claimCtx stops the pool from claiming more deliveries once the send
	// lock is lost. In-flight dispatches keep running on ctx.
	claimCtx := ctx
	if s.Locks != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 15 * time.Minute
		}
		l := s.Locks.NewLock("send:"+sendID, ttl)
		ok, err := l.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire send lock: %w", err)
		}
		if !ok {
			return nil, ErrSendLocked
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Str("send_id", sendID).Msg("failed to release send lock")
			}
		}()

		var stop func()
		claimCtx, stop = s.keepLock(ctx, l, sendID, ttl)
		defer stop()

		// another invocation may have finished between the first check and the lock
		if send, newsletter, err = s.loadProcessable(ctx, sendID); err != nil {
			return nil, err
		}
	}

	recipients, err := s.Resolver.Resolve(ctx, send.Audience)
	if err != nil {
		return nil, err
	}
	inserted, err := s.Ledger.Seed(ctx, sendID, recipients)
	if err != nil {
		return nil, err
	}

	pending, err := s.Ledger.FetchPending(ctx, sendID, 0)
	if err != nil {
		return nil, err
	}

	content := newsletter.Content()
	if send.Content != nil {
		content = *send.Content
	}
	html, err := s.Renderer.Render(content)
	if err != nil {
		return nil, err
	}

	log.Info().Str("send_id", sendID).Int("recipients", len(recipients)).Int("seeded", inserted).
		Int("pending", len(pending)).Msg("processing send")

	var sent, failed atomic.Int64
	provider := s.Dispatcher.ProviderName()
	processed := s.Pool.Run(claimCtx, pending, func(_ context.Context, d *model.Delivery) {
		if s.deliver(ctx, d, provider, content.Subject, html) {
			sent.Add(1)
		} else {
			failed.Add(1)
		}
	})

	status, counts, err := s.finalize(ctx, sendID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("send_id", sendID).Int("processed", processed).
		Int64("sent_now", sent.Load()).Int64("failed_now", failed.Load()).
		Int("pending_left", counts.Pending).Str("status", string(status)).Msg("send invocation finished")

	return &ProcessResult{
		SendID:    sendID,
		Processed: processed,
		Sent:      counts.Sent,
		Failed:    counts.Failed,
		Status:    status,
	}, nil
}

// keepLock extends l every ttl/3 until stop is called. The returned context is
// cancelled when the lock turns out to be lost.
func (s *SendService) keepLock(ctx context.Context, l lock.Lock, sendID string, ttl time.Duration) (context.Context, func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(max(ttl/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := l.Extend(hbCtx, ttl)
				switch {
				case err == nil, hbCtx.Err() != nil:
				case errors.Is(err, lock.ErrNotHeld):
					log.Warn().Err(err).Str("send_id", sendID).Msg("send lock lost, no more deliveries will be claimed")
					cancel()
					return
				default:
					log.Warn().Err(err).Str("send_id", sendID).Msg("failed to extend send lock")
				}
			}
		}
	}()

	return hbCtx, func() {
		cancel()
		<-done
	}
}

func (s *SendService) loadProcessable(ctx context.Context, sendID string) (*model.Send, *model.Newsletter, error) {
	send, err := s.SendRepo.GetByID(ctx, sendID)
	if err != nil {
		return nil, nil, err
	}
	newsletter, err := s.NewsletterRepo.GetByID(ctx, send.NewsletterID)
	if err != nil {
		return nil, nil, err
	}
	if newsletter.Status != model.NewsletterPublished {
		return nil, nil, ErrNotPublished
	}
	if send.Status != model.SendSending {
		return nil, nil, fmt.Errorf("%w: status is %s", ErrSendNotProcessable, send.Status)
	}
	return send, newsletter, nil
}

// deliver dispatches one delivery and records the outcome. A failure is
// local to the delivery and never aborts the batch. The outcome is written
// even if ctx is cancelled after the provider answered, otherwise the row
// would stay pending and be sent again.
func (s *SendService) deliver(ctx context.Context, d *model.Delivery, provider, subject, html string) bool {
	messageID, err := s.Dispatcher.Dispatch(ctx, d.Email, subject, html)

	if err != nil && ctx.Err() != nil {
		// aborted by the caller rather than rejected; the next invocation retries it
		log.Warn().Err(err).Str("delivery_id", d.ID).Msg("dispatch interrupted, delivery left pending")
		return false
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err != nil {
		if _, merr := s.Ledger.MarkFailed(wctx, d.ID, provider, err.Error()); merr != nil {
			log.Error().Err(merr).Str("delivery_id", d.ID).Msg("failed to record delivery failure")
		}
		s.Metrics.DeliveryCompleted(string(model.DeliveryFailed))
		log.Warn().Str("delivery_id", d.ID).Str("to", logger.RedactEmail(d.Email)).Err(err).Msg("delivery failed")
		return false
	}

	if _, merr := s.Ledger.MarkSent(wctx, d.ID, provider, messageID, s.now()); merr != nil {
		// the email went out; the row stays pending and will be counted as such
		log.Error().Err(merr).Str("delivery_id", d.ID).Msg("failed to record delivery")
	}
	s.Metrics.DeliveryCompleted(string(model.DeliverySent))
	return true
}

// finalize recounts the ledger. Pending rows keep the send in sending for the
// next invocation; otherwise the send becomes failed if anything failed and
// sent if not.
func (s *SendService) finalize(ctx context.Context, sendID string) (model.SendStatus, model.DeliveryCounts, error) {
	counts, err := s.Ledger.Counts(ctx, sendID)
	if err != nil {
		return "", counts, err
	}

	if counts.Pending > 0 {
		if err := s.SendRepo.UpdateCounts(ctx, sendID, counts); err != nil {
			return "", counts, err
		}
		return model.SendSending, counts, nil
	}

	status := model.SendSent
	if counts.Failed > 0 {
		status = model.SendFailed
	}
	ok, err := s.SendRepo.Finalize(ctx, sendID, status, counts, s.now())
	if err != nil {
		return "", counts, err
	}
	if !ok {
		current, err := s.SendRepo.GetByID(ctx, sendID)
		if err != nil {
			return "", counts, err
		}
		return current.Status, counts, nil
	}
	s.Metrics.SendFinalized(string(status))
	return status, counts, nil
}

// RunJob is the queue consumer entry point. When an invocation stops at the
// page size with deliveries still pending, it triggers the next invocation.
func (s *SendService) RunJob(ctx context.Context, sendID string) error {
	res, err := s.ProcessSend(ctx, sendID)
	if err != nil {
		return err
	}
	if res.Status == model.SendSending && res.Processed > 0 {
		if err := s.Trigger.TriggerSend(ctx, sendID); err != nil {
			// the send stays in sending and can be re-run by hand
			log.Error().Err(err).Str("send_id", sendID).Msg("failed to trigger next batch")
		}
	}
	return nil
}

// CheckProcessable runs the same guards as ProcessSend without side effects.
func (s *SendService) CheckProcessable(ctx context.Context, sendID string) error {
	_, _, err := s.loadProcessable(ctx, sendID)
	return err
}

// IsRetryable tells queue consumers whether redelivering the job can help.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case appErrors.IsNotFound(err), appErrors.IsValidation(err):
		return false
	case errors.Is(err, ErrSendNotProcessable), errors.Is(err, ErrSendLocked):
		return false
	}
	return true
}

// ListSends returns a page of sends plus the pagination block used by the
// admin listing.
func (s *SendService) ListSends(ctx context.Context, page, pageSize int, newsletterID, status string) ([]*model.Send, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	sends, total, err := s.SendRepo.List(ctx, model.SendFilter{
		NewsletterID: newsletterID,
		Status:       status,
		Offset:       offset,
		Limit:        pageSize,
	})
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return sends, pagination, nil
}

// GetSendDetails returns a send with live ledger counts and the failed
// deliveries an operator needs to inspect.
func (s *SendService) GetSendDetails(ctx context.Context, sendID string, failureLimit int) (*SendDetails, error) {
	send, err := s.SendRepo.GetByID(ctx, sendID)
	if err != nil {
		return nil, err
	}
	counts, err := s.Ledger.Counts(ctx, sendID)
	if err != nil {
		return nil, err
	}
	if failureLimit <= 0 {
		failureLimit = 100
	}
	failures, err := s.Ledger.Repo.ListBySend(ctx, sendID, model.DeliveryFailed, failureLimit)
	if err != nil {
		return nil, err
	}
	return &SendDetails{Send: send, Stats: counts, Failures: failures}, nil
}

// RenderPreview renders the email a send of the newsletter would deliver,
// published or not. A non-blank subject override replaces the stored subject.
func (s *SendService) RenderPreview(ctx context.Context, newsletterID string, subjectOverride *string) (string, error) {
	newsletter, err := s.NewsletterRepo.GetByID(ctx, newsletterID)
	if err != nil {
		return "", err
	}
	content := newsletter.Content()
	if subjectOverride != nil && strings.TrimSpace(*subjectOverride) != "" {
		content.Subject = strings.TrimSpace(*subjectOverride)
	}
	if strings.TrimSpace(content.Subject) == "" {
		return "", appErrors.NewValidation("subject", "cannot be empty")
	}
	return s.Renderer.Render(content)
}
