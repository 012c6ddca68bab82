package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/newsletter-backend/internal/lock"
	"github.com/unclebandit/newsletter-backend/internal/metrics"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

const (
	DefaultSweepInterval  = time.Minute
	DefaultSweepBatchSize = 100
	sweeperLockKey        = "newsletter:scheduler"
)

// Scheduler promotes due scheduled sends to sending and triggers them. It
// never resolves audiences or dispatches email itself.
type Scheduler struct {
	SendRepo  repository.SendRepositoryInterface
	Trigger   Trigger
	Locks     lock.Provider
	Interval  time.Duration
	BatchSize int
	Metrics   *metrics.Registry
	Now       func() time.Time

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

type SweepItem struct {
	SendID string `json:"sendId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type SweepResult struct {
	Total     int         `json:"total"`
	Triggered int         `json:"triggered"`
	Errors    int         `json:"errors"`
	Results   []SweepItem `json:"results"`
}

func NewScheduler(repo repository.SendRepositoryInterface, trigger Trigger, interval time.Duration, batchSize int) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	return &Scheduler{SendRepo: repo, Trigger: trigger, Interval: interval, BatchSize: batchSize}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Sweep handles one batch of due sends, oldest first. A failure on one send
// is recorded in the result and the sweep moves on.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultSweepBatchSize
	}
	due, err := s.SendRepo.ListDue(ctx, now, batch)
	if err != nil {
		return nil, fmt.Errorf("list due sends: %w", err)
	}

	result := &SweepResult{Total: len(due), Results: make([]SweepItem, 0, len(due))}
	for _, send := range due {
		item := SweepItem{SendID: send.ID}

		promoted, err := s.SendRepo.Promote(ctx, send.ID, now)
		switch {
		case err != nil:
			log.Error().Err(err).Str("send_id", send.ID).Msg("failed to promote scheduled send")
			item.Status, item.Error = "error", err.Error()
			result.Errors++
			s.Metrics.Promotion("failed")
		case !promoted:
			// picked up by another sweeper or cancelled in the meantime
			item.Status = "skipped"
			s.Metrics.Promotion("skipped")
		default:
			if terr := s.Trigger.TriggerSend(ctx, send.ID); terr != nil {
				log.Error().Err(terr).Str("send_id", send.ID).Msg("failed to trigger promoted send")
				reason := fmt.Sprintf("trigger failed: %v", terr)
				if _, merr := s.SendRepo.MarkFailed(context.WithoutCancel(ctx), send.ID, reason, s.now()); merr != nil {
					log.Error().Err(merr).Str("send_id", send.ID).Msg("failed to mark send failed")
				}
				item.Status, item.Error = "failed", terr.Error()
				result.Errors++
				s.Metrics.Promotion("failed")
			} else {
				item.Status = "triggered"
				result.Triggered++
				s.Metrics.Promotion("promoted")
			}
		}
		result.Results = append(result.Results, item)
	}

	if result.Total > 0 {
		log.Info().Int("total", result.Total).Int("triggered", result.Triggered).
			Int("errors", result.Errors).Msg("scheduler sweep finished")
	}
	return result, nil
}

// Start runs Sweep every Interval until Stop is called. With Locks set only
// one instance sweeps per tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	log.Info().Dur("interval", s.Interval).Msg("scheduler started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.Locks != nil {
		l := s.Locks.NewLock(sweeperLockKey, s.Interval)
		ok, err := l.Acquire(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("scheduler lock unavailable")
			return
		}
		if !ok {
			return
		}
		defer l.Release(context.WithoutCancel(ctx))
	}
	if _, err := s.Sweep(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler sweep failed")
	}
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}
