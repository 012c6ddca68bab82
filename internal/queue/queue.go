package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SendsTopic carries send processing jobs.
const SendsTopic = "newsletter_sends"

// Queue is a minimal pub/sub used to trigger send processing out of band.
type Queue interface {
	Publish(topic string, body []byte) error
	Subscribe(topic string, handler func(body []byte) error) error
}

// InMemoryQueue delivers to in-process subscribers with retry. A handler
// that returns an error is retried up to MaxRetries times with a linear
// backoff; returning nil acknowledges the job.
type InMemoryQueue struct {
	MaxRetries int
	Backoff    time.Duration

	mu       sync.Mutex
	handlers map[string][]func(body []byte) error
	wg       sync.WaitGroup
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		handlers:   make(map[string][]func(body []byte) error),
	}
}

// job wraps a payload with its retry bookkeeping
type job struct {
	Topic      string
	Body       []byte
	RetryCount int
	MaxRetries int
}

func (q *InMemoryQueue) Publish(topic string, body []byte) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(handler, job{Topic: topic, Body: body, MaxRetries: q.MaxRetries})
	}
	return nil
}

func (q *InMemoryQueue) processJob(handler func(body []byte) error, j job) {
	defer q.wg.Done()
	for {
		err := handler(j.Body)
		if err == nil {
			return
		}

		j.RetryCount++
		if j.RetryCount > j.MaxRetries {
			log.Error().Err(err).Str("topic", j.Topic).Int("attempts", j.RetryCount).
				Msg("job permanently failed")
			return
		}
		log.Warn().Err(err).Str("topic", j.Topic).Int("attempt", j.RetryCount).
			Int("max_retries", j.MaxRetries).Msg("job failed, retrying")

		time.Sleep(time.Duration(j.RetryCount) * q.Backoff)
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler func(body []byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has been acknowledged or dropped.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}
