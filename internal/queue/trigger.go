package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// SendJob is the message body for SendsTopic.
type SendJob struct {
	SendID string `json:"send_id"`
}

func DecodeSendJob(body []byte) (SendJob, error) {
	var j SendJob
	if err := json.Unmarshal(body, &j); err != nil {
		return j, fmt.Errorf("decode send job: %w", err)
	}
	if strings.TrimSpace(j.SendID) == "" {
		return j, fmt.Errorf("decode send job: missing send_id")
	}
	return j, nil
}

// PublishTrigger starts processing by publishing a SendJob.
type PublishTrigger struct {
	Queue Queue
	Topic string
}

// NewPublishTrigger publishes to topic, or to SendsTopic when topic is empty.
func NewPublishTrigger(q Queue, topic string) *PublishTrigger {
	if topic == "" {
		topic = SendsTopic
	}
	return &PublishTrigger{Queue: q, Topic: topic}
}

func (t *PublishTrigger) TriggerSend(_ context.Context, sendID string) error {
	body, err := json.Marshal(SendJob{SendID: sendID})
	if err != nil {
		return err
	}
	if err := t.Queue.Publish(t.Topic, body); err != nil {
		return fmt.Errorf("publish send job: %w", err)
	}
	return nil
}

// ProcessFunc runs one processing invocation for a send.
type ProcessFunc func(ctx context.Context, sendID string) error

// SubscribeSends consumes SendJobs from topic and runs process for each.
// Errors for which retryable returns false are logged and acknowledged.
func SubscribeSends(ctx context.Context, q Queue, topic string, process ProcessFunc, retryable func(error) bool) error {
	return q.Subscribe(topic, func(body []byte) error {
		j, err := DecodeSendJob(body)
		if err != nil {
			log.Warn().Err(err).Msg("dropping invalid send job")
			return nil
		}

		if err := process(ctx, j.SendID); err != nil {
			if retryable != nil && !retryable(err) {
				log.Warn().Err(err).Str("send_id", j.SendID).Msg("send job not retryable, dropping")
				return nil
			}
			return err
		}
		return nil
	})
}
