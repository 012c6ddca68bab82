package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes and consumes durable queues on RabbitMQ. Failed
// deliveries are republished with an incremented x-retry-count header and
// dropped once MaxRetries is exceeded.
type AMQPQueue struct {
	MaxRetries int

	conn *amqp.Connection
	ch   *amqp.Channel

	mu       sync.Mutex
	declared map[string]bool
	done     chan struct{}
	wg       sync.WaitGroup
}

func DialAMQP(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &AMQPQueue{
		MaxRetries: 3,
		conn:       conn,
		ch:         ch,
		declared:   map[string]bool{},
		done:       make(chan struct{}),
	}, nil
}

func (q *AMQPQueue) declare(name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.declared[name] {
		return nil
	}
	_, err := q.ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	q.declared[name] = true
	return nil
}

func (q *AMQPQueue) Publish(topic string, body []byte) error {
	return q.publish(topic, body, 0)
}

func (q *AMQPQueue) publish(topic string, body []byte, retries int) error {
	if err := q.declare(topic); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         body,
	})
}

// Subscribe starts a consumer with manual acknowledgement. It returns once
// the consumer is registered; deliveries are handled on a goroutine until
// Close.
func (q *AMQPQueue) Subscribe(topic string, handler func(body []byte) error) error {
	if err := q.declare(topic); err != nil {
		return err
	}
	q.mu.Lock()
	msgs, err := q.ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-q.done:
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				q.handle(topic, d, handler)
			}
		}
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, d amqp.Delivery, handler func(body []byte) error) {
	err := handler(d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	retries := RetryCount(d.Headers)
	if retries >= q.MaxRetries {
		log.Error().Err(err).Str("topic", topic).Int("retries", retries).Msg("job permanently failed, dropping")
		d.Ack(false)
		return
	}
	if perr := q.publish(topic, d.Body, retries+1); perr != nil {
		log.Error().Err(perr).Str("topic", topic).Msg("failed to requeue job")
		d.Nack(false, true)
		return
	}
	log.Warn().Err(err).Str("topic", topic).Int("retry", retries+1).Msg("job failed, requeued")
	d.Ack(false)
}

// RetryCount reads x-retry-count whatever integer type the broker decoded.
func RetryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	}
	return 0
}

// Wait blocks until ctx is done or the connection drops.
func (q *AMQPQueue) Wait(ctx context.Context) error {
	closed := q.conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-ctx.Done():
		return nil
	case err := <-closed:
		if err != nil {
			return err
		}
		return fmt.Errorf("rabbitmq connection closed")
	}
}

func (q *AMQPQueue) Close() error {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
	q.wg.Wait()
	q.ch.Close()
	return q.conn.Close()
}
