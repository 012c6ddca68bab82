// Package mailer renders newsletter emails and hands them to a transactional
// email provider, one recipient per call.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/newsletter-backend/internal/logger"
	"github.com/unclebandit/newsletter-backend/internal/metrics"
)

// Message is a single rendered email for a single recipient.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Result is what a provider returns on acceptance. MessageID may be empty.
type Result struct {
	MessageID string
}

// Provider submits one message per call.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (*Result, error)
}

// DispatchError is the typed failure for a rejected or undeliverable message.
// Message carries the provider's error text when there is one.
type DispatchError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *DispatchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Dispatcher applies a per-call timeout around a Provider. It never retries.
type Dispatcher struct {
	Provider Provider
	From     string
	Timeout  time.Duration
	Metrics  *metrics.Registry
}

func NewDispatcher(p Provider, from string, timeout time.Duration, m *metrics.Registry) *Dispatcher {
	return &Dispatcher{Provider: p, From: from, Timeout: timeout, Metrics: m}
}

func (d *Dispatcher) ProviderName() string { return d.Provider.Name() }

// Dispatch sends one email and returns the provider message id, which may be
// empty. Every failure, including a timeout, is returned as *DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, to, subject, html string) (string, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := d.Provider.Send(ctx, Message{From: d.From, To: to, Subject: subject, HTML: html})
	d.Metrics.ObserveDispatch(time.Since(start))

	if err != nil {
		derr := d.classify(ctx, err)
		log.Warn().Str("provider", d.Provider.Name()).Str("to", logger.RedactEmail(to)).
			Err(derr).Msg("dispatch failed")
		return "", derr
	}
	if res == nil {
		return "", nil
	}
	return res.MessageID, nil
}

func (d *Dispatcher) classify(ctx context.Context, err error) *DispatchError {
	var derr *DispatchError
	if errors.As(err, &derr) {
		if derr.Provider == "" {
			derr.Provider = d.Provider.Name()
		}
		return derr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &DispatchError{
			Provider: d.Provider.Name(),
			Message:  fmt.Sprintf("timed out after %s", d.Timeout),
			Err:      err,
		}
	}
	return &DispatchError{Provider: d.Provider.Name(), Err: err}
}
