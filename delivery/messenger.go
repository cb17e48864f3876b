// Package delivery hands frozen job content to email and SMS providers.
package delivery

import (
	"context"
	"errors"
)

// ErrChannelNotConfigured is returned when a job needs a channel that has no
// provider behind it.
var ErrChannelNotConfigured = errors.New("delivery: channel not configured")

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Messenger delivers both kinds of message. Delivery is at-most-once per call;
// retries are the caller's decision.
type Messenger interface {
	EmailSender
	SMSSender
}

// Channels routes each channel to its own provider. A nil provider makes
// that channel fail with ErrChannelNotConfigured.
type Channels struct {
	Email EmailSender
	SMS   SMSSender
}

var _ Messenger = Channels{}

func (c Channels) SendEmail(ctx context.Context, to, subject, body string) error {
	if c.Email == nil {
		return ErrChannelNotConfigured
	}
	return c.Email.SendEmail(ctx, to, subject, body)
}

func (c Channels) SendSMS(ctx context.Context, to, body string) error {
	if c.SMS == nil {
		return ErrChannelNotConfigured
	}
	return c.SMS.SendSMS(ctx, to, body)
}
