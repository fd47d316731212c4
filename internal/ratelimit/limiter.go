// Package ratelimit caps how many codes a phone number may request within a
// rolling hour. Exceeding the cap blocks the number for a configured period
// that outlives the request log entries that triggered it.
package ratelimit

import (
	"context"
	"time"

	"github.com/qcom/phoneotp/internal/clock"
	"github.com/qcom/phoneotp/internal/config"
	"github.com/qcom/phoneotp/internal/models"
	"github.com/qcom/phoneotp/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	window       = time.Hour
	logRetention = 24 * time.Hour
)

// Decision is the result of CheckAndAdmit. RetryAfter is in seconds and
// only meaningful when Admitted is false.
type Decision struct {
	Admitted   bool
	RetryAfter int
}

type Limiter struct {
	store  store.Store
	clock  clock.Clock
	config config.RateLimitConfig
	logger *logrus.Logger
}

func New(s store.Store, clk clock.Clock, cfg config.RateLimitConfig, logger *logrus.Logger) *Limiter {
	return &Limiter{
		store:  s,
		clock:  clk,
		config: cfg,
		logger: logger,
	}
}

// CheckAndAdmit decides whether phone may request another code. It does not
// record the request; callers do that with RecordRequest once they commit to
// generating.
func (l *Limiter) CheckAndAdmit(ctx context.Context, phone string) (Decision, error) {
	now := l.clock.Now()

	var block models.BlockMarker
	found, err := store.GetJSON(ctx, l.store, models.RateLimitBlockKey(phone), &block)
	if err != nil {
		return Decision{}, err
	}
	if found {
		return Decision{RetryAfter: clock.SecondsUntil(now, block.ExpiresAt)}, nil
	}

	requests, err := l.recentRequests(ctx, phone, now)
	if err != nil {
		return Decision{}, err
	}

	if requests < l.config.MaxRequestsPerHour {
		return Decision{Admitted: true}, nil
	}

	block = models.BlockMarker{ExpiresAt: now.Add(l.config.BlockDuration)}
	if err := store.PutJSON(ctx, l.store, models.RateLimitBlockKey(phone), block, l.config.BlockDuration); err != nil {
		return Decision{}, err
	}

	l.logger.WithFields(logrus.Fields{
		"phone":    phone,
		"requests": requests,
		"until":    block.ExpiresAt,
	}).Info("Phone rate limited")

	return Decision{RetryAfter: int(l.config.BlockDuration / time.Second)}, nil
}

// RecordRequest appends the current time to the phone's request log.
func (l *Limiter) RecordRequest(ctx context.Context, phone string) error {
	now := l.clock.Now()

	var log models.RequestLog
	if _, err := store.GetJSON(ctx, l.store, models.RequestLogKey(phone), &log); err != nil {
		return err
	}

	log.Requests = append(prune(log.Requests, now.Add(-logRetention)), now)
	return store.PutJSON(ctx, l.store, models.RequestLogKey(phone), log, logRetention)
}

func (l *Limiter) recentRequests(ctx context.Context, phone string, now time.Time) (int, error) {
	var log models.RequestLog
	if _, err := store.GetJSON(ctx, l.store, models.RequestLogKey(phone), &log); err != nil {
		return 0, err
	}
	return len(prune(log.Requests, now.Add(-window))), nil
}

// prune drops entries at or before cutoff, keeping order.
func prune(requests []time.Time, cutoff time.Time) []time.Time {
	kept := requests[:0]
	for _, at := range requests {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}
