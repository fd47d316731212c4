package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/qcom/phoneotp/internal/clock"
	"github.com/qcom/phoneotp/internal/config"
	"github.com/qcom/phoneotp/internal/models"
	"github.com/qcom/phoneotp/internal/provider"
	"github.com/qcom/phoneotp/internal/ratelimit"
	"github.com/qcom/phoneotp/internal/store"
	"github.com/sirupsen/logrus"
)

// OTPService issues and verifies codes. It keeps no state of its own; every
// per-phone fact lives in the store, and each call holds the phone's lock
// while it reads and mutates that state.
type OTPService struct {
	store   store.Store
	locker  store.Locker
	limiter *ratelimit.Limiter
	sender  provider.Sender
	clock   clock.Clock
	cfg     config.OTPConfig
	logger  *logrus.Logger
	random  io.Reader
}

func NewOTPService(
	s store.Store,
	locker store.Locker,
	sender provider.Sender,
	clk clock.Clock,
	cfg config.OTPConfig,
	logger *logrus.Logger,
) *OTPService {
	svc := &OTPService{
		store:  s,
		locker: locker,
		sender: sender,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
		random: rand.Reader,
	}
	if cfg.RateLimit.Enabled {
		svc.limiter = ratelimit.New(s, clk, cfg.RateLimit, logger)
	}
	return svc
}

type issuedCode struct {
	code   string
	isTest bool
}

// Generate issues a new code for phone unless a throttle denies it. Policy
// denials come back as an Outcome; a non-nil error means the store or lock
// failed.
func (s *OTPService) Generate(ctx context.Context, phone string) (*Outcome, error) {
	unlock, err := s.locker.Lock(ctx, phone)
	if err != nil {
		return nil, err
	}
	issued, denial, err := s.issue(ctx, phone)
	unlock()

	if err != nil {
		s.logger.WithError(err).WithField("phone", phone).Error("Failed to generate OTP")
		return nil, err
	}
	if denial != nil {
		s.logger.WithFields(logrus.Fields{
			"phone":       phone,
			"type":        denial.Type.String(),
			"retry_after": *denial.RetryAfter,
		}).Info("OTP generation denied")
		return denial, nil
	}

	return s.deliver(ctx, phone, issued), nil
}

// issue runs the throttle checks in precedence order and, when they pass,
// writes the record and resend marker. Called with the phone's lock held.
func (s *OTPService) issue(ctx context.Context, phone string) (*issuedCode, *Outcome, error) {
	if s.limiter != nil {
		decision, err := s.limiter.CheckAndAdmit(ctx, phone)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check rate limit: %w", err)
		}
		if !decision.Admitted {
			return nil, denied(MessageRateLimited, TypeRateLimited, decision.RetryAfter), nil
		}
	}

	now := s.clock.Now()

	var block models.BlockMarker
	blocked, err := store.GetJSON(ctx, s.store, models.BlockKey(phone), &block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load block marker: %w", err)
	}
	if blocked {
		return nil, denied(MessageTooManyAttempts, TypeBlocked, clock.SecondsUntil(now, block.ExpiresAt)), nil
	}

	var resend models.ResendMarker
	waiting, err := store.GetJSON(ctx, s.store, models.ResendKey(phone), &resend)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load resend marker: %w", err)
	}
	if waiting {
		// A marker stamped by a node whose clock runs ahead must not push
		// the wait past the configured delay.
		elapsed := max(0, int(now.Sub(resend.CreatedAt)/time.Second))
		remaining := max(0, int(s.cfg.ResendDelay/time.Second)-elapsed)
		return nil, denied(MessageResendDelay, TypeResendDelay, remaining), nil
	}

	isTest := s.cfg.TestMode || s.cfg.IsTestNumber(phone)
	code := s.cfg.TestCode
	if !isTest {
		if code, err = s.generateCode(); err != nil {
			return nil, nil, fmt.Errorf("failed to generate OTP: %w", err)
		}
	}

	record := models.OTPRecord{Code: code, IsTest: isTest}
	if err := store.PutJSON(ctx, s.store, models.OTPKey(phone), record, s.cfg.Expiry); err != nil {
		return nil, nil, fmt.Errorf("failed to store OTP: %w", err)
	}
	if err := store.PutJSON(ctx, s.store, models.ResendKey(phone), models.ResendMarker{CreatedAt: now}, s.cfg.ResendDelay); err != nil {
		return nil, nil, fmt.Errorf("failed to store resend marker: %w", err)
	}

	if s.limiter != nil {
		if err := s.limiter.RecordRequest(ctx, phone); err != nil {
			return nil, nil, fmt.Errorf("failed to record request: %w", err)
		}
	}

	return &issuedCode{code: code, isTest: isTest}, nil, nil
}

// deliver hands the code to the provider. The record and resend marker are
// already written, so a failed or timed-out send leaves a valid code behind
// and a retry is held off by the resend delay.
func (s *OTPService) deliver(ctx context.Context, phone string, issued *issuedCode) *Outcome {
	expiresIn := int(s.cfg.Expiry / time.Second)

	if issued.isTest {
		s.logger.WithFields(logrus.Fields{
			"phone": phone,
			"otp":   issued.code,
		}).Debug("Test OTP generated, delivery skipped")
		return &Outcome{Success: true, Kind: MessageOTPSent, Type: TypeSuccess, ExpiresIn: intPtr(expiresIn)}
	}

	sendCtx := ctx
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}

	message := renderSMS(issued.code, int((s.cfg.Expiry+time.Minute-1)/time.Minute))
	if err := s.sender.Send(sendCtx, phone, issued.code, message); err != nil {
		s.logger.WithError(err).WithField("phone", phone).Warn("Failed to send OTP")
		return &Outcome{Kind: MessageSendFailed, Type: TypeSendFailed}
	}

	s.logger.WithField("phone", phone).Info("OTP sent")
	return &Outcome{Success: true, Kind: MessageOTPSent, Type: TypeSuccess, ExpiresIn: intPtr(expiresIn)}
}

// Verify checks code against the outstanding record for phone. Wrong codes
// consume an attempt; the attempt that reaches the limit blocks the phone.
func (s *OTPService) Verify(ctx context.Context, phone, code string) (*Outcome, error) {
	unlock, err := s.locker.Lock(ctx, phone)
	if err != nil {
		return nil, err
	}
	defer unlock()

	outcome, err := s.verify(ctx, phone, code)
	if err != nil {
		s.logger.WithError(err).WithField("phone", phone).Error("Failed to verify OTP")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"phone":   phone,
		"success": outcome.Success,
		"kind":    outcome.Kind.String(),
	}).Info("OTP verification processed")

	return outcome, nil
}

func (s *OTPService) verify(ctx context.Context, phone, code string) (*Outcome, error) {
	now := s.clock.Now()

	var record models.OTPRecord
	hasRecord, err := store.GetJSON(ctx, s.store, models.OTPKey(phone), &record)
	if err != nil {
		return nil, fmt.Errorf("failed to load OTP: %w", err)
	}

	var block models.BlockMarker
	blocked, err := store.GetJSON(ctx, s.store, models.BlockKey(phone), &block)
	if err != nil {
		return nil, fmt.Errorf("failed to load block marker: %w", err)
	}

	if blocked {
		return denied(MessageTooManyAttempts, TypeBlocked, clock.SecondsUntil(now, block.ExpiresAt)), nil
	}
	if hasRecord && record.Attempts >= s.cfg.MaxAttempts {
		return s.block(ctx, phone, now)
	}
	if !hasRecord {
		return &Outcome{Kind: MessageExpiredOrNotFound}, nil
	}

	if subtle.ConstantTimeCompare([]byte(record.Code), []byte(code)) == 1 {
		if err := s.store.Delete(ctx, models.OTPKey(phone)); err != nil {
			return nil, fmt.Errorf("failed to delete OTP: %w", err)
		}
		if err := s.store.Delete(ctx, models.ResendKey(phone)); err != nil {
			return nil, fmt.Errorf("failed to clear resend marker: %w", err)
		}
		return &Outcome{Success: true, Kind: MessageOTPVerified, Type: TypeSuccess}, nil
	}

	record.Attempts++
	if record.Attempts >= s.cfg.MaxAttempts {
		return s.block(ctx, phone, now)
	}

	if err := store.PutJSON(ctx, s.store, models.OTPKey(phone), record, s.cfg.Expiry); err != nil {
		return nil, fmt.Errorf("failed to store OTP attempts: %w", err)
	}

	return &Outcome{
		Kind:              MessageInvalidOTP,
		RemainingAttempts: intPtr(s.cfg.MaxAttempts - record.Attempts),
	}, nil
}

// block writes the block marker and drops the exhausted record.
func (s *OTPService) block(ctx context.Context, phone string, now time.Time) (*Outcome, error) {
	marker := models.BlockMarker{ExpiresAt: now.Add(s.cfg.BlockDuration)}
	if err := store.PutJSON(ctx, s.store, models.BlockKey(phone), marker, s.cfg.BlockDuration); err != nil {
		return nil, fmt.Errorf("failed to store block marker: %w", err)
	}
	if err := s.store.Delete(ctx, models.OTPKey(phone)); err != nil {
		return nil, fmt.Errorf("failed to delete exhausted OTP: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"phone": phone,
		"until": marker.ExpiresAt,
	}).Warn("Phone blocked after exhausting verification attempts")

	return denied(MessageMaxAttemptsExceeded, TypeBlocked, clock.SecondsUntil(now, marker.ExpiresAt)), nil
}

// generateCode returns a uniformly random code of the configured length,
// left-padded with zeros.
func (s *OTPService) generateCode() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.cfg.Length)), nil)
	n, err := rand.Int(s.random, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", s.cfg.Length, n.Int64()), nil
}
