package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/qcom/phoneotp/internal/config"
	"github.com/sirupsen/logrus"
)

const (
	TwilioServiceSMS    = "sms"
	TwilioServiceVerify = "verify"

	defaultTimeout = 15 * time.Second
)

// Twilio sends codes either as a plain SMS body through the Messages API or
// as a custom code through the Verify API.
type Twilio struct {
	api    *resty.Client
	verify *resty.Client
	cfg    config.TwilioConfig
	logger *logrus.Logger
}

func NewTwilio(cfg config.TwilioConfig, logger *logrus.Logger) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: twilio account sid and auth token are required", ErrNotConfigured)
	}

	switch cfg.ServiceType {
	case TwilioServiceSMS:
		if cfg.From == "" {
			return nil, fmt.Errorf("%w: twilio sms requires a from number", ErrNotConfigured)
		}
	case TwilioServiceVerify:
		if cfg.VerificationSID == "" {
			return nil, fmt.Errorf("%w: twilio verify requires a verification service sid", ErrNotConfigured)
		}
	default:
		return nil, fmt.Errorf("%w: invalid twilio service type %q", ErrNotConfigured, cfg.ServiceType)
	}

	newClient := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
			SetHeader("Accept", "application/json")
	}

	return &Twilio{
		api:    newClient(cfg.BaseURL),
		verify: newClient(cfg.VerifyBaseURL),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (t *Twilio) Send(ctx context.Context, phone, code, message string) error {
	if t.cfg.ServiceType == TwilioServiceVerify {
		return t.sendViaVerify(ctx, phone, code)
	}
	return t.sendViaSMS(ctx, phone, message)
}

func (t *Twilio) sendViaSMS(ctx context.Context, phone, message string) error {
	resp, err := t.api.R().
		SetContext(ctx).
		SetPathParam("sid", t.cfg.AccountSID).
		SetFormData(map[string]string{
			"To":   phone,
			"From": t.cfg.From,
			"Body": message,
		}).
		Post("/2010-04-01/Accounts/{sid}/Messages.json")
	if err != nil {
		return fmt.Errorf("twilio: failed to send sms: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("twilio: request failed status=%d body=%s", resp.StatusCode(), resp.String())
	}
	t.logger.WithField("phone", phone).Debug("Twilio accepted SMS")
	return nil
}

func (t *Twilio) sendViaVerify(ctx context.Context, phone, code string) error {
	resp, err := t.verify.R().
		SetContext(ctx).
		SetPathParam("sid", t.cfg.VerificationSID).
		SetFormData(map[string]string{
			"To":         phone,
			"Channel":    TwilioServiceSMS,
			"CustomCode": code,
		}).
		Post("/v2/Services/{sid}/Verifications")
	if err != nil {
		return fmt.Errorf("twilio: failed to create verification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("twilio: request failed status=%d body=%s", resp.StatusCode(), resp.String())
	}
	t.logger.WithField("phone", phone).Debug("Twilio accepted verification")
	return nil
}
