package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/qcom/phoneotp/internal/config"
	"github.com/sirupsen/logrus"
)

// Unifonic sends the rendered message through the Unifonic SMS REST API.
// Only a 200 response counts as sent.
type Unifonic struct {
	client *resty.Client
	cfg    config.UnifonicConfig
	logger *logrus.Logger
}

func NewUnifonic(cfg config.UnifonicConfig, logger *logrus.Logger) (*Unifonic, error) {
	if cfg.AppSID == "" || cfg.SenderID == "" {
		return nil, fmt.Errorf("%w: unifonic app sid and sender id are required", ErrNotConfigured)
	}

	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json")

	return &Unifonic{
		client: c,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (u *Unifonic) Send(ctx context.Context, phone, _, message string) error {
	resp, err := u.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"AppSid":    u.cfg.AppSID,
			"SenderID":  u.cfg.SenderID,
			"Recipient": phone,
			"Body":      message,
		}).
		Post("/rest/SMS/messages")
	if err != nil {
		return fmt.Errorf("unifonic: failed to send sms: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unifonic: request failed status=%d body=%s", resp.StatusCode(), resp.String())
	}
	u.logger.WithField("phone", phone).Debug("Unifonic accepted SMS")
	return nil
}
