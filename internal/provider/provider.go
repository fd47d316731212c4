// Package provider delivers codes to phones. Each provider is built by name
// from a Registry so deployments pick their gateway through configuration.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/qcom/phoneotp/internal/config"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownProvider = errors.New("provider: unknown provider")
	ErrNotConfigured   = errors.New("provider: not configured")
)

// Sender transmits a code out of band. message is the rendered text body;
// providers that register the code with a verification API use code instead.
type Sender interface {
	Send(ctx context.Context, phone, code, message string) error
}

// Factory builds a Sender from the provider configuration.
type Factory func(cfg config.ProvidersConfig, logger *logrus.Logger) (Sender, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("twilio", func(cfg config.ProvidersConfig, logger *logrus.Logger) (Sender, error) {
		return NewTwilio(cfg.Twilio, logger)
	})
	r.Register("unifonic", func(cfg config.ProvidersConfig, logger *logrus.Logger) (Sender, error) {
		return NewUnifonic(cfg.Unifonic, logger)
	})
	r.Register("log", func(_ config.ProvidersConfig, logger *logrus.Logger) (Sender, error) {
		return NewLogSender(logger), nil
	})
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Build(name string, cfg config.ProvidersConfig, logger *logrus.Logger) (Sender, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return f(cfg, logger)
}

// Names lists the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogSender writes codes to the log instead of sending them. For local
// development only.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, phone, code, message string) error {
	s.logger.WithFields(logrus.Fields{
		"phone":   phone,
		"otp":     code,
		"message": message,
	}).Info("OTP generated (logged for development)")
	return nil
}
