package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/qcom/phoneotp/internal/config"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestTwilio_SendViaSMS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("To"); got != "+1555" {
			t.Errorf("To = %q, want +1555", got)
		}
		if got := r.PostForm.Get("From"); got != "+1999" {
			t.Errorf("From = %q, want +1999", got)
		}
		if got := r.PostForm.Get("Body"); got != "Your verification code is: 1234. Valid for 5 minutes." {
			t.Errorf("Body = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer server.Close()

	tw, err := NewTwilio(config.TwilioConfig{
		AccountSID:  "AC123",
		AuthToken:   "secret",
		From:        "+1999",
		ServiceType: TwilioServiceSMS,
		BaseURL:     server.URL,
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewTwilio: %v", err)
	}

	err = tw.Send(context.Background(), "+1555", "1234", "Your verification code is: 1234. Valid for 5 minutes.")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestTwilio_SendViaVerify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/Services/VA42/Verifications" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("CustomCode"); got != "0042" {
			t.Errorf("CustomCode = %q, want 0042", got)
		}
		if got := r.PostForm.Get("Channel"); got != "sms" {
			t.Errorf("Channel = %q, want sms", got)
		}
		if got := r.PostForm.Get("Body"); got != "" {
			t.Errorf("Body = %q, want empty for verify", got)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tw, err := NewTwilio(config.TwilioConfig{
		AccountSID:      "AC123",
		AuthToken:       "secret",
		ServiceType:     TwilioServiceVerify,
		VerificationSID: "VA42",
		VerifyBaseURL:   server.URL,
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewTwilio: %v", err)
	}

	if err := tw.Send(context.Background(), "+1555", "0042", "ignored"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestTwilio_Non2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid To"}`))
	}))
	defer server.Close()

	tw, _ := NewTwilio(config.TwilioConfig{
		AccountSID:  "AC123",
		AuthToken:   "secret",
		From:        "+1999",
		ServiceType: TwilioServiceSMS,
		BaseURL:     server.URL,
	}, quietLogger())

	err := tw.Send(context.Background(), "+1555", "1234", "body")
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "status=400") {
		t.Errorf("error = %q, want to contain status=400", err.Error())
	}
}

func TestNewTwilio_RejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TwilioConfig
	}{
		{"no credentials", config.TwilioConfig{ServiceType: TwilioServiceSMS, From: "+1"}},
		{"sms without from", config.TwilioConfig{AccountSID: "a", AuthToken: "b", ServiceType: TwilioServiceSMS}},
		{"verify without sid", config.TwilioConfig{AccountSID: "a", AuthToken: "b", ServiceType: TwilioServiceVerify}},
		{"unknown service type", config.TwilioConfig{AccountSID: "a", AuthToken: "b", ServiceType: "voice"}},
	}

	for _, tt := range tests {
		if _, err := NewTwilio(tt.cfg, quietLogger()); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("%s: error = %v, want ErrNotConfigured", tt.name, err)
		}
	}
}

func TestUnifonic_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/SMS/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		want := map[string]string{
			"AppSid":    "app",
			"SenderID":  "BRAND",
			"Recipient": "+966500000000",
			"Body":      "hello",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, err := NewUnifonic(config.UnifonicConfig{AppSID: "app", SenderID: "BRAND", BaseURL: server.URL}, quietLogger())
	if err != nil {
		t.Fatalf("NewUnifonic: %v", err)
	}

	if err := u.Send(context.Background(), "+966500000000", "1234", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestUnifonic_OnlyOKCountsAsSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	u, _ := NewUnifonic(config.UnifonicConfig{AppSID: "app", SenderID: "BRAND", BaseURL: server.URL}, quietLogger())

	if err := u.Send(context.Background(), "+1555", "1234", "hello"); err == nil {
		t.Error("Send succeeded on 202, want error")
	}
}

func TestUnifonic_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	u, _ := NewUnifonic(config.UnifonicConfig{AppSID: "app", SenderID: "BRAND", BaseURL: url}, quietLogger())

	if err := u.Send(context.Background(), "+1555", "1234", "hello"); err == nil {
		t.Error("Send succeeded against a closed server")
	}
}

func TestRegistry_Build(t *testing.T) {
	r := NewRegistry()

	s, err := r.Build("log", config.ProvidersConfig{}, quietLogger())
	if err != nil {
		t.Fatalf("Build(log): %v", err)
	}
	if err := s.Send(context.Background(), "+1555", "1234", "msg"); err != nil {
		t.Errorf("LogSender.Send: %v", err)
	}

	if _, err := r.Build("carrier-pigeon", config.ProvidersConfig{}, quietLogger()); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Build(unknown) error = %v, want ErrUnknownProvider", err)
	}

	if _, err := r.Build("twilio", config.ProvidersConfig{}, quietLogger()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Build(twilio) with empty config error = %v, want ErrNotConfigured", err)
	}
}

type stubSender struct{}

func (stubSender) Send(context.Context, string, string, string) error { return nil }

func TestRegistry_RegisterCustom(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", func(config.ProvidersConfig, *logrus.Logger) (Sender, error) {
		return stubSender{}, nil
	})

	got := r.Names()
	want := []string{"log", "stub", "twilio", "unifonic"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names = %v, want %v", got, want)
	}

	if _, err := r.Build("stub", config.ProvidersConfig{}, quietLogger()); err != nil {
		t.Errorf("Build(stub): %v", err)
	}
}
