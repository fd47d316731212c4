package models

import "time"

// OTPRecord is the outstanding code for a phone number.
type OTPRecord struct {
	Code     string `json:"code"`
	Attempts int    `json:"attempts"`
	IsTest   bool   `json:"is_test"`
}

// ResendMarker is present while a new code may not be requested.
type ResendMarker struct {
	CreatedAt time.Time `json:"created_at"`
}

// BlockMarker is present while the phone is blocked after exhausting its
// verification attempts. The rate limiter writes the same shape under its
// own namespace.
type BlockMarker struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// RequestLog holds the generation timestamps of the trailing day.
type RequestLog struct {
	Requests []time.Time `json:"requests"`
}

func OTPKey(phone string) string {
	return "otp:" + phone
}

func ResendKey(phone string) string {
	return "otp_last_sent:" + phone
}

func BlockKey(phone string) string {
	return "otp_blocked:" + phone
}

func RateLimitBlockKey(phone string) string {
	return "otp_rate_blocked:" + phone
}

func RequestLogKey(phone string) string {
	return "otp_requests:" + phone
}
