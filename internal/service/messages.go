package service

import (
	"strconv"
	"strings"
)

var messages = map[MessageKind]string{
	MessageOTPSent:             "OTP sent successfully.",
	MessageOTPVerified:         "OTP verified successfully.",
	MessageSendFailed:          "Failed to send OTP.",
	MessageExpiredOrNotFound:   "OTP expired or not found.",
	MessageInvalidOTP:          "Invalid OTP.",
	MessageMaxAttemptsExceeded: "Maximum verification attempts exceeded. Please try again later.",
	MessageTooManyAttempts:     "Too many attempts. Please try again later.",
	MessageResendDelay:         "Please wait :seconds seconds before requesting a new OTP.",
	MessageRateLimited:         "Rate limit exceeded. Blocked for :minutes minutes.",
}

const smsTemplate = "Your verification code is: :otp. Valid for :minutes minutes."

func renderOutcome(o *Outcome) string {
	text, ok := messages[o.Kind]
	if !ok {
		return ""
	}

	seconds := 0
	if o.RetryAfter != nil {
		seconds = *o.RetryAfter
	}

	return strings.NewReplacer(
		":seconds", strconv.Itoa(seconds),
		":minutes", strconv.Itoa((seconds+59)/60),
	).Replace(text)
}

// renderSMS builds the text body delivered to the phone.
func renderSMS(code string, validMinutes int) string {
	return strings.NewReplacer(
		":otp", code,
		":minutes", strconv.Itoa(validMinutes),
	).Replace(smsTemplate)
}
