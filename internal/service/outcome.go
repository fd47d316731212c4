package service

// ResponseType tags why a Generate or Verify call ended the way it did.
// Verify denials other than a block (wrong or missing code) carry TypeNone.
type ResponseType int

const (
	TypeNone ResponseType = iota
	TypeSuccess
	TypeRateLimited
	TypeBlocked
	TypeResendDelay
	TypeSendFailed
)

func (t ResponseType) String() string {
	switch t {
	case TypeSuccess:
		return "success"
	case TypeRateLimited:
		return "rate_limited"
	case TypeBlocked:
		return "blocked"
	case TypeResendDelay:
		return "resend_delay"
	case TypeSendFailed:
		return "send_failed"
	default:
		return ""
	}
}

func (t ResponseType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// MessageKind selects the user-facing message for an outcome.
type MessageKind int

const (
	MessageOTPSent MessageKind = iota + 1
	MessageOTPVerified
	MessageSendFailed
	MessageExpiredOrNotFound
	MessageInvalidOTP
	MessageMaxAttemptsExceeded
	MessageTooManyAttempts
	MessageResendDelay
	MessageRateLimited
)

func (k MessageKind) String() string {
	switch k {
	case MessageOTPSent:
		return "otp_sent_successfully"
	case MessageOTPVerified:
		return "otp_verified_successfully"
	case MessageSendFailed:
		return "otp_send_failed"
	case MessageExpiredOrNotFound:
		return "otp_expired_or_not_found"
	case MessageInvalidOTP:
		return "invalid_otp"
	case MessageMaxAttemptsExceeded:
		return "max_attempts_exceeded"
	case MessageTooManyAttempts:
		return "too_many_attempts"
	case MessageResendDelay:
		return "resend_delay_active"
	case MessageRateLimited:
		return "rate_limit_exceeded"
	default:
		return "unknown"
	}
}

func (k MessageKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the result of Generate or Verify. The optional fields are nil
// when they do not apply; RetryAfter and ExpiresIn are in seconds.
type Outcome struct {
	Success           bool
	Kind              MessageKind
	Type              ResponseType
	RetryAfter        *int
	RemainingAttempts *int
	ExpiresIn         *int
}

// Message renders the English text for the outcome.
func (o *Outcome) Message() string {
	return renderOutcome(o)
}

func intPtr(v int) *int {
	return &v
}

func denied(kind MessageKind, typ ResponseType, retryAfter int) *Outcome {
	return &Outcome{
		Kind:       kind,
		Type:       typ,
		RetryAfter: intPtr(retryAfter),
	}
}
