package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/qcom/phoneotp/internal/middleware"
	"github.com/qcom/phoneotp/internal/service"
	"github.com/qcom/phoneotp/internal/store"
	"github.com/sirupsen/logrus"
)

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

type AuthHandlers struct {
	otpService *service.OTPService
	jwtService *service.JWTService
	logger     *logrus.Logger
}

func NewAuthHandlers(
	otpService *service.OTPService,
	jwtService *service.JWTService,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		otpService: otpService,
		jwtService: jwtService,
		logger:     logger,
	}
}

type InitiateOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type VerifyOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp"`
}

// OTPResponse mirrors service.Outcome on the wire.
type OTPResponse struct {
	Success           bool                       `json:"success"`
	Message           string                     `json:"message"`
	MessageKind       service.MessageKind        `json:"message_kind"`
	Type              service.ResponseType       `json:"type,omitempty"`
	RetryAfter        *int                       `json:"retry_after,omitempty"`
	RemainingAttempts *int                       `json:"remaining_attempts,omitempty"`
	ExpiresIn         *int                       `json:"expires_in,omitempty"`
	Verification      *service.VerificationToken `json:"verification,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *AuthHandlers) InitiateOTP(w http.ResponseWriter, r *http.Request) {
	var req InitiateOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	phoneNumber, ok := normalizePhoneNumber(req.PhoneNumber)
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number format")
		return
	}

	outcome, err := h.otpService.Generate(r.Context(), phoneNumber)
	if err != nil {
		h.respondWithInfraError(w, err, "OTP_GENERATION_FAILED", "Failed to generate OTP")
		return
	}

	h.respondWithOutcome(w, outcome, nil)
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	phoneNumber, ok := normalizePhoneNumber(req.PhoneNumber)
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number format")
		return
	}

	if req.OTP == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_OTP", "OTP is required")
		return
	}

	// The code is compared as submitted; no trimming.
	outcome, err := h.otpService.Verify(r.Context(), phoneNumber, req.OTP)
	if err != nil {
		h.respondWithInfraError(w, err, "OTP_VERIFICATION_FAILED", "Failed to verify OTP")
		return
	}

	if !outcome.Success {
		h.respondWithOutcome(w, outcome, nil)
		return
	}

	token, err := h.jwtService.IssueVerificationToken(phoneNumber)
	if err != nil {
		h.logger.WithError(err).Error("Failed to issue verification token")
		h.respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate token")
		return
	}

	h.respondWithOutcome(w, outcome, token)
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"phone_number": claims.Phone,
		"verified_at":  claims.IssuedAt.Time.UTC().Format(time.RFC3339),
	})
}

func (h *AuthHandlers) respondWithOutcome(w http.ResponseWriter, o *service.Outcome, token *service.VerificationToken) {
	status := statusForOutcome(o)
	if o.RetryAfter != nil && status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(*o.RetryAfter))
	}

	h.respondWithJSON(w, status, OTPResponse{
		Success:           o.Success,
		Message:           o.Message(),
		MessageKind:       o.Kind,
		Type:              o.Type,
		RetryAfter:        o.RetryAfter,
		RemainingAttempts: o.RemainingAttempts,
		ExpiresIn:         o.ExpiresIn,
		Verification:      token,
	})
}

func statusForOutcome(o *service.Outcome) int {
	switch o.Type {
	case service.TypeSuccess:
		return http.StatusOK
	case service.TypeRateLimited, service.TypeBlocked, service.TypeResendDelay:
		return http.StatusTooManyRequests
	case service.TypeSendFailed:
		return http.StatusBadGateway
	default:
		return http.StatusUnauthorized
	}
}

func (h *AuthHandlers) respondWithInfraError(w http.ResponseWriter, err error, code, message string) {
	if errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrLockTimeout) {
		h.respondWithError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable")
		return
	}
	h.logger.WithError(err).Error(message)
	h.respondWithError(w, http.StatusInternalServerError, code, message)
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// normalizePhoneNumber trims the input, prefixes a missing "+" and checks
// the result is E.164.
func normalizePhoneNumber(raw string) (string, bool) {
	phone := strings.TrimSpace(raw)
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return phone, phonePattern.MatchString(phone)
}
