package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/qcom/phoneotp/internal/clock"
	"github.com/qcom/phoneotp/internal/config"
	"github.com/sirupsen/logrus"
)

const TokenTypePhoneVerified = "phone_verified"

var ErrInvalidToken = errors.New("invalid token")

// JWTService signs short-lived proofs that a phone number passed OTP
// verification.
type JWTService struct {
	secretKey []byte
	expiry    time.Duration
	clock     clock.Clock
	logger    *logrus.Logger
}

func NewJWTService(cfg *config.JWTConfig, clk clock.Clock, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &JWTService{
		secretKey: secretKey,
		expiry:    cfg.VerificationExpiry,
		clock:     clk,
		logger:    logger,
	}, nil
}

type Claims struct {
	Phone string `json:"phone"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

type VerificationToken struct {
	Token     string `json:"verification_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

func (s *JWTService) IssueVerificationToken(phoneNumber string) (*VerificationToken, error) {
	now := s.clock.Now()

	claims := &Claims{
		Phone: phoneNumber,
		Type:  TokenTypePhoneVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   phoneNumber,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign verification token")
		return nil, fmt.Errorf("failed to sign verification token: %w", err)
	}

	return &VerificationToken{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresIn: int64(s.expiry.Seconds()),
	}, nil
}

func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.clock.Now))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenTypePhoneVerified {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.Type)
	}

	return claims, nil
}
