package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel  string
	Server    ServerConfig
	Store     StoreConfig
	DynamoDB  DynamoDBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OTP       OTPConfig
	Providers ProvidersConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Per-client-IP token bucket in front of the OTP routes.
	IPRatePerSecond float64
	IPBurst         int
}

// StoreConfig selects the expiring store backend: redis, dynamodb or memory.
type StoreConfig struct {
	Driver   string
	LockTTL  time.Duration
	LockWait time.Duration
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey          string
	VerificationExpiry time.Duration
}

// OTPConfig is the immutable policy handed to the OTP engine.
type OTPConfig struct {
	DefaultProvider string
	Length          int
	Expiry          time.Duration
	MaxAttempts     int
	ResendDelay     time.Duration
	BlockDuration   time.Duration
	RateLimit       RateLimitConfig
	TestMode        bool
	TestCode        string
	TestNumbers     []string
	SendTimeout     time.Duration
}

type RateLimitConfig struct {
	Enabled            bool
	MaxRequestsPerHour int
	BlockDuration      time.Duration
}

// IsTestNumber reports whether phone is in the configured test-number set.
func (c OTPConfig) IsTestNumber(phone string) bool {
	for _, n := range c.TestNumbers {
		if n == phone {
			return true
		}
	}
	return false
}

type ProvidersConfig struct {
	Twilio   TwilioConfig
	Unifonic UnifonicConfig
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	// ServiceType is "sms" (code embedded in a text body) or "verify"
	// (code registered with the Verify API as a custom code).
	ServiceType     string
	VerificationSID string
	BaseURL         string
	VerifyBaseURL   string
}

type UnifonicConfig struct {
	AppSID   string
	SenderID string
	BaseURL  string
}

const (
	StoreDriverRedis    = "redis"
	StoreDriverDynamoDB = "dynamodb"
	StoreDriverMemory   = "memory"
)

func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IPRatePerSecond: getEnvAsFloat("IP_RATE_PER_SECOND", 5),
			IPBurst:         getEnvAsInt("IP_RATE_BURST", 15),
		},
		Store: StoreConfig{
			Driver:   getEnv("STORE_DRIVER", StoreDriverRedis),
			LockTTL:  getEnvAsDuration("STORE_LOCK_TTL", 10*time.Second),
			LockWait: getEnvAsDuration("STORE_LOCK_WAIT", 2*time.Second),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "PhoneOTP"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:          getEnv("JWT_SECRET_KEY", ""),
			VerificationExpiry: getEnvAsDuration("JWT_VERIFICATION_EXPIRY", 15*time.Minute),
		},
		OTP: OTPConfig{
			DefaultProvider: getEnv("OTP_PROVIDER", "twilio"),
			Length:          getEnvAsInt("OTP_LENGTH", 4),
			Expiry:          getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			MaxAttempts:     getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
			ResendDelay:     getEnvAsDuration("OTP_RESEND_DELAY", 60*time.Second),
			BlockDuration:   getEnvAsDuration("OTP_BLOCK_DURATION", 30*time.Minute),
			RateLimit: RateLimitConfig{
				Enabled:            getEnvAsBool("OTP_RATE_LIMIT_ENABLED", true),
				MaxRequestsPerHour: getEnvAsInt("OTP_RATE_LIMIT_MAX_PER_HOUR", 5),
				BlockDuration:      getEnvAsDuration("OTP_RATE_LIMIT_BLOCK_DURATION", 60*time.Minute),
			},
			TestMode:    getEnvAsBool("OTP_TEST_MODE", false),
			TestCode:    getEnv("OTP_TEST_CODE", "8888"),
			TestNumbers: getEnvAsList("OTP_TEST_NUMBERS"),
			SendTimeout: getEnvAsDuration("OTP_SEND_TIMEOUT", 10*time.Second),
		},
		Providers: ProvidersConfig{
			Twilio: TwilioConfig{
				AccountSID:      getEnv("TWILIO_ACCOUNT_SID", ""),
				AuthToken:       getEnv("TWILIO_AUTH_TOKEN", ""),
				From:            getEnv("TWILIO_FROM", ""),
				ServiceType:     getEnv("TWILIO_SERVICE_TYPE", "sms"),
				VerificationSID: getEnv("TWILIO_VERIFICATION_SID", ""),
				BaseURL:         getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
				VerifyBaseURL:   getEnv("TWILIO_VERIFY_BASE_URL", "https://verify.twilio.com"),
			},
			Unifonic: UnifonicConfig{
				AppSID:   getEnv("UNIFONIC_APP_SID", ""),
				SenderID: getEnv("UNIFONIC_SENDER_ID", ""),
				BaseURL:  getEnv("UNIFONIC_BASE_URL", "https://api.unifonic.com"),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the OTP engine cannot honour.
func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return errors.New("JWT_SECRET_KEY environment variable is required")
	}
	if len(c.JWT.SecretKey) < 32 {
		return errors.New("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	switch c.Store.Driver {
	case StoreDriverRedis, StoreDriverDynamoDB, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	return c.OTP.Validate()
}

func (c OTPConfig) Validate() error {
	if c.Length < 1 || c.Length > 9 {
		return fmt.Errorf("OTP_LENGTH must be between 1 and 9, got %d", c.Length)
	}
	if c.Expiry <= 0 {
		return errors.New("OTP_EXPIRY must be positive")
	}
	if c.MaxAttempts < 1 {
		return errors.New("OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.ResendDelay < 0 {
		return errors.New("OTP_RESEND_DELAY must not be negative")
	}
	if c.BlockDuration <= 0 {
		return errors.New("OTP_BLOCK_DURATION must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequestsPerHour < 1 {
			return errors.New("OTP_RATE_LIMIT_MAX_PER_HOUR must be at least 1")
		}
		if c.RateLimit.BlockDuration <= 0 {
			return errors.New("OTP_RATE_LIMIT_BLOCK_DURATION must be positive")
		}
	}
	if (c.TestMode || len(c.TestNumbers) > 0) && c.TestCode == "" {
		return errors.New("OTP_TEST_CODE is required when test mode or test numbers are configured")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
