package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const HeaderRequestID = "X-Request-ID"

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs one line per request and tags the response with a
// request ID, reusing the caller's when it sent one.
func LoggingMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
			if requestID == "" || len(requestID) > 128 || strings.ContainsAny(requestID, "\r\n") {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if r.URL.Path == "/health" {
				return
			}

			logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"duration":   time.Since(start).String(),
				"client_ip":  ClientIP(r),
			}).Info("HTTP request")
		})
	}
}

// IPRateLimiter keeps one token bucket per client IP. A bucket is dropped
// once its IP has been idle for the idle window.
type IPRateLimiter struct {
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
	idle     time.Duration
	logger   *logrus.Logger
}

func NewIPRateLimiter(perSecond float64, burst int, logger *logrus.Logger) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: cache.New(10*time.Minute, 20*time.Minute),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		logger:   logger,
	}
}

func (l *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	if val, found := l.limiters.Get(ip); found {
		limiter := val.(*rate.Limiter)
		// go-cache fixes expiry at write time; rewrite to extend it.
		l.limiters.Set(ip, limiter, l.idle)
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	if err := l.limiters.Add(ip, limiter, l.idle); err != nil {
		// Lost the race to another request from the same IP.
		if val, found := l.limiters.Get(ip); found {
			return val.(*rate.Limiter)
		}
	}
	return limiter
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !l.limiterFor(ip).Allow() {
			l.logger.WithField("client_ip", ip).Warn("Client IP throttled")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"code":"TOO_MANY_REQUESTS","message":"Too many requests"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP prefers proxy headers and falls back to the connection address.
func ClientIP(r *http.Request) string {
	var ip string
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		ip = xrip
	} else if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ = strings.Cut(xff, ",")
		ip = strings.TrimSpace(ip)
	}
	if ip != "" && net.ParseIP(ip) != nil {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
