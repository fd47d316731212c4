package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/mux"
	"github.com/qcom/phoneotp/internal/clock"
	"github.com/qcom/phoneotp/internal/config"
	"github.com/qcom/phoneotp/internal/handlers"
	"github.com/qcom/phoneotp/internal/middleware"
	"github.com/qcom/phoneotp/internal/provider"
	"github.com/qcom/phoneotp/internal/service"
	"github.com/qcom/phoneotp/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	clk := clock.New()

	otpStore, locker, closeStore, err := initStore(cfg, clk, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize store")
	}
	defer closeStore()

	sender, err := provider.NewRegistry().Build(cfg.OTP.DefaultProvider, cfg.Providers, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OTP provider")
	}

	jwtService, err := service.NewJWTService(&cfg.JWT, clk, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	otpService := service.NewOTPService(otpStore, locker, sender, clk, cfg.OTP, logger)
	authHandlers := handlers.NewAuthHandlers(otpService, jwtService, logger)
	authMiddleware := middleware.NewAuthMiddleware(jwtService, logger)
	ipLimiter := middleware.NewIPRateLimiter(cfg.Server.IPRatePerSecond, cfg.Server.IPBurst, logger)

	router := setupRouter(authHandlers, authMiddleware, ipLimiter, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":      cfg.Server.Port,
			"store":     cfg.Store.Driver,
			"provider":  cfg.OTP.DefaultProvider,
			"test_mode": cfg.OTP.TestMode,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// initStore builds the configured store and the matching per-phone locker.
func initStore(cfg *config.Config, clk clock.Clock, logger *logrus.Logger) (store.Store, store.Locker, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverRedis:
		client, err := initRedis(cfg, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { _ = client.Close() }
		return store.NewRedisStore(client, logger),
			store.NewRedisLocker(client, cfg.Store.LockTTL, cfg.Store.LockWait),
			closeFn, nil

	case config.StoreDriverDynamoDB:
		client, err := initDynamoDB(cfg, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Warn("DynamoDB store uses an in-process lock; run a single instance")
		return store.NewDynamoStore(client, cfg.DynamoDB.TableName, clk, logger),
			store.NewKeyedMutex(), func() {}, nil

	case config.StoreDriverMemory:
		logger.Warn("Using in-memory store; state is lost on restart")
		return store.NewMemoryStore(clk), store.NewKeyedMutex(), func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func initRedis(cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	b := retry.NewFibonacci(200 * time.Millisecond)
	b = retry.WithCappedDuration(2*time.Second, b)
	b = retry.WithMaxRetries(5, b)

	err := retry.Do(context.Background(), b, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis not ready, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Endpoint, err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

func setupRouter(
	authHandlers *handlers.AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	ipLimiter *middleware.IPRateLimiter,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.Use(ipLimiter.Middleware)
	auth.HandleFunc("/initiate-otp", authHandlers.InitiateOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/verify-otp", authHandlers.VerifyOTP).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(authMiddleware.RequireVerified)
	protected.HandleFunc("/me", authHandlers.Me).Methods("GET")

	return router
}
