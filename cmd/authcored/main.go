// Command authcored serves the authentication API over HTTP, backed by
// Redis and a JSON user directory file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	authcore "github.com/halcyonsec/authcore"
	"github.com/halcyonsec/authcore/httpapi"
)

type serverConfig struct {
	Port            int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	UsersFile       string
	JWTSecret       string
	Issuer          string
	KeyPrefix       string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	LockoutDuration time.Duration
	MaxAttempts     int
	StoreTimeout    time.Duration
	LogLevel        string
	LogFormat       string
	ShutdownGrace   time.Duration
}

func loadConfig() serverConfig {
	return serverConfig{
		Port:            getEnvIntOrDefault("PORT", 8080),
		RedisAddr:       getEnvOrDefault("AUTHCORE_REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("AUTHCORE_REDIS_PASSWORD"),
		RedisDB:         getEnvIntOrDefault("AUTHCORE_REDIS_DB", 0),
		UsersFile:       getEnvOrDefault("AUTHCORE_USERS_FILE", "users.json"),
		JWTSecret:       os.Getenv("AUTHCORE_JWT_SECRET"),
		Issuer:          getEnvOrDefault("AUTHCORE_ISSUER", "authcore"),
		KeyPrefix:       os.Getenv("AUTHCORE_KEY_PREFIX"),
		AccessTTL:       getEnvDurationOrDefault("AUTHCORE_ACCESS_TTL", time.Hour),
		RefreshTTL:      getEnvDurationOrDefault("AUTHCORE_REFRESH_TTL", 7*24*time.Hour),
		LockoutDuration: getEnvDurationOrDefault("AUTHCORE_LOCKOUT_DURATION", 15*time.Minute),
		MaxAttempts:     getEnvIntOrDefault("AUTHCORE_MAX_ATTEMPTS", 5),
		StoreTimeout:    getEnvDurationOrDefault("AUTHCORE_STORE_TIMEOUT", 250*time.Millisecond),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGrace:   getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg serverConfig, logger *slog.Logger) error {
	if cfg.JWTSecret == "" {
		return errors.New("AUTHCORE_JWT_SECRET is required")
	}

	directory, err := loadDirectory(cfg.UsersFile, logger)
	if err != nil {
		return fmt.Errorf("load user directory: %w", err)
	}
	logger.Info("user directory loaded", "file", cfg.UsersFile, "users", directory.Len())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	engineCfg := authcore.DefaultConfig()
	engineCfg.JWT.PrivateKey = []byte(cfg.JWTSecret)
	engineCfg.JWT.Issuer = cfg.Issuer
	engineCfg.JWT.AccessTTL = cfg.AccessTTL
	engineCfg.JWT.RefreshTTL = cfg.RefreshTTL
	engineCfg.RateLimit.MaxAttempts = cfg.MaxAttempts
	engineCfg.RateLimit.LockoutDuration = cfg.LockoutDuration
	engineCfg.KeyPrefix = cfg.KeyPrefix
	engineCfg.StoreTimeout = cfg.StoreTimeout
	engineCfg.MFA.Issuer = cfg.Issuer

	engine, err := authcore.New(engineCfg, redisClient, directory)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	engine.SetReuseHandler(func(ctx context.Context, userID, sessionID string) {
		logger.Warn("refresh reuse handled", "user_id", userID, "session_id", sessionID)
	})

	connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = engine.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	logger.Info("session store connected", "addr", cfg.RedisAddr)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           httpapi.NewHandler(engine).Router(logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}
