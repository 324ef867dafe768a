package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	sublink "github.com/sublink-app/sublink"
	connectapi "github.com/sublink-app/sublink/api/echo"
	redisstore "github.com/sublink-app/sublink/cache/redis"
	"github.com/sublink-app/sublink/config"
	"github.com/sublink-app/sublink/internal/crypto"
	"github.com/sublink-app/sublink/mongodb"
	"github.com/sublink-app/sublink/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	logger := log.Logger

	logger.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db_name", cfg.MongoDBName).
		Str("redis_addr", cfg.RedisAddr).
		Str("log_level", logLevel.String()).
		Msg("Starting sublink server")

	var tracerProvider *sdktrace.TracerProvider
	tracerProvider, err = tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize TracerProvider")
	}

	ctx := context.Background()
	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize MongoDB connection")
	}
	db := mongodb.GetDB()

	connRepo, err := mongodb.NewConnectionRepository(ctx, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize ConnectionRepository")
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to redis")
	}

	cipherKey, err := cfg.CipherKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid token cipher key")
	}
	tokenCipher, err := crypto.NewTokenCipher(cipherKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize token cipher")
	}

	providers := sublink.NewProviderRegistry(cfg.ProviderConfigs())
	lockStore := redisstore.NewLockStore(redisClient, cfg.RedisPrefix)
	stateStore := redisstore.NewStateStore(redisClient, cfg.RedisPrefix)

	exchangeService := sublink.NewExchangeService(connRepo, stateStore, tokenCipher, providers, logger)
	refreshService := sublink.NewTokenRefreshService(connRepo, lockStore, tokenCipher, providers, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	api := connectapi.NewConnectAPI(exchangeService, refreshService, connRepo)
	api.RegisterRoutes(e)

	go func() {
		logger.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit

	logger.Info().Str("signal", receivedSignal.String()).Msg("Shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("TracerProvider shutdown error")
		}
	}

	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("Redis client close error")
	}

	mongodb.CloseMongoDB(shutdownCtx)

	logger.Info().Msg("Server gracefully stopped.")
}
