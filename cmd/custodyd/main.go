// Command custodyd runs the custody policy engine as an HTTP service.
//
// Configuration is environment-driven:
//
//	CUSTODY_ADDRESS         listen address (default ":8080")
//	CUSTODY_ENV             "production" or "development" (default "production")
//	CUSTODY_LOG_LEVEL       zap level override (optional)
//	CUSTODY_STORE           "memory" or "redis" (default "memory")
//	CUSTODY_REDIS_ADDRESS   host:port when CUSTODY_STORE=redis
//	CUSTODY_REDIS_PASSWORD  optional redis password
//	CUSTODY_JWT_SECRET      HMAC secret for guardian tokens; empty disables
//	                        engine-side auth (host-authenticated deployments)
//	CUSTODY_AMQP_URL        optional broker URL for domain events
//	CUSTODY_AMQP_EXCHANGE   events exchange (default "custody.events")
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/openvault/custody-engine/custody"
	"github.com/openvault/custody-engine/custody/auth"
	"github.com/openvault/custody-engine/custody/engine"
	"github.com/openvault/custody-engine/custody/events"
	"github.com/openvault/custody-engine/custody/log"
	custodyhttp "github.com/openvault/custody-engine/custody/net/http"
	"github.com/openvault/custody-engine/custody/store"
	"github.com/openvault/custody-engine/custody/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger, err := zap.New(zap.Config{
		Environment: custody.GetenvOrDefault("CUSTODY_ENV", zap.EnvironmentProduction),
		Level:       os.Getenv("CUSTODY_LOG_LEVEL"),
	})
	if err != nil {
		panic(err)
	}

	if err := run(logger); err != nil {
		logger.Log(context.Background(), log.LevelError, "custodyd exited with error", log.Err(err))
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engineStore, closeStore, err := buildStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	authenticator, err := buildAuthenticator()
	if err != nil {
		return err
	}

	publisher, closeBroker, err := buildPublisher(logger)
	if err != nil {
		return err
	}
	defer closeBroker()
	defer func() { _ = publisher.Close() }()

	svc, err := engine.New(engine.Config{
		Store:  engineStore,
		Auth:   authenticator,
		Logger: logger,
		Events: publisher,
	})
	if err != nil {
		return err
	}

	app := custodyhttp.NewRouter(custodyhttp.NewHandler(svc, logger), logger)

	address := custody.GetenvOrDefault("CUSTODY_ADDRESS", ":8080")

	serveErr := make(chan error, 1)

	go func() {
		logger.Log(ctx, log.LevelInfo, "custodyd listening", log.String("address", address))
		serveErr <- app.Listen(address)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Log(context.Background(), log.LevelInfo, "shutting down")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return err
	}

	return nil
}

func buildStore(ctx context.Context) (store.Store, func(), error) {
	switch kind := custody.GetenvOrDefault("CUSTODY_STORE", "memory"); kind {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "redis":
		redisStore, err := store.NewRedis(ctx, store.RedisConfig{
			Address:  os.Getenv("CUSTODY_REDIS_ADDRESS"),
			Password: os.Getenv("CUSTODY_REDIS_PASSWORD"),
		})
		if err != nil {
			return nil, nil, err
		}

		return redisStore, func() { _ = redisStore.Close() }, nil
	default:
		return nil, nil, errors.New("CUSTODY_STORE must be memory or redis")
	}
}

func buildAuthenticator() (auth.Authenticator, error) {
	secret := os.Getenv("CUSTODY_JWT_SECRET")
	if secret == "" {
		return auth.AllowAll{}, nil
	}

	return auth.NewJWTAuthenticator([]byte(secret))
}

func buildPublisher(logger log.Logger) (events.Publisher, func(), error) {
	url := os.Getenv("CUSTODY_AMQP_URL")
	if url == "" {
		return events.Nop{}, func() {}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, nil, err
	}

	exchange := custody.GetenvOrDefault("CUSTODY_AMQP_EXCHANGE", "custody.events")

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()

		return nil, nil, err
	}

	publisher, err := events.NewAMQPPublisher(channel, exchange, events.WithLogger(logger))
	if err != nil {
		_ = conn.Close()

		return nil, nil, err
	}

	return publisher, func() { _ = conn.Close() }, nil
}
