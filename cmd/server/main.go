package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/config"
	"github.com/iliyamo/hotel-reservation/internal/database"
	"github.com/iliyamo/hotel-reservation/internal/handler"
	"github.com/iliyamo/hotel-reservation/internal/middleware"
	"github.com/iliyamo/hotel-reservation/internal/queue"
	"github.com/iliyamo/hotel-reservation/internal/repository"
	"github.com/iliyamo/hotel-reservation/internal/router"
	"github.com/iliyamo/hotel-reservation/internal/service"
	"github.com/iliyamo/hotel-reservation/internal/websocket"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("load .env")
	}
	cfg := config.Load()
	logger := config.ConfigureLogging(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, ready, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := repository.Seed(ctx, store, cfg.RoomTypes, cfg.TicketTypes); err != nil {
		return err
	}

	// Redis is optional; without it caching and rate limiting pass through.
	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, cache and rate limiting disabled")
	} else {
		defer rdb.Close()
		ready["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.RabbitURL != "" {
		pub := queue.NewPublisher(cfg.RabbitURL)
		defer pub.Close()
		dispatcher := queue.NewDispatcher(pub, 1024)
		flushed := make(chan struct{})
		go func() {
			dispatcher.Run(ctx)
			close(flushed)
		}()
		// let the dispatcher flush before the publisher closes
		defer func() {
			cancel()
			<-flushed
		}()
		notifier = dispatcher

		outbox, closeOutbox, err := openOutbox(cfg)
		if err != nil {
			return err
		}
		defer closeOutbox()
		go func() {
			if err := queue.StartConsumer(ctx, cfg.RabbitURL, outbox); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("notification consumer stopped")
			}
		}()
	} else {
		log.Warn().Msg("RABBITMQ_URL not set, notifications disabled")
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)

	rc := cfg.Reservation
	retry := service.RetryPolicy{Attempts: rc.RetryAttempts, Base: rc.RetryBase, Max: time.Second}
	issuer := service.NewIssuer(store, service.NewCodeGenerator(cfg.TicketCodeSecret), rc.CodeMaxAttempts)
	reservations := service.NewReservationService(store, rc, notifier)
	payments := service.NewPaymentService(store, issuer, retry, notifier)
	validation := service.NewValidationService(store, rc.ValidationGrace, retry, hub)
	bookings := service.NewBookingAdmin(store, retry)

	go sweepHolds(ctx, payments, rc.HoldSweepInterval)

	e := newEcho(logger)
	guards := router.Guards{
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		Cache:     middleware.NewRedisCache(config.LoadCacheConfig(), rdb),
	}
	th := handler.NewTicketHandler(validation, payments)
	router.RegisterRoutes(e, handler.Ready(ready))
	router.RegisterPublic(e, handler.NewReservationHandler(reservations, service.NewAvailabilityChecker(store)), th, guards)
	router.RegisterPayments(e, handler.NewPaymentHandler(payments), cfg.WebhookSecret)
	router.RegisterGate(e, th, cfg.JWTSecret, cfg.GateRequireAuth, guards)
	router.RegisterAdmin(e, handler.NewAdminHandler(bookings, reservations, hub), th, cfg.JWTSecret)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Str("store", cfg.StoreDriver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore selects the store by STORE_DRIVER.  The returned map collects
// readiness checks for /readyz.
func openStore(ctx context.Context, cfg config.Config) (repository.Store, map[string]handler.Pinger, func(), error) {
	ready := map[string]handler.Pinger{}
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), ready, func() {}, nil
	}
	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	ready["mysql"] = db
	store := repository.NewMySQLStore(db)
	return store, ready, func() { _ = store.Close() }, nil
}

// openOutbox writes delivered notifications to logs/notifications.log.
func openOutbox(cfg config.Config) (*queue.OutboxLogger, func(), error) {
	path := filepath.Join("logs", "notifications.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger := zerolog.New(f).With().Timestamp().Logger()
	return queue.NewOutboxLogger(logger, cfg.PublicBaseURL+"/t/"), func() { _ = f.Close() }, nil
}

func newEcho(logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	return e
}

// sweepHolds releases ticket holds whose payment never arrived.
func sweepHolds(ctx context.Context, payments *service.PaymentService, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := payments.ExpireStaleHolds(ctx)
			if err != nil {
				log.Error().Err(err).Msg("hold sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("released", n).Msg("expired ticket holds released")
			}
		}
	}
}
