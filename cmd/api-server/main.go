package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petcare/vaccine-booking/internal/api"
	"github.com/petcare/vaccine-booking/internal/booking"
	"github.com/petcare/vaccine-booking/internal/config"
	"github.com/petcare/vaccine-booking/internal/db"
	"github.com/petcare/vaccine-booking/internal/metrics"
	"github.com/petcare/vaccine-booking/internal/notify"
	"github.com/petcare/vaccine-booking/internal/payment"
	redisclient "github.com/petcare/vaccine-booking/internal/redis"
)

const version = "1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(cfg.PostgresDSN); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	var notifier notify.Notifier = notify.Nop{}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			log.Fatalf("rabbitmq connection error: %v", err)
		}
		defer func() {
			if err := amqpNotifier.Close(); err != nil {
				log.Printf("error closing rabbitmq: %v", err)
			}
		}()
		notifier = amqpNotifier
		log.Println("connected to RabbitMQ")
	} else {
		log.Println("AMQP_URL not set, notifications disabled")
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	repo := booking.NewPgRepository(pgPool)
	catalog := booking.NewPgCatalog(pgPool)
	engine := booking.NewSearchEngine(repo, catalog, cfg.DefaultRadiusKm, cfg.MaxRadiusKm, collector)
	locker := redisclient.NewRedisPetLocker(rdb, cfg.LockTTL)
	gateway := payment.NewHTTPGateway(cfg.PaymentBaseURL, cfg.PaymentAPIKey)
	payments := payment.NewCoordinator(gateway, cfg.PaymentTimeout)
	svc := booking.NewService(repo, engine, locker, payments, notifier, collector, cfg)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Engine:   engine,
		PgPool:   pgPool,
		Redis:    rdb,
		Registry: registry,
		Limiter:  api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	log.Println("api-server stopped")
}
