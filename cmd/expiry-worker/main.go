package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/petcare/vaccine-booking/internal/booking"
	"github.com/petcare/vaccine-booking/internal/config"
	"github.com/petcare/vaccine-booking/internal/db"
	"github.com/petcare/vaccine-booking/internal/notify"
	"github.com/petcare/vaccine-booking/internal/payment"
	redisclient "github.com/petcare/vaccine-booking/internal/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running expiry worker in env=%s interval=%s", cfg.Env, cfg.WorkerInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	}

	repo := booking.NewPgRepository(pgPool)
	catalog := booking.NewPgCatalog(pgPool)
	engine := booking.NewSearchEngine(repo, catalog, cfg.DefaultRadiusKm, cfg.MaxRadiusKm, nil)
	locker := redisclient.NewRedisPetLocker(rdb, cfg.LockTTL)
	gateway := payment.NewHTTPGateway(cfg.PaymentBaseURL, cfg.PaymentAPIKey)
	payments := payment.NewCoordinator(gateway, cfg.PaymentTimeout)
	svc := booking.NewService(repo, engine, locker, payments, notifier, nil, cfg)

	// Run once at startup
	runOnce(rootCtx, svc)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := svc.ExpireUnpaid(runCtx)
	if err != nil {
		log.Printf("expiry run error: %v", err)
		return
	}
	log.Printf("expiry run complete: expired=%d in %s", expired, time.Since(start))
}
