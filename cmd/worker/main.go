package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/brightpost/newsletter/internal/config"
	"github.com/brightpost/newsletter/internal/dispatch"
	"github.com/brightpost/newsletter/internal/mailer"
	"github.com/brightpost/newsletter/internal/pkg/distlock"
	"github.com/brightpost/newsletter/internal/render"
	"github.com/brightpost/newsletter/internal/repository/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	log.Println("Connected to database")

	mail, err := mailer.New(cfg.Mailer)
	if err != nil {
		log.Fatalf("init mailer: %v", err)
	}

	d := dispatch.New(postgres.New(db), mail, render.NewRenderer(), dispatch.Config{
		BatchSize:          cfg.Queue.BatchSize,
		MaxAttempts:        cfg.Queue.MaxAttempts,
		BackoffStep:        cfg.Queue.BackoffStep(),
		StuckTimeout:       cfg.Queue.StuckTimeout(),
		UnsubscribeBaseURL: cfg.Tracking.UnsubscribeBaseURL,
	})

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	if rdb != nil && cfg.Queue.HourlyLimit > 0 {
		d.SetRateLimiter(dispatch.NewRateLimiter(rdb, cfg.Queue.HourlyLimit))
		log.Printf("Hourly send limit enabled: %d", cfg.Queue.HourlyLimit)
	}

	// Falls back to a Postgres advisory lock when Redis is disabled, so
	// multiple worker replicas never run overlapping ticks.
	d.SetTickLock(distlock.NewLock(rdb, db, "dispatch:tick", cfg.Queue.StuckTimeout()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Run(ctx, cfg.Queue.TickInterval())
	log.Printf("Worker started, ticking every %s", cfg.Queue.TickInterval())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down worker...")
	cancel()
}
