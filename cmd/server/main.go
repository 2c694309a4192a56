package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/schoolvote/server/internal/cache"
	"github.com/schoolvote/server/internal/config"
	httpserver "github.com/schoolvote/server/internal/http"
	"github.com/schoolvote/server/internal/jobs"
	"github.com/schoolvote/server/internal/repository"
	"github.com/schoolvote/server/internal/service"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("schema setup: %v", err)
	}
	store := repository.NewStore(pool)

	// Redis is optional: without it receipt lookups fall through to the
	// vote token table.
	var receipts *repository.Receipts
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable, receipt cache disabled: %v", err)
		} else {
			receipts = repository.NewReceipts(client, cfg.ReceiptTTL)
			defer client.Close()
		}
	}

	c := cache.New()
	c.RegisterDefault(service.CacheKeyElectionStatus, func() any {
		return service.DefaultStatusPayload(time.Now())
	})
	c.RegisterDefault(service.CacheKeySettings, func() any {
		return service.DefaultSettings(time.Now())
	})
	c.Start(cfg.CacheSweep)
	defer c.Stop()

	jobs.StartScheduleJob(ctx, cfg, service.NewElections(store, c))

	var receiptCache service.ReceiptCache
	if receipts != nil {
		receiptCache = receipts
	}
	srv := httpserver.NewServer(cfg, store, c, receiptCache)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
