package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"zhurnal/attendance/internal/auth"
	"zhurnal/attendance/internal/config"
	"zhurnal/attendance/internal/db"
	"zhurnal/attendance/internal/events"
	internalhttp "zhurnal/attendance/internal/http"
	"zhurnal/attendance/internal/jobs"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	store := db.NewStore(pool)
	if err := db.Migrate(ctx, store); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	if err := seedAdminUser(ctx, store, cfg.AdminPassword); err != nil {
		log.Fatalf("admin seed failed: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
	}

	broadcaster := events.NewBroadcaster(redisClient, cfg.EventsChannel)
	broadcaster.Run(ctx)

	jobs.StartBlacklistGaugeJob(ctx, store, cfg.BlacklistRefreshTick)

	server := internalhttp.NewServer(cfg, store, broadcaster, redisClient)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("attendance http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// seedAdminUser creates the default admin account on an empty users table so
// a fresh deployment has a working login.
func seedAdminUser(ctx context.Context, store *db.Store, password string) error {
	count, err := store.Queries.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	log.Printf("seeding default admin user")
	return store.Queries.CreateUser(ctx, db.User{
		ID:           uuid.New(),
		Username:     "admin",
		PasswordHash: hash,
		Role:         "admin",
		DisplayName:  "Administrator",
		CreatedAt:    time.Now().UTC(),
	})
}
