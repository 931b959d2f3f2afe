package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"courierops/api/internal/cache"
	"courierops/api/internal/config"
	"courierops/api/internal/db"
	"courierops/api/internal/httpapi"
)

func main() {
	infoLog := log.New(os.Stdout, "INFO\t", log.Ldate|log.Ltime)
	errorLog := log.New(os.Stderr, "ERROR\t", log.Ldate|log.Ltime|log.Lshortfile)

	if err := godotenv.Load(); err != nil {
		infoLog.Printf("no .env loaded: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		errorLog.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		errorLog.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		errorLog.Fatalf("db migrate: %v", err)
	}
	if err := db.Seed(ctx, pool, cfg.SeedDemo); err != nil {
		errorLog.Fatalf("db seed: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			errorLog.Printf("redis %s unavailable, policy cache disabled: %v", cfg.RedisAddr, err)
			_ = rdb.Close()
			rdb = nil
		} else {
			infoLog.Printf("policy cache on redis %s (ttl %s)", cfg.RedisAddr, cfg.PolicyCacheTTL)
			defer rdb.Close()
		}
		pingCancel()
	}

	router := httpapi.NewRouter(httpapi.Deps{
		DB:       pool,
		Config:   cfg,
		Cache:    cache.NewPolicyCache(rdb, cfg.PolicyCacheTTL),
		InfoLog:  infoLog,
		ErrorLog: errorLog,
	})
	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}).Handler(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ErrorLog:          errorLog,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		infoLog.Printf("CourierOps API listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errorLog.Fatalf("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errorLog.Printf("shutdown: %v", err)
	}
}
