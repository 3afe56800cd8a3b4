package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qonaq.org/internal/httpapi"
	"qonaq.org/internal/kv"
	"qonaq.org/internal/obs"
	"qonaq.org/internal/session"
	"qonaq.org/internal/stream"
)

var version = "0.3.0"

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("QONAQ_COMMIT"))

	addr := envOr("QONAQ_ADDR", ":8080")
	redisAddr := envOr("QONAQ_REDIS_ADDR", "127.0.0.1:6379")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := kv.OpenRedis(ctx, redisAddr)
	cancel()
	if err != nil {
		log.Fatalf("open redis: %v", err)
	}

	var opts []session.Option
	if raw := os.Getenv("QONAQ_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse QONAQ_CACHE_TTL: %v", err)
		}
		opts = append(opts, session.WithCacheTTL(ttl))
	}
	sessions := session.New(store, opts...)

	gate := httpapi.AdminGate{
		User:     envOr("QONAQ_ADMIN_USER", "admin"),
		Password: envOr("QONAQ_ADMIN_PASSWORD", "123456"),
	}

	// HTTP API
	api := httpapi.New(httpapi.ReadyProbe{Store: store}, version, sessions, stream.New(), gate)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting qonaq-api %s on %s (redis %s)", version, srv.Addr, redisAddr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = store.Close()
	log.Println("Stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
