// Command authd runs the authentication service: Postgres-backed
// session engine, Redis notification queue, HTTP API, and Prometheus
// metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/coverdesk/authcore/internal/auth"
	"github.com/coverdesk/authcore/internal/config"
	"github.com/coverdesk/authcore/internal/httpapi"
	"github.com/coverdesk/authcore/internal/obs"
	"github.com/coverdesk/authcore/internal/password"
	"github.com/coverdesk/authcore/internal/queue"
	"github.com/coverdesk/authcore/internal/store/postgres"
	"github.com/coverdesk/authcore/internal/token"
)

func main() {
	// Local development convenience; missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := obs.NewLogger(cfg.LogLevel)
	obs.Init()

	st, err := postgres.Open(cfg.Database.URL)
	if err != nil {
		log.Error("postgres open failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := st.Ping(pingCtx); err != nil {
		cancel()
		log.Error("postgres ping failed", "error", err)
		os.Exit(1)
	}
	cancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	defer redisClient.Close()

	hasher, err := password.NewHasher()
	if err != nil {
		log.Error("hasher init failed", "error", err)
		os.Exit(1)
	}

	tokens, err := token.NewManager([]byte(cfg.Auth.AccessTokenKey), cfg.Auth.AccessTokenTTL, nil)
	if err != nil {
		log.Error("token manager init failed", "error", err)
		os.Exit(1)
	}

	engineCfg := auth.DefaultConfig()
	engineCfg.Registration.DecoyPepper = cfg.Auth.DecoyPepper

	engine, err := auth.New(engineCfg, auth.Deps{
		Store:  st,
		Queue:  queue.NewRedis(redisClient, cfg.Redis.QueueKey),
		Hasher: hasher,
		Tokens: tokens,
		Logger: log,
	})
	if err != nil {
		log.Error("engine init failed", "error", err)
		os.Exit(1)
	}

	server := httpapi.NewServer(engine, log, httpapi.CookieConfig{
		Domain: cfg.Auth.CookieDomain,
		Secure: cfg.Auth.CookieSecure,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}
