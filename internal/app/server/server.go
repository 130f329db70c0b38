package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-sdk/internal/api"
	"campaign-sdk/internal/config"
	"campaign-sdk/internal/engine"
	"campaign-sdk/internal/listener"
	"campaign-sdk/internal/sdk"
	"campaign-sdk/internal/segment"
	"campaign-sdk/internal/session"
	"campaign-sdk/internal/storage"
)

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()
	if err := store.EnsureSchema(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	stateCache, closeCache := newStateCache(rootCtx, cfg)
	defer closeCache()

	// SDK
	client := sdk.New(
		cfg.Server.ProjectID,
		storage.NewCachedStore(store, stateCache),
		engine.NewEngine(segment.NewEvaluator()),
		session.NewCoordinator(),
	)

	// calls arriving before init completes are queued, so serve right away
	go func() {
		if err := initWithRetry(rootCtx, client.Init, cfg.Backoff()); err != nil {
			log.Error().Err(err).Msg("sdk init abandoned")
			return
		}
		if err := client.StartRefresher(rootCtx, cfg.Refresh.Schedule); err != nil {
			log.Error().Err(err).Str("schedule", cfg.Refresh.Schedule).Msg("start refresher")
		}
	}()

	// Listener (LISTEN/NOTIFY)
	channel := cfg.Listener.Channel
	if channel == "" {
		channel = store.ListenChannel()
	}
	go listener.ListenAndRefresh(rootCtx, store.PgxPool(), client, channel, cfg.Backoff())

	// HTTP
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newHandler(rootCtx, cfg, client),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.RequestTimeout() + time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

const (
	limiterCleanupInterval = time.Minute
	limiterMaxIdle         = 10 * time.Minute
)

func newHandler(ctx context.Context, cfg config.Config, client *sdk.Client) http.Handler {
	rl := api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	rl.StartCleanup(ctx, limiterCleanupInterval, limiterMaxIdle)
	return api.Router(api.NewHandler(client), rl, cfg.RequestTimeout())
}

// newStateCache prefers Redis and falls back to an in-process cache when Redis
// is not configured or unreachable.
func newStateCache(ctx context.Context, cfg config.Config) (storage.StateCache, func()) {
	if cfg.Redis.Addr == "" {
		log.Info().Msg("redis not configured; using in-memory user state cache")
		return storage.NewMemoryCache(cfg.Redis.LocalMaxEntries, cfg.StateTTL()), func() {}
	}
	rc, err := storage.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.StateTTL())
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable; using in-memory user state cache")
		return storage.NewMemoryCache(cfg.Redis.LocalMaxEntries, cfg.StateTTL()), func() {}
	}
	return rc, func() { _ = rc.Close() }
}

// initWithRetry calls init until it succeeds, the SDK reports it is already
// initialized, or ctx is cancelled.
func initWithRetry(ctx context.Context, init func(context.Context) error, backoff time.Duration) error {
	for attempt := 1; ; attempt++ {
		err := init(ctx)
		if err == nil || errors.Is(err, session.ErrAlreadyInitialized) {
			return nil
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", backoff).Msg("sdk init failed")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
