// Command query-proxy is a read-through HTTP cache in front of an upstream
// API. Resources are served with stale-while-revalidate semantics and
// invalidations are shared between replicas over Redis when REDIS_URL is set.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/query-cache/pkg/cache"
	"github.com/Sternrassler/query-cache/pkg/client"
	"github.com/Sternrassler/query-cache/pkg/config"
	"github.com/Sternrassler/query-cache/pkg/logging"
	"github.com/Sternrassler/query-cache/pkg/query"
	"github.com/Sternrassler/query-cache/pkg/tracing"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("query-proxy failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateProxy(); err != nil {
		return err
	}

	logging.Setup(cfg.Logging())
	logger := logging.NewLogger("query-proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	clientCfg := cfg.Client()

	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")

		busLogger := logging.NewLogger("bus")
		clientCfg.Bus = cache.NewRedisBus(redisClient, cfg.Channel(), busLogger)
	}

	queries := query.NewClient(clientCfg)
	queries.Start(ctx)
	defer queries.Stop()
	query.SetDefault(queries)

	upstreamCfg := client.DefaultConfig(cfg.UpstreamURL)
	upstreamCfg.Timeout = cfg.UpstreamTimeout
	upstream, err := client.New(upstreamCfg)
	if err != nil {
		return err
	}

	srv := newServer(queries, upstream, cfg.QueryOptions, logger)
	defer srv.close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("upstream", cfg.UpstreamURL).
			Msg("Starting query proxy")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down query proxy")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// newRedisClient accepts either a redis:// URL or a plain host:port.
func newRedisClient(redisURL string) (*redis.Client, error) {
	if strings.Contains(redisURL, "://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}
