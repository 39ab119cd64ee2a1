// Command comet runs a stateless relay between Agent WebSocket links and
// Console (§2 Comet, §4.B-C). It holds no durable state of its own: link
// membership lives in-process, routing lives in Redis, and every dispatch
// or resolve-identity decision is made by Console.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/config"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/comet"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/infrastructure/redisindex"
	ctxlog "github.com/ErlanBelekov/dist-job-scheduler/internal/log"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
)

func main() {
	bindAddr := flag.String("bind", "", "override comet_bind_addr")
	redisURL := flag.String("r", "", "override redis_url")
	secret := flag.String("secret", "", "override comet_secret")
	consoleURL := flag.String("console-url", "", "override console base URL this Comet resolves identities against")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.LoadComet(*bindAddr, *redisURL, *secret)
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	consoleBaseURL := os.Getenv("CONSOLE_URL")
	if *consoleURL != "" {
		consoleBaseURL = *consoleURL
	}
	if consoleBaseURL == "" {
		log.Printf("config error: console URL required (--console-url or CONSOLE_URL)")
		os.Exit(1)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer redisClient.Close()

	metrics.Register()

	routes := redisindex.NewRoutingIndex(redisClient, cfg.RoutingTTL)
	resolver := comet.NewConsoleClient(consoleBaseURL, cfg.Secret)

	server := comet.NewServer(cfg.CometID, resolver, routes, resolver, logger)
	server.OnUpstream(func(instanceID string, f *wire.Frame) {
		if err := resolver.PushUpstream(context.Background(), cfg.CometID, instanceID, f); err != nil {
			logger.Error("push upstream failed", "instance_id", instanceID, "kind", f.Kind, "error", err)
		}
	})

	router := server.NewRouter(cfg.Secret)
	srv := http.Server{Addr: cfg.BindAddr, Handler: router}

	go func() {
		logger.Info("comet started", "addr", cfg.BindAddr, "comet_id", cfg.CometID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("comet server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("comet shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
