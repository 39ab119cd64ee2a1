// Command console runs the jiascheduler control plane: operator HTTP
// surface, the scheduler engine, the workflow evaluator, and the
// reconciliation sweep (§2 Console, §4.D-F).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/config"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatcher"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/health"
	httptransport "github.com/ErlanBelekov/dist-job-scheduler/internal/http"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/http/handler"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/history"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/infrastructure/mysql"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/infrastructure/redisindex"
	ctxlog "github.com/ErlanBelekov/dist-job-scheduler/internal/log"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/notify"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/usecase"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/workflow"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	bindAddr := flag.String("bind-addr", "", "override bind_addr from console.toml")
	configPath := flag.String("config", "", "path to console.toml (default ~/.jiascheduler/console.toml)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConsole(*configPath, *bindAddr)
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := mysql.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		logger.Error("db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("db connected")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer redisClient.Close()

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	instances := mysql.NewInstanceRepository(pool)
	jobs := mysql.NewJobRepository(pool)
	running := mysql.NewRunningStatusRepository(pool)
	hist := mysql.NewHistoryRepository(pool)
	timers := mysql.NewTimerRepository(pool)
	workflows := mysql.NewWorkflowRepository(pool)
	users := mysql.NewUserRepository(pool)

	if cfg.AdminUsername != "" {
		if _, err := users.FindOrCreate(ctx, cfg.AdminUsername); err != nil {
			logger.Error("bootstrap admin failed", "error", err)
		} else {
			logger.Info("admin bootstrapped", "username", cfg.AdminUsername)
		}
	}

	routes := redisindex.NewRoutingIndex(redisClient, cfg.RoutingTTL)
	lease := redisindex.NewLease(redisClient, cfg.LeaseTTL)

	forwarder := dispatcher.NewCometForwarder(cfg.Comets, cfg.CometSecret)
	dispatch := dispatcher.New(instances, jobs, running, hist, routes, forwarder, logger)

	engine := scheduler.NewEngine(timers, jobs, running, dispatch, lease, logger)

	sender := notify.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	notifier := notify.NewNotifier(sender, cfg.OpsNotifyTo)
	engine.SetNotifier(notifier)
	go engine.Start(ctx)

	evaluator := workflow.NewEvaluator(workflows, jobs, dispatch, logger)
	upstreamProcessor := workflow.NewUpstreamProcessor(instances, running, hist, dispatch, evaluator, logger)

	reconciler := history.NewReconciler(running, routes, logger)
	go reconciler.Start(ctx, 30*time.Second)

	authUsecase := usecase.NewAuthUsecase(users, sender, []byte(cfg.JWTSecret), cfg.MagicLinkBase)

	issuer := usecase.NewIdentityIssuer([]byte(cfg.JWTSecret))
	resolver := usecase.NewIdentityResolver([]byte(cfg.JWTSecret), instances)

	healthHandler := handler.NewHealthHandler(checker)
	controlHandler := handler.NewControlHandler(jobs, instances, dispatch, engine, routes, forwarder, logger)
	identityHandler := handler.NewIdentityHandler(resolver, logger)
	provisionHandler := handler.NewProvisionHandler(issuer, instances, logger)
	upstreamHandler := handler.NewUpstreamHandler(upstreamProcessor, logger)
	authHandler := handler.NewAuthHandler(authUsecase, logger)
	workflowHandler := handler.NewWorkflowHandler(evaluator, logger)

	router := httptransport.NewRouter(
		logger,
		healthHandler,
		controlHandler,
		identityHandler,
		provisionHandler,
		upstreamHandler,
		authHandler,
		workflowHandler,
		cfg.JWKSURL,
		[]byte(cfg.JWTSecret),
		cfg.CometSecret,
		cfg.AdminUsername,
		cfg.AdminPassword,
	)

	srv := http.Server{Addr: cfg.BindAddr, Handler: router}
	metricsSrv := metrics.NewServer(cfg.MetricsAddr)

	go func() {
		logger.Info("console started", "addr", cfg.BindAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("console server", "error", err)
			stop()
		}
	}()
	go func() {
		logger.Info("metrics server started", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	fmt.Fprintln(os.Stderr, "console: clean shutdown")
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
