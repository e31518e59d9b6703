package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-raid-alerts/internal/api"
	"github.com/mr1hm/go-raid-alerts/internal/bot"
	"github.com/mr1hm/go-raid-alerts/internal/config"
	"github.com/mr1hm/go-raid-alerts/internal/dispatch"
	internalgrpc "github.com/mr1hm/go-raid-alerts/internal/grpc"
	"github.com/mr1hm/go-raid-alerts/internal/ingestion"
	"github.com/mr1hm/go-raid-alerts/internal/locations"
	"github.com/mr1hm/go-raid-alerts/internal/logging"
	"github.com/mr1hm/go-raid-alerts/internal/message"
	"github.com/mr1hm/go-raid-alerts/internal/notify"
	"github.com/mr1hm/go-raid-alerts/internal/repository"
	"github.com/mr1hm/go-raid-alerts/internal/resolver"
	"github.com/mr1hm/go-raid-alerts/internal/subscribers"
	"github.com/mr1hm/go-raid-alerts/internal/weather"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	dsn := cfg.DB.Path
	if cfg.DB.Driver == repository.DriverPostgres {
		dsn = cfg.DB.DSN
	}
	db, err := repository.Open(cfg.DB.Driver, dsn)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	dir, err := locations.Load()
	if err != nil {
		logging.Fatalf("Failed to load locations: %v", err)
	}
	res := resolver.New(dir)

	renderer, err := message.NewRenderer("", "")
	if err != nil {
		logging.Fatalf("Failed to parse message templates: %v", err)
	}

	source := ingestion.NewCachedSource(
		ingestion.NewAlertsInUA(cfg.Alerts.URL, cfg.Alerts.Token, cfg.Alerts.Timeout),
		ingestion.SourceOptions{
			TTL:        cfg.Alerts.CacheTTL,
			MaxRetries: cfg.Alerts.MaxRetries,
			BaseDelay:  cfg.Alerts.RetryBaseDelay,
		},
	)
	store := subscribers.NewStore(db, dir, cfg.Subscribers.CacheTTL, nil)

	var (
		sink     notify.Sink
		telegram *notify.Telegram
	)
	if cfg.Telegram.Token != "" {
		telegram = notify.NewTelegram(cfg.Telegram.APIURL, cfg.Telegram.Token, cfg.Telegram.Timeout)
		sink = telegram
	} else {
		slog.Warn("TELEGRAM_BOT_TOKEN not set, notifications are only logged")
		sink = notify.NewLogSink(slog.Default())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fan-out for server-sent events
	broadcaster := internalgrpc.NewBroadcaster(internalgrpc.DefaultListenerBuffer)

	dispatcher := dispatch.New(dispatch.Config{
		Source:     source,
		Store:      store,
		Resolver:   res,
		Dir:        dir,
		Sink:       sink,
		History:    db,
		Weather:    weather.NewClient(cfg.Weather.URL, cfg.Weather.APIKey, cfg.Weather.Timeout),
		Events:     broadcaster,
		Renderer:   renderer,
		Media:      dispatch.Media{Alert: cfg.Media.AlertURLs, Clear: cfg.Media.ClearURLs},
		Workers:    cfg.Worker.Count,
		BufferSize: cfg.Worker.BufferSize,
	})
	dispatcher.Start()

	var broadcastFn ingestion.CycleFunc
	if cfg.Broadcast.Enabled && len(cfg.Broadcast.ChatIDs) > 0 {
		watch, err := dispatcher.NewBroadcastWatch(cfg.Broadcast.Location, cfg.Broadcast.ChatIDs)
		if err != nil {
			logging.Fatalf("Invalid broadcast watch: %v", err)
		}
		broadcastFn = watch.Check
	}

	grpcServer := internalgrpc.NewServer()
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	mgr := ingestion.NewManager(dispatcher.RunCycle, broadcastFn, grpcServer, ingestion.ManagerOptions{
		DispatchInterval:  cfg.Alerts.PollInterval,
		BroadcastInterval: cfg.Broadcast.Interval,
		CycleTimeout:      cfg.CycleTimeout,
		Grace:             cfg.ShutdownGrace,
		HealthNames: map[string]string{
			ingestion.TaskDispatch:  internalgrpc.ServiceDispatch,
			ingestion.TaskBroadcast: internalgrpc.ServiceBroadcast,
		},
	})
	var cycles api.CycleRunner
	if cfg.Alerts.PollingEnabled {
		mgr.Start(ctx)
		cycles = mgr
	} else {
		slog.Warn("polling disabled, running in API-only mode")
	}

	botDone := make(chan struct{})
	if cfg.Telegram.PollingEnabled && telegram != nil {
		b := bot.New(bot.Options{
			Updates:  telegram,
			Sink:     sink,
			Store:    store,
			Dir:      dir,
			Source:   source,
			Resolver: res,
		})
		go func() {
			defer close(botDone)
			b.Run(ctx)
		}()
	} else {
		close(botDone)
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(api.Options{
		Source:      source,
		Dir:         dir,
		Resolver:    res,
		History:     db,
		Broadcaster: broadcaster,
		Cycles:      cycles,
		DB:          db,
	})
	router := api.NewRouter(handler, cfg.RateLimitRPS)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	if mgr.Stop() {
		dispatcher.Stop()
	}
	<-botDone
	broadcaster.Close() // ends open event streams
	grpcServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
