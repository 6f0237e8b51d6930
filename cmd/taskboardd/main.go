package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskboard/internal/api"
	"taskboard/internal/auth"
	"taskboard/internal/config"
	"taskboard/internal/core"
	"taskboard/internal/logging"
	boardmcp "taskboard/internal/mcp"
	"taskboard/internal/monitor"
	"taskboard/internal/notify"
	"taskboard/internal/store"
	"taskboard/internal/watch"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// The stdio MCP transport owns stdout.
	var logOut io.Writer = os.Stdout
	if cfg.Mode != "http" {
		logOut = os.Stderr
	}
	logger := logging.NewWithWriter(cfg.Log.Level, logOut)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir, cfg.Passes.Retention)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.Close()

	location := cfg.Location()

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	notifier, err := buildNotifier(cfg)
	if err != nil {
		logger.Error("configure notifier", "err", err)
		os.Exit(1)
	}
	deduper, closeDeduper, err := buildDeduper(ctx, cfg, logger)
	if err != nil {
		logger.Error("configure notification dedupe", "err", err)
		os.Exit(1)
	}
	defer closeDeduper()

	verifier, err := buildVerifier(ctx, cfg)
	if err != nil {
		logger.Error("configure auth", "err", err)
		os.Exit(1)
	}

	mon := monitor.New(nil)
	executor := watch.NewPassExecutor(storeInst, mon, notifier, deduper, logger, location)
	scheduler := watch.NewScheduler(storeInst, executor, logger, location)

	scheduler.Start(ctx)
	if err := scheduler.Sync(ctx); err != nil {
		logger.Error("initial sync", "err", err)
	}

	mcpServer := boardmcp.NewMCPServer(storeInst, scheduler, mon, logger, location)
	d := &daemon{
		cfg:       cfg,
		logger:    logger,
		scheduler: scheduler,
		mcp:       mcpServer,
		apiOpts: api.Options{
			Addr:         cfg.Server.Addr,
			AuthToken:    cfg.Server.AuthToken,
			Verifier:     verifier,
			Store:        storeInst,
			Scheduler:    scheduler,
			Monitor:      mon,
			MCPHandler:   mcpServer.Handler(),
			Logger:       logger,
			Location:     location,
			DefaultScope: core.WatchScope(cfg.DefaultScope),
		},
	}

	switch cfg.Mode {
	case "http":
		d.runHTTP(nil)
	case "mcp":
		d.runMCP(cancel)
	case "both":
		mcpErr := make(chan error, 1)
		go func() {
			if err := mcpServer.Run(); err != nil {
				mcpErr <- err
			}
		}()
		d.runHTTP(mcpErr)
	}
}

type daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	scheduler *watch.Scheduler
	mcp       *boardmcp.MCPServer
	apiOpts   api.Options
}

// runHTTP serves the API until a signal, a server error or an MCP error
// arrives, then shuts down gracefully.
func (d *daemon) runHTTP(mcpErr <-chan error) {
	server := api.NewServer(d.apiOpts)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		d.logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		d.logger.Error("server error", "err", err)
	case err := <-mcpErr:
		d.logger.Error("mcp server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), d.cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("server shutdown", "err", err)
	}
	d.stopScheduler()
	d.logger.Info("shutdown complete")
}

// runMCP serves MCP on stdio until the client disconnects or a signal arrives.
func (d *daemon) runMCP(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		d.logger.Info("received signal, shutting down")
		cancel()
		d.stopScheduler()
		os.Exit(0)
	}()

	if err := d.mcp.Run(); err != nil {
		d.logger.Error("mcp server error", "err", err)
		d.stopScheduler()
		os.Exit(1)
	}
	d.stopScheduler()
}

func (d *daemon) stopScheduler() {
	done := make(chan struct{})
	go func() {
		d.scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.ShutdownGrace):
		d.logger.Warn("scheduler stop timed out")
	}
}

func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	var notifiers []notify.Notifier
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, bark)
	}
	if len(notifiers) == 0 {
		return &notify.NoOpNotifier{}, nil
	}
	return notify.NewMultiNotifier(notifiers...), nil
}

// buildDeduper connects to Redis when configured. Without Redis every pass
// may notify again.
func buildDeduper(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Deduper, func(), error) {
	if cfg.Notification.Redis.URL == "" {
		return notify.NoOpDeduper{}, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.Notification.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}
	logger.Info("notification dedupe enabled", "ttl", cfg.Notification.Redis.DedupeTTL)
	return notify.NewRedisDeduper(client, cfg.Notification.Redis.DedupeTTL), func() { client.Close() }, nil
}

func buildVerifier(ctx context.Context, cfg *config.Config) (*auth.Verifier, error) {
	switch {
	case cfg.Auth.LocalSecret != "":
		return auth.NewLocalVerifier([]byte(cfg.Auth.LocalSecret), cfg.Auth.FirebaseProjectID), nil
	case cfg.Auth.FirebaseProjectID != "":
		jwks, err := auth.FetchJWKS(ctx, cfg.Auth.JWKSURL, cfg.Auth.JWKSRefresh)
		if err != nil {
			return nil, err
		}
		return auth.NewFirebaseVerifier(jwks, cfg.Auth.FirebaseProjectID), nil
	}
	return nil, nil
}
