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

	pvhttp "github.com/planvault/planvault/internal/adapter/http"
	pvmcp "github.com/planvault/planvault/internal/adapter/mcp"
	adapterotel "github.com/planvault/planvault/internal/adapter/otel"
	"github.com/planvault/planvault/internal/config"
	"github.com/planvault/planvault/internal/logger"
	"github.com/planvault/planvault/internal/service"
)

func main() {
	fallback := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(fallback)

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, cfgPath)

	log, logCtl := logger.New(cfg.Logging)
	defer logCtl.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"storage_root", cfg.Storage.Root,
		"default_tenant", cfg.Tenancy.DefaultTenant,
	)

	ctx := context.Background()

	// --- Tracing ---
	shutdownTracer, err := adapterotel.InitTracer(ctx, cfg.Logging.Service, cfg.Tracing.Endpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	metrics, err := adapterotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Storage ---
	tenants, err := service.NewTenantFactories(service.TenantFactoriesOptions{
		Root:          cfg.Storage.Root,
		DefaultTenant: cfg.Tenancy.DefaultTenant,
		Log:           log,
		Metrics:       metrics,
		LockTimeout:   cfg.Storage.LockTimeout,
		CacheTTL:      cfg.Storage.CacheTTL,
		CacheBytes:    cfg.Cache.MaxSizeMB << 20,
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer tenants.Close()

	// --- MCP over stdio ---
	if cfg.MCP.Enabled {
		mcpSrv := pvmcp.NewServer(pvmcp.Deps{
			Tenants: tenants,
			Metrics: metrics,
			Log:     log,
		})
		go func() {
			if err := mcpSrv.ServeStdio(); err != nil {
				slog.Error("mcp server stopped", "error", err)
			}
		}()
		slog.Info("mcp server listening on stdio")
	}

	// --- HTTP ---
	handlers := pvhttp.NewHandlers(tenants, metrics, log)
	router := pvhttp.NewRouter(handlers, cfg.Server.APIKey)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown; SIGHUP reloads the config in place.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

loop:
	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP:
			if err := holder.Reload(); err != nil {
				slog.Error("config reload failed, keeping previous config", "error", err)
				continue
			}
			logCtl.SetLevel(holder.Get().Logging.Level)
			slog.Info("config reloaded", "log_level", holder.Get().Logging.Level)
		default:
			break loop
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
