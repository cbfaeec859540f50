// ABOUTME: Entry point for the dm-gateway messaging server
// ABOUTME: Loads config, wires store/registry/dispatcher, serves REST + websocket

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/plazared/dm-gateway/internal/auth"
	"github.com/plazared/dm-gateway/internal/config"
	"github.com/plazared/dm-gateway/internal/dispatch"
	"github.com/plazared/dm-gateway/internal/gateway"
	"github.com/plazared/dm-gateway/internal/notify"
	"github.com/plazared/dm-gateway/internal/registry"
	"github.com/plazared/dm-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the gateway config file.
// Priority: DM_CONFIG env var > XDG_CONFIG_HOME/dm/gateway.yaml > ~/.config/dm/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "dm", "gateway.yaml")
}

func main() {
	// A missing .env is fine; explicit config always wins.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: dm-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the messaging gateway")
		fmt.Println("  health   Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	gray.Printf("dm-gateway %s\n", version)
	green.Print("  ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("  ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("  ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting dm-gateway",
		"version", version,
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	var notifier notify.Notifier
	if cfg.Notify.RedisURI != "" {
		asynqNotifier, err := notify.NewAsynqNotifier(cfg.Notify.RedisURI, logger)
		if err != nil {
			return fmt.Errorf("creating notifier: %w", err)
		}
		defer asynqNotifier.Close()
		notifier = asynqNotifier
	} else {
		logger.Warn("no redis_uri configured, notifications go to the log sink")
		notifier = notify.NewLogNotifier(logger)
	}

	reg := registry.New(logger)
	disp := dispatch.New(reg, notifier, logger)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	gw := gateway.New(st, reg, disp, verifier, gateway.Options{
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start(cfg.Server.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return gw.Shutdown(shutdownCtx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
