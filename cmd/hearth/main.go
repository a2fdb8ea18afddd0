// Hearth is a smart-home voice command orchestrator. It turns transcribed
// utterances into device actions, asks before risky or ambiguous ones, and
// answers in a sentence that names the rooms it touched.
//
// Usage:
//
//	hearth [serve] [--config /path/to/hearth.yaml]
//	hearth history [-n 20] [--json]
//	hearth mcp
//	hearth version
//
// @title       hearth API
// @version     1.0
// @description Smart-home voice command orchestrator.
// @BasePath    /
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nadzzz/hearth/docs"
	"github.com/nadzzz/hearth/internal/config"
	"github.com/nadzzz/hearth/internal/health"
	"github.com/nadzzz/hearth/internal/transport"
	grpctransport "github.com/nadzzz/hearth/internal/transport/grpc"
	httptransport "github.com/nadzzz/hearth/internal/transport/http"
	mcptransport "github.com/nadzzz/hearth/internal/transport/mcp"
)

// version is set at build time via ldflags.
var version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Smart-home voice command orchestrator",
	Long: `Hearth receives transcribed voice commands from satellites, phones and panels,
works out which devices they mean, confirms multi-room, ambiguous and high-impact
actions, and drives the home platform. Running hearth without a subcommand serves.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd().RunE(cmd, args)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (e.g. configs/hearth.local.yaml)")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hearth %s\n", version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the enabled transports until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load configuration.
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			// Setup structured logging.
			config.SetupLogging(cfg.Logging)
			slog.Info("hearth starting", "version", version)

			// Create root context with signal handling for graceful shutdown.
			ctx, cancel := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("closing stores", "error", err)
		}
	}()

	// Initialize enabled transports.
	var transports []transport.Transport
	rl := cfg.Transports.HTTP.RateLimit
	limiter := transport.NewLimiter(rl.RPS, rl.Burst)

	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC.Port, limiter))
	}
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(httptransport.Options{
			Port:      cfg.Transports.HTTP.Port,
			History:   a.history,
			Inventory: a.cache,
			Limiter:   limiter,
		}))
	}
	if len(transports) == 0 {
		return fmt.Errorf("no transports enabled: enable http or grpc in config")
	}

	a.run(ctx)

	// Start health check server.
	healthServer := health.New(cfg.Server.HealthPort)
	for name, check := range a.checks {
		healthServer.AddCheck(name, check)
	}
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	// Start all transports.
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx, a.dispatcher.Handle); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
			}
		}(t)
	}

	// Mark as ready once all transports are started.
	healthServer.SetReady(true)
	slog.Info("hearth ready",
		"transports", len(transports),
		"health_port", cfg.Server.HealthPort)

	// Block until shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")

	// Close all transports gracefully.
	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	wg.Wait()
	slog.Info("hearth stopped")
	return nil
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve handle_command and recent_history as MCP tools on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			// stdout carries the protocol.
			cfg.Logging.Output = "stderr"
			config.SetupLogging(cfg.Logging)

			ctx, cancel := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			a.run(ctx)
			return mcptransport.New(version, a.history).Listen(ctx, a.dispatcher.Handle)
		},
	}
}
