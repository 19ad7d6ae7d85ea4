package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FreePeak/cortex/pkg/server"
	"github.com/spf13/cobra"

	"github.com/FreePeak/db-dispatch-server/internal/app"
	"github.com/FreePeak/db-dispatch-server/internal/config"
	"github.com/FreePeak/db-dispatch-server/internal/delivery/mcp"
	"github.com/FreePeak/db-dispatch-server/internal/interfaces/api"
	"github.com/FreePeak/db-dispatch-server/internal/logger"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

const serverName = "db-dispatch-server"

var (
	transportMode string
	port          int
)

var rootCmd = &cobra.Command{
	Use:           serverName,
	Short:         "Dynamic module dispatcher for MongoDB, SQL and Redis backends",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway over HTTP or MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		// Override config with command line flags if provided
		if transportMode != "" {
			cfg.TransportMode = transportMode
		}
		if port != 0 {
			cfg.ServerPort = port
		}

		logger.Initialize(cfg.LogLevel)
		logger.SetFormat(cfg.LogFormat)
		logger.Info("Starting %s %s with %s transport", serverName, Version, cfg.TransportMode)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.Connect(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize backends: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.Close(closeCtx); err != nil {
				logger.Error("Error closing backends: %v", err)
			}
		}()

		switch cfg.TransportMode {
		case "http":
			return serveHTTP(ctx, cfg, a)
		case "stdio":
			return serveStdio(ctx, a)
		default:
			return fmt.Errorf("unknown transport mode: %s", cfg.TransportMode)
		}
	},
}

func serveHTTP(ctx context.Context, cfg *config.Config, a *app.App) error {
	token := ""
	if cfg.EnableAuth {
		token = cfg.APIToken
	}
	if token == "" {
		logger.Warn("X-Token authentication is disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewRouter(a.Dispatcher, api.RouterConfig{
			Token:   token,
			Health:  api.NewHealthHandler(a.Checks, 3*time.Second),
			Records: a.Records,
			SQL:     a.SQL,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Shutdown server gracefully
	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error: %v", err)
	}
	logger.Info("Server stopped")
	return nil
}

func serveStdio(ctx context.Context, a *app.App) error {
	w := logger.Writer()
	defer w.Close()

	mcpServer := server.NewMCPServer(serverName, Version, log.New(w, "", 0))
	if err := mcp.NewServerToolRegistry(mcpServer, a.Dispatcher).RegisterAllTools(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- mcpServer.ServeStdio() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Stdio server stopped")
		return nil
	}
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Print every module, method and parameter the server can expose",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := app.Catalog()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serverName, Version)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&transportMode, "transport", "t", "", "Transport mode (http or stdio)")
	serveCmd.Flags().IntVar(&port, "port", 0, "Server port")
	rootCmd.AddCommand(serveCmd, modulesCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
