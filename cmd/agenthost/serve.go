package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenthost-dev/agenthost"
	"github.com/agenthost-dev/agenthost/internal/observability"
	"github.com/agenthost-dev/agenthost/pkg/agent"
	"github.com/agenthost-dev/agenthost/pkg/config"
	obsmetrics "github.com/agenthost-dev/agenthost/pkg/observability"
)

var (
	serveConfigFile string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the agent hosting runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(serveConfigFile)
		},
	}
)

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c",
		getEnv("AGENTHOST_CONFIG", ""), "Path to the YAML config file")
}

func serve(configFile string) error {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log.Printf("Starting agenthost v%s (server_id=%s)", agenthost.Version, cfg.ServerID)

	if err := observability.Init(observability.Config{
		ServiceName:  "agenthost",
		Enabled:      cfg.Tracing.Enabled,
		ExporterType: cfg.Tracing.Exporter,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	rt, err := agenthost.New(cfg, agent.EchoFactory)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)

	var obsServer *obsmetrics.Server
	if cfg.Metrics.Enabled {
		obsmetrics.InitMetrics()
		checker := obsmetrics.NewHealthChecker()
		checker.RegisterCheck(obsmetrics.PingCheck())

		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		if cfg.LocalMode {
			addr = fmt.Sprintf("127.0.0.1:%d", cfg.Metrics.Port)
		}
		obsServer = obsmetrics.NewServer(addr, checker)
		go func() {
			log.Printf("Observability server listening on %s", addr)
			if err := obsServer.Start(); err != nil {
				errChan <- err
			}
		}()
	}

	log.Printf("Runtime ready: bind=%s workers=%d pool=%s",
		cfg.BindAddr(), cfg.NumWorkers, cfg.PoolType)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Printf("Error: %v", err)
	case sig := <-quit:
		log.Printf("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.MaxTimeoutSeconds)*time.Second)
	defer cancel()

	if err := rt.Stop(ctx); err != nil {
		log.Printf("Runtime shutdown: %v", err)
	}
	if obsServer != nil {
		if err := obsServer.Shutdown(ctx); err != nil {
			log.Printf("Observability server shutdown: %v", err)
		}
	}
	if err := observability.Shutdown(ctx); err != nil {
		log.Printf("Tracing shutdown: %v", err)
	}

	log.Println("Stopped")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
