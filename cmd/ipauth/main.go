package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"ipauth/internal/config"
	"ipauth/internal/logging"
	"ipauth/internal/metrics"
	"ipauth/internal/server"
	"ipauth/internal/store/driver"
)

var (
	defaultConfigPath = "config/config.yaml"
	version           = "dev" // can be set at build time with -ldflags
)

const defaultConfig = `server:
  port: 8080
  readTimeout: "10s"
  writeTimeout: "10s"
  idleTimeout: "60s"
  enableLogging: true
security:
  trustForwardedFor: false
  trustedProxies: []
  jwt:
    secret: "%s"
    issuer: "ipauth"
    ttl: "1h"
  loginRateLimit:
    enabled: true
    requestsPerSecond: 1
    burst: 5
storage:
  driver: "memory"
  prefix: "ipauth"
  timeout: "5s"
bootstrap:
  admin:
    login: "admin"
    password: "%s"
    allowedIPs: "127.0.0.1,::1"
`

// ensureDefaultConfig writes a starter config with fresh secrets when none
// exists and reports whether it did.
func ensureDefaultConfig(configPath string) (bool, error) {
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return false, err
	}
	content := fmt.Sprintf(defaultConfig, uuid.NewString(), uuid.NewString())
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return false, err
	}
	return true, nil
}

func main() {
	startTime := time.Now()

	configPath := flag.String("config", defaultConfigPath, "Path to config.yaml")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the environment is read")
	portFlag := flag.Int("port", 0, "Port to listen on (overrides config and IPAUTH_PORT env var)")
	printConfig := flag.Bool("print-config", false, "Print the loaded configuration and exit")
	flag.Parse()

	fmt.Printf("ipauth version: %s\n", version)

	created, err := ensureDefaultConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create default config: %v\n", err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("\nDefault config created at %s. Please review and run again.\n", *configPath)
		os.Exit(0)
	}

	logger := logging.NewLoggerFromEnv()
	defer logger.Sync()

	logger.Info("Starting ipauth", logging.String("version", version))

	if err := config.LoadDotEnv(*envFile); err != nil {
		logger.Fatal("Failed to load env file", logging.Error(err))
	}

	cfg, err := config.LoadConfig(*configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", logging.Error(err))
	}

	// --port > IPAUTH_PORT env > config file
	applied, err := config.ApplyEnv(cfg, os.Getenv)
	if err != nil {
		logger.Fatal("Invalid environment override", logging.Error(err))
	}
	if len(applied) > 0 {
		logger.Info("Applied environment overrides", logging.Strings("variables", applied))
	}
	if *portFlag > 0 {
		cfg.Server.Port = *portFlag
		logger.Info("Overriding port from --port flag", logging.Int("port", cfg.Server.Port))
	}

	if *printConfig {
		b, _ := json.MarshalIndent(cfg.Redacted(), "", "  ")
		fmt.Println(string(b))
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := driver.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", logging.Error(err))
	}
	defer st.Close()

	srv, err := server.New(server.Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewCollector(),
		Store:   st,
	})
	if err != nil {
		logger.Fatal("Failed to create server", logging.Error(err))
	}
	if err := srv.Bootstrap(ctx); err != nil {
		logger.Fatal("Failed to create bootstrap administrator", logging.Error(err))
	}

	logger.Info("Startup complete", logging.Duration("startup_time", time.Since(startTime)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", logging.String("signal", sig.String()))
		srv.Shutdown()
		cancel()
	}()

	if err := srv.Serve(ctx); err != nil {
		logger.Error("Server error", err)
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}
