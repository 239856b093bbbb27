// Package main runs a set of Discord gateway shards with their caches and
// voice managers, plus the gRPC health and HTTP status surfaces.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/config"
	"github.com/parsascontentcorner/discordlitegateway/internal/database"
	"github.com/parsascontentcorner/discordlitegateway/internal/gateway"
	grpcserver "github.com/parsascontentcorner/discordlitegateway/internal/grpc"
	httpserver "github.com/parsascontentcorner/discordlitegateway/internal/http"
	"github.com/parsascontentcorner/discordlitegateway/internal/ratelimit"
	"github.com/parsascontentcorner/discordlitegateway/internal/rest"
	"github.com/parsascontentcorner/discordlitegateway/internal/shard"
	"github.com/parsascontentcorner/discordlitegateway/pkg/logger"
)

const (
	shutdownTimeout        = 10 * time.Second
	sessionCleanupInterval = time.Minute
)

type flags struct {
	envFile  string
	logLevel string
	shards   []int
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	fs.StringVar(&f.envFile, "env-file", "", "path to a .env file (default .env)")
	fs.StringVar(&f.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	fs.IntSliceVar(&f.shards, "shards", nil, "override SHARD_IDS, comma separated")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

// loadConfig loads the environment and applies the flag overrides.
func loadConfig(f flags) (*config.Config, error) {
	var envFiles []string
	if f.envFile != "" {
		envFiles = append(envFiles, f.envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}

	if f.logLevel == "" && len(f.shards) == 0 {
		return cfg, nil
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if len(f.shards) > 0 {
		cfg.Gateway.ShardIDs = f.shards
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		// Sync fails on pipes and terminals; nothing to do about it.
		_ = log.Sync()
	}()

	if err := run(cfg, log); err != nil {
		log.Error("gateway stopped with an error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting discordlitegateway",
		zap.String("environment", cfg.Server.Env),
		zap.String("http_port", cfg.Server.HTTPPort),
		zap.String("grpc_port", cfg.Server.GRPCPort),
		zap.Bool("session_store", cfg.Database.Enabled),
	)

	client, err := rest.NewClient(rest.Config{
		BaseURL:      cfg.Discord.APIBaseURL,
		BotToken:     cfg.Discord.BotToken,
		ClientID:     cfg.Discord.ClientID,
		ClientSecret: cfg.Discord.ClientSecret,
		TokenURL:     cfg.Discord.TokenURL,
		Scopes:       cfg.Discord.Scopes,
	}, ratelimit.NewRateLimiter(log), log)
	if err != nil {
		return fmt.Errorf("failed to create REST client: %w", err)
	}

	var (
		store    gateway.SessionStore
		dbHealth httpserver.HealthChecker
	)
	if cfg.Database.Enabled {
		db, err := database.NewDB(ctx, &cfg.Database, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error("failed to close database connection", zap.Error(err))
			}
		}()

		log.Info("running database migrations", zap.String("path", cfg.Database.MigrationsPath))
		if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		go db.StartSessionCleanupJob(ctx, sessionCleanupInterval)

		store = database.NewStore(db, cfg.Database.SessionTTL, log)
		dbHealth = db
	}

	manager := shard.NewManager(shard.Config{
		Gateway: gateway.Config{
			Token:          cfg.Discord.BotToken,
			URL:            cfg.Gateway.URL,
			Version:        cfg.Gateway.Version,
			Intents:        cfg.Gateway.Intents,
			Compress:       cfg.Gateway.Compress,
			LargeThreshold: cfg.Gateway.LargeThreshold,
			MaxRetries:     cfg.Gateway.MaxRetries,
			InitialBackoff: cfg.Gateway.InitialBackoff,
			MaxBackoff:     cfg.Gateway.MaxBackoff,
		},
		ShardCount:            cfg.Gateway.ShardCount,
		ShardIDs:              cfg.Gateway.ShardIDs,
		VoiceHandshakeTimeout: cfg.Voice.HandshakeTimeout,
		NotificationBuffer:    cfg.Gateway.NotificationBuffer,
	}, client, store, log)

	grpcServer, err := grpcserver.NewServer(cfg.Server.GRPCPort, log)
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}
	httpServer := httpserver.NewServer(httpserver.NewHandlers(manager, dbHealth, log), cfg.Server.HTTPPort, log)

	if err := manager.Start(ctx); err != nil {
		grpcServer.Stop()
		return fmt.Errorf("failed to start shards: %w", err)
	}

	go grpcServer.TrackReadiness(ctx, manager)

	grpcErrChan := make(chan error, 1)
	httpErrChan := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(); err != nil {
			grpcErrChan <- err
		}
	}()
	go func() {
		if err := httpServer.Serve(); err != nil {
			httpErrChan <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case <-manager.Done():
		runErr = manager.Err()
		if runErr == nil {
			runErr = errors.New("all shards stopped")
		}
	case err := <-grpcErrChan:
		runErr = fmt.Errorf("gRPC server error: %w", err)
	case err := <-httpErrChan:
		runErr = fmt.Errorf("HTTP server error: %w", err)
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown HTTP server gracefully", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown shards gracefully", zap.Error(err))
	}

	log.Info("shut down")
	return runErr
}
