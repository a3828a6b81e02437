package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-bundler/internal/config"
	"github.com/aman-zulfiqar/solana-bundler/internal/server"
	"github.com/aman-zulfiqar/solana-bundler/internal/store"
)

// env bootstrap function
func loadEnv(logger *logrus.Logger) {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Warnf("no .env file found at %s, using system environment variables", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)

	// load .env BEFORE anything reads os.Getenv
	loadEnv(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	handlers := &server.Handlers{
		DevMode: cfg.DevMode,
		Logger:  logger,
	}

	if cfg.RedisAddr != "" {
		cache, err := store.NewRedisCache(ctx, store.RedisConfig{Addr: cfg.RedisAddr})
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to Redis")
		}
		defer cache.Close()
		handlers.Cache = cache
	}

	srv, err := server.NewServer(server.ServerDeps{
		Handlers: handlers,
		Config: server.ServerConfig{
			Addr:    cfg.APIAddr,
			DevMode: cfg.DevMode,
			APIKey:  cfg.APIKey,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create server")
	}

	go func() {
		logger.Infof("API listening on %s", cfg.APIAddr)
		if err := srv.Start(); err != nil {
			logger.WithError(err).Info("server stopped")
		}
	}()

	<-sigCh
	logger.Info("shutting down")

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("shutdown failed")
	}
	_ = srv.WaitClosed(ctx)
}
