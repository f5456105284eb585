package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/config"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/resolver"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create the resolver service
	service, err := resolver.NewService(cfg, stdLogger)
	if err != nil {
		log.Fatalf("Failed to create resolver service: %v", err)
	}

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		stdLogger.Info("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	// Start the service
	stdLogger.Info("Starting the resolver service...")
	service.Start(ctx)
}
