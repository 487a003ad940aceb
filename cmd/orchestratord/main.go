package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/alloybuild/orchestrator/internal/events"
	"github.com/alloybuild/orchestrator/internal/orchestratord"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := orchestratord.DefaultConfig()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	bus := events.NewBus()
	bus.Subscribe(events.ZapHandler(logger))

	ctx := context.Background()
	d, err := orchestratord.New(ctx, cfg, bus)
	if err != nil {
		logger.Fatal("build daemon", zap.Error(err))
	}

	if err := d.Run(ctx); err != nil {
		logger.Fatal("daemon exited with error", zap.Error(err))
	}
}
