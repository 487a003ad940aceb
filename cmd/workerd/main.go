package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/alloybuild/orchestrator/internal/events"
	"github.com/alloybuild/orchestrator/internal/vmpool"
	"github.com/alloybuild/orchestrator/internal/workerd"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := workerd.DefaultConfig()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	bus := events.NewBus()
	bus.Subscribe(events.ZapHandler(logger))

	hv := vmpool.NewTartHypervisor("")
	d, err := workerd.New(cfg, hv, bus)
	if err != nil {
		logger.Fatal("build daemon", zap.Error(err))
	}

	if err := d.Run(context.Background()); err != nil {
		logger.Fatal("daemon exited with error", zap.Error(err))
	}
}
