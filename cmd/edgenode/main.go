package main

import (
	"context"
	"log"
	"os"

	"edgepolicy/internal/config"
	"edgepolicy/internal/edge"
	"edgepolicy/internal/lifecycle"
)

func main() {
	cfg, err := config.LoadEdge()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := lifecycle.BuildLogger(cfg.LogLevel, cfg.LogJSON)
	e, err := edge.New(cfg, logger)
	if err != nil {
		logger.Error("edge node initialization failed", "error", err)
		os.Exit(1)
	}

	err = lifecycle.RunWithSignals(context.Background(), lifecycle.Process{
		Name:            "edgepolicy-edge",
		Logger:          logger,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Run:             e.Run,
		Shutdown:        e.Shutdown,
	})
	if err != nil {
		logger.Error("edge node runtime failed", "error", err)
		os.Exit(1)
	}
}
