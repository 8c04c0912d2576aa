package main

import (
	"context"
	"log"
	"os"

	"edgepolicy/internal/config"
	"edgepolicy/internal/controller"
	"edgepolicy/internal/lifecycle"
)

func main() {
	cfg, err := config.LoadController()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := lifecycle.BuildLogger(cfg.LogLevel, cfg.LogJSON)
	c, err := controller.New(cfg, logger)
	if err != nil {
		logger.Error("controller initialization failed", "error", err)
		os.Exit(1)
	}

	err = lifecycle.RunWithSignals(context.Background(), lifecycle.Process{
		Name:            "edgepolicy-controller",
		Logger:          logger,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Run:             c.Run,
	})
	if err != nil {
		logger.Error("controller runtime failed", "error", err)
		os.Exit(1)
	}
}
