package main

import (
	"github.com/routeflow/fleet-tracker/internal/config"
	"github.com/routeflow/fleet-tracker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
