package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New creates a zap logger for the named environment
func New(env string) (*zap.Logger, error) {
	switch env {
	case "production":
		return zap.NewProduction()
	case "development":
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		return cfg.Build()
	case "local", "":
		return zap.NewDevelopment()
	default:
		return nil, fmt.Errorf("logging: unknown ENV %q", env)
	}
}
