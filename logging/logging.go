// Package logging constructs the process-wide structured logger. One
// *zap.Logger is built here at startup and passed explicitly to each
// component's constructor in main.go; nothing in this repo reaches for a
// package-level global logger.
package logging

import "go.uber.org/zap"

func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	cfg := zap.NewDevelopmentConfig()
	return cfg.Build()
}
