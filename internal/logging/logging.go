package logging

import (
	"os"

	"go.uber.org/zap"
)

// NewLogger builds the process-wide zap logger. APP_ENV=development switches
// to the human-readable console encoder.
func NewLogger() *zap.Logger {
	var logger *zap.Logger
	var err error

	if os.Getenv("APP_ENV") == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
