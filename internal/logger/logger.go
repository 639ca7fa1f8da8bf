// Package logger wraps a process-wide zap sugared logger. Production
// config writes JSON to stdout; setting APP_ENV=dev switches to the
// human-readable development encoder.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	once sync.Once
	log  *zap.SugaredLogger
)

// L returns the shared sugared logger, initializing it on first use.
func L() *zap.SugaredLogger {
	once.Do(func() {
		var z *zap.Logger
		var err error
		if os.Getenv("APP_ENV") == "dev" {
			z, err = zap.NewDevelopment()
		} else {
			z, err = zap.NewProduction()
		}
		if err != nil {
			z = zap.NewNop()
		}
		log = z.Sugar()
	})
	return log
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
