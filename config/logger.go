package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger *zap.Logger

// InitLogger initializes a Zap logger and returns it.
func InitLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.Encoding = "console"
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	// Store for cleanup purposes
	globalLogger = logger

	return logger, nil
}

// GetLogger returns the global logger instance (for backward compatibility during transition).
func GetLogger() *zap.Logger {
	if globalLogger == nil {
		// Fallback to a basic logger if not initialized.
		globalLogger, _ = zap.NewDevelopment()
	}
	return globalLogger
}

// Cleanup flushes any buffered log entries.
func Cleanup() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}
