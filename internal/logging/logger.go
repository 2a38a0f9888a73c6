package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// Init initializes the structured logger
func Init(level string) error {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	// Set log level
	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Development mode for better readability during development
	if os.Getenv("PROXY_ENV") == "development" {
		config.Development = true
		config.Encoding = "console"
		config.EncoderConfig = zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
	}

	var err error
	logger, err = config.Build()
	if err != nil {
		return err
	}

	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback to default production logger
		logger, _ = zap.NewProduction()
	}
	return logger
}

// LogHTTPRequest logs a proxied request with structured fields
func LogHTTPRequest(requestID, method, path, origin string, status int, latency time.Duration, size int64) {
	GetLogger().Info("http_request",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("path", path),
		zap.String("origin", origin),
		zap.Int("status", status),
		zap.Int64("latency_ms", latency.Milliseconds()),
		zap.Int64("size_bytes", size),
	)
}

// LogProbeResult logs the outcome of a primary-origin probe on the
// health-check path
func LogProbeResult(requestID, origin string, healthy bool, status int, err error) {
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("origin", origin),
		zap.Bool("healthy", healthy),
		zap.Int("status", status),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	GetLogger().Info("probe_result", fields...)
}

// LogFailover logs a fallback from the primary to the backup origin
func LogFailover(requestID, from, to, reason string) {
	GetLogger().Warn("failover",
		zap.String("request_id", requestID),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("reason", reason),
	)
}

// LogUpstreamError logs a transport failure against an origin
func LogUpstreamError(requestID, origin string, err error) {
	GetLogger().Error("upstream_error",
		zap.String("request_id", requestID),
		zap.String("origin", origin),
		zap.Error(err),
	)
}

// LogHealthStoreError logs a failed read or write of the shared health
// record; these never fail the request itself
func LogHealthStoreError(op string, err error) {
	GetLogger().Warn("health_store_error",
		zap.String("op", op),
		zap.Error(err),
	)
}

// LogRateLimited logs rate limiting events
func LogRateLimited(requestID, route string) {
	GetLogger().Warn("rate_limited",
		zap.String("request_id", requestID),
		zap.String("route", route),
	)
}

// LogHTTPServerStart logs HTTP server startup
func LogHTTPServerStart(addr string) {
	GetLogger().Info("http_server_start",
		zap.String("listen_addr", addr),
	)
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
