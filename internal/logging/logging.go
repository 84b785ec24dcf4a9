package logging

import (
	"io"
	"os"
	"time"

	"github.com/aimerfeng/Earnzy/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	zerolog.DurationFieldUnit = time.Millisecond

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "earnzy-ledger").
		Str("env", env).
		Logger()
	ledgerLogger = NewLogger("ledger")
}

// ledgerLogger tags committed balance mutations so they can be shipped to a
// separate sink. It is rebuilt by Setup.
var ledgerLogger = NewLogger("ledger")

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger logs one line per request. Health probes are logged at
// debug level; 4xx at warn and 5xx at error.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		case c.FullPath() == "/health":
			event = log.Debug()
		default:
			event = log.Info()
		}

		if uid := c.GetString("user_id"); uid != "" {
			event = event.Str("uid", uid)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}

		event.
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// LedgerEvent describes one committed settlement operation
type LedgerEvent struct {
	Operation string
	UID       string
	Reference string
	Coins     int64
	AmountINR string
	Status    string
}

// LogLedgerEvent logs a committed balance mutation
func LogLedgerEvent(e *LedgerEvent) {
	ledgerLogger.Info().
		Str("operation", e.Operation).
		Str("uid", e.UID).
		Str("reference", e.Reference).
		Int64("coins", e.Coins).
		Str("amount_inr", e.AmountINR).
		Str("status", e.Status).
		Msg("Ledger event")
}

// LogSecurityEvent logs security-related events
func LogSecurityEvent(eventType, userID, clientIP, details string) {
	log.Warn().
		Str("event_type", eventType).
		Str("user_id", userID).
		Str("client_ip", clientIP).
		Str("details", details).
		Msg("Security event")
}

// LogError logs an error with context
func LogError(err error, requestID, component, operation string) {
	log.Error().
		Err(err).
		Str("request_id", requestID).
		Str("component", component).
		Str("operation", operation).
		Msg("Error occurred")
}
