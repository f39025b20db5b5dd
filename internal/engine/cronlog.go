package engine

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

type cronLogger struct {
	log *slog.Logger
}

// CronLogger adapts a slog.Logger to cron's logging interface. Routine
// scheduler chatter goes to debug.
func CronLogger(log *slog.Logger) cron.Logger {
	return cronLogger{log: log.With("component", "cron")}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
