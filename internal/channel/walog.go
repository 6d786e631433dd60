// ABOUTME: Adapter exposing slog through the protocol library's logger interface
// ABOUTME: Keeps whatsmeow's internal logging in the same structured stream as ours

package channel

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

type waLogger struct {
	logger *slog.Logger
}

func newWALogger(logger *slog.Logger) waLog.Logger {
	return &waLogger{logger: logger}
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{logger: l.logger.With("module", module)}
}
