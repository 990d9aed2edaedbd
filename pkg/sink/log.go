package sink

import (
	"context"

	"github.com/samsamfire/cansource/pkg/datasource"
	log "github.com/sirupsen/logrus"
)

// LogWriter prints every message, used when no database is configured.
type LogWriter struct {
	logger *log.Entry
	level  log.Level
}

func NewLogWriter(logger *log.Entry, level log.Level) *LogWriter {
	if logger == nil {
		logger = log.WithField("module", "sink")
	}
	return &LogWriter{logger: logger, level: level}
}

func (w *LogWriter) Write(ctx context.Context, messages []datasource.Message) error {
	if !w.logger.Logger.IsLevelEnabled(w.level) {
		return nil
	}
	for _, msg := range messages {
		w.logger.Logf(w.level, "[SINK] source %v | t %v | fd %v | x%x | %X",
			msg.SourceID, msg.ReceptionTime, msg.FD, msg.ID, msg.Data)
	}
	return nil
}

func (w *LogWriter) Close() error {
	return nil
}
