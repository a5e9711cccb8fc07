package peer

import (
	"github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

// LoggerFactory routes pion's internal logging through logrus.
type LoggerFactory struct {
	Logger *logrus.Entry
}

func NewLoggerFactory(logger *logrus.Entry) *LoggerFactory {
	return &LoggerFactory{
		Logger: logger,
	}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{
		Entry: f.Logger.WithField("scope", scope),
	}
}

type leveledLogger struct {
	*logrus.Entry
}

func (l *leveledLogger) Trace(msg string)                          { l.Entry.Trace(msg) }
func (l *leveledLogger) Tracef(format string, args ...interface{}) { l.Entry.Tracef(format, args...) }
func (l *leveledLogger) Debug(msg string)                          { l.Entry.Debug(msg) }
func (l *leveledLogger) Debugf(format string, args ...interface{}) { l.Entry.Debugf(format, args...) }
func (l *leveledLogger) Info(msg string)                           { l.Entry.Info(msg) }
func (l *leveledLogger) Infof(format string, args ...interface{})  { l.Entry.Infof(format, args...) }
func (l *leveledLogger) Warn(msg string)                           { l.Entry.Warn(msg) }
func (l *leveledLogger) Warnf(format string, args ...interface{})  { l.Entry.Warnf(format, args...) }
func (l *leveledLogger) Error(msg string)                          { l.Entry.Error(msg) }
func (l *leveledLogger) Errorf(format string, args ...interface{}) { l.Entry.Errorf(format, args...) }
