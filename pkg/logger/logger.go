package logger

import (
	"github.com/FreePeak/db-dispatch-server/internal/logger"
)

// Fields is a set of structured key/value pairs
type Fields = logger.Fields

// Debug logs a debug message
func Debug(format string, v ...interface{}) {
	logger.Debug(format, v...)
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	logger.Info(format, v...)
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	logger.Warn(format, v...)
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	logger.Error(format, v...)
}

// WithFields returns a logger bound to fields
func WithFields(fields Fields) *logger.Entry {
	return logger.WithFields(fields)
}
