package logger

import (
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level represents the severity of a log message
type Level int

const (
	// LevelDebug for detailed troubleshooting
	LevelDebug Level = iota
	// LevelInfo for general operational entries
	LevelInfo
	// LevelWarn for non-critical issues
	LevelWarn
	// LevelError for errors that should be addressed
	LevelError
)

var (
	// Default logger
	logger   = newLogrus(os.Stderr)
	logLevel = LevelInfo
)

// Fields is a set of structured key/value pairs attached to an entry
type Fields = logrus.Fields

func newLogrus(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})
	return l
}

// Initialize sets up the logger with the specified level.
// Output goes to stderr so the stdio transport keeps stdout to itself.
func Initialize(level string) {
	logger.SetOutput(logWriter())
	setLogLevel(level)
}

// SetFormat switches between "text" and "json" output
func SetFormat(format string) {
	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006/01/02 15:04:05",
		})
	}
}

// logWriter returns the sink for log output, honoring MCP_DISABLE_LOGGING
func logWriter() io.Writer {
	val := os.Getenv("MCP_DISABLE_LOGGING")
	if strings.ToLower(val) == "true" || val == "1" {
		return io.Discard
	}
	return os.Stderr
}

// setLogLevel sets the log level from a string
func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
}

func logMessage(level Level, fields Fields, format string, v ...interface{}) {
	if level < logLevel {
		return
	}

	entry := logrus.NewEntry(logger)
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}

	switch level {
	case LevelDebug:
		entry.Debugf(format, v...)
	case LevelInfo:
		entry.Infof(format, v...)
	case LevelWarn:
		entry.Warnf(format, v...)
	case LevelError:
		entry.Errorf(format, v...)
	}
}

// Debug logs a debug message
func Debug(format string, v ...interface{}) {
	logMessage(LevelDebug, nil, format, v...)
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	logMessage(LevelInfo, nil, format, v...)
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	logMessage(LevelWarn, nil, format, v...)
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	logMessage(LevelError, nil, format, v...)
}

// ErrorWithStack logs an error with a stack trace
func ErrorWithStack(err error) {
	if err == nil {
		return
	}
	logMessage(LevelError, nil, "%v\n%s", err, debug.Stack())
}

// Entry is a leveled logger bound to a set of fields
type Entry struct {
	fields Fields
}

// WithFields returns an Entry that attaches fields to every message
func WithFields(fields Fields) *Entry {
	return &Entry{fields: fields}
}

// Debug logs a debug message with the entry's fields
func (e *Entry) Debug(format string, v ...interface{}) {
	logMessage(LevelDebug, e.fields, format, v...)
}

// Info logs an info message with the entry's fields
func (e *Entry) Info(format string, v ...interface{}) {
	logMessage(LevelInfo, e.fields, format, v...)
}

// Warn logs a warning message with the entry's fields
func (e *Entry) Warn(format string, v ...interface{}) {
	logMessage(LevelWarn, e.fields, format, v...)
}

// Error logs an error message with the entry's fields
func (e *Entry) Error(format string, v ...interface{}) {
	logMessage(LevelError, e.fields, format, v...)
}

// Writer returns a pipe that logs each written line at info level.
// The caller must close it.
func Writer() *io.PipeWriter {
	return logger.WriterLevel(logrus.InfoLevel)
}

// RequestLog logs details of an HTTP request
func RequestLog(method, url, requestID, body string) {
	Debug("HTTP Request: %s %s", method, url)
	if requestID != "" {
		Debug("Request ID: %s", requestID)
	}
	if body != "" {
		Debug("Request Body: %s", body)
	}
}

// ResponseLog logs details of an HTTP response
func ResponseLog(statusCode int, requestID, body string) {
	Debug("HTTP Response: Status %d", statusCode)
	if requestID != "" {
		Debug("Request ID: %s", requestID)
	}
	if body != "" {
		Debug("Response Body: %s", body)
	}
}
