package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is re-exported so callers do not need to import logrus directly.
type Fields = logrus.Fields

type LogConfig struct {
	Level  string
	Format string
	Output string

	// File rotation settings, used when Output is a file path.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type Logger struct {
	*logrus.Logger
}

func New(config LogConfig) (*Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}
	log.SetLevel(level)

	switch config.Format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	}

	log.SetOutput(resolveOutput(config))

	return &Logger{Logger: log}, nil
}

func resolveOutput(config LogConfig) io.Writer {
	switch config.Output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		maxSize := config.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		return &lumberjack.Logger{
			Filename:   config.Output,
			MaxSize:    maxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		}
	}
}

// Info logs a message with alternating key/value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.WithFields(fieldsFromPairs(keysAndValues)).Info(msg)
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.WithFields(fieldsFromPairs(keysAndValues)).Debug(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.WithFields(fieldsFromPairs(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.WithFields(fieldsFromPairs(keysAndValues)).Error(msg)
}

// LogService records the outcome of a service-level operation with its
// duration, extra fields, and error (if any).
func (l *Logger) LogService(service, operation string, duration time.Duration, fields map[string]interface{}, err error) {
	entry := l.WithFields(Fields{
		"service":     service,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	if err != nil {
		entry.WithError(err).Error("service operation failed")
		return
	}
	entry.Info("service operation completed")
}

// LogAgent records a single agent step inside a request lifecycle.
func (l *Logger) LogAgent(requestID, agent, operation string, duration time.Duration, fields map[string]interface{}, err error) {
	entry := l.WithFields(Fields{
		"request_id":  requestID,
		"agent":       agent,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	if err != nil {
		entry.WithError(err).Error("agent step failed")
		return
	}
	entry.Info("agent step completed")
}

// LogToolCall records a dispatched tool call and its outcome.
func (l *Logger) LogToolCall(requestID, action string, index int, duration time.Duration, err error) {
	entry := l.WithFields(Fields{
		"request_id":  requestID,
		"action":      action,
		"index":       index,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("tool call failed")
		return
	}
	entry.Info("tool call completed")
}

func fieldsFromPairs(keysAndValues []interface{}) Fields {
	fields := Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
