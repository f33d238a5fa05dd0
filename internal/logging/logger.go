// Package logging provides structured logging for the TaskNexus backend.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// Logger provides structured JSON logging backed by logrus.
type Logger struct {
	l *logrus.Logger
}

var (
	// global logger instance
	global *Logger
	once   sync.Once
)

// Init initializes the global logger.
func Init(out io.Writer, minLevel LogLevel) {
	once.Do(func() {
		global = New(out, minLevel)
	})
}

// New creates a Logger writing JSON entries to out.
func New(out io.Writer, minLevel LogLevel) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(toLogrusLevel(minLevel))
	return &Logger{l: l}
}

// Get returns the global logger instance.
func Get() *Logger {
	if global == nil {
		Init(os.Stdout, LevelInfo)
	}
	return global
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// getContext merges multiple context maps.
func getContext(context ...map[string]interface{}) map[string]interface{} {
	if len(context) == 0 {
		return nil
	}
	if len(context) == 1 {
		return context[0]
	}
	merged := make(map[string]interface{})
	for _, c := range context {
		for k, v := range c {
			merged[k] = v
		}
	}
	return merged
}

func (lg *Logger) entry(context ...map[string]interface{}) *logrus.Entry {
	ctx := getContext(context...)
	if ctx == nil {
		return logrus.NewEntry(lg.l)
	}
	return lg.l.WithFields(logrus.Fields(ctx))
}

// Debug logs a debug message.
func (lg *Logger) Debug(message string, context ...map[string]interface{}) {
	lg.entry(context...).Debug(message)
}

// Info logs an info message.
func (lg *Logger) Info(message string, context ...map[string]interface{}) {
	lg.entry(context...).Info(message)
}

// Warn logs a warning message.
func (lg *Logger) Warn(message string, context ...map[string]interface{}) {
	lg.entry(context...).Warn(message)
}

// Error logs an error message.
func (lg *Logger) Error(message string, err error, context ...map[string]interface{}) {
	e := lg.entry(context...)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(message)
}

// ErrorWithCode logs an error message with an application error code.
func (lg *Logger) ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	e := lg.entry(context...).WithField("error_code", code)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(message)
}

// Convenience functions using global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}

func ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	Get().ErrorWithCode(message, code, err, context...)
}
