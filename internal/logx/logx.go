// Package logx wraps logrus with key/value field helpers so call sites log
// structured context without building logrus.Fields by hand.
package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05.000"

func Setup(level string, jsonFormat bool) {
	logrus.SetOutput(os.Stdout)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	if jsonFormat {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
		DisableSorting:  true,
	})
}

// WithFields builds an entry from alternating key/value pairs. Non-string
// keys and a trailing odd value are dropped.
func WithFields(ctx ...interface{}) *logrus.Entry {
	fields := make(logrus.Fields)
	for k := 0; k+2 <= len(ctx); k += 2 {
		if key, ok := ctx[k].(string); ok {
			fields[key] = ctx[k+1]
		}
	}
	return logrus.WithFields(fields)
}

func Debug(msg string, ctx ...interface{}) { WithFields(ctx...).Debug(msg) }
func Info(msg string, ctx ...interface{})  { WithFields(ctx...).Info(msg) }
func Warn(msg string, ctx ...interface{})  { WithFields(ctx...).Warn(msg) }
func Error(msg string, ctx ...interface{}) { WithFields(ctx...).Error(msg) }
