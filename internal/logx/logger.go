package logx

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu   sync.RWMutex
	logg = newLogger(os.Stdout, "info", "json")
)

func newLogger(out io.Writer, level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	if strings.EqualFold(format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Configure replaces the process logger. It is called once from startup,
// before any component logs.
func Configure(out io.Writer, level, format string) *logrus.Logger {
	l := newLogger(out, level, format)
	mu.Lock()
	logg = l
	mu.Unlock()
	return l
}

func Logger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logg
}

// Discard returns a logger that drops everything. Tests pass it to
// components to keep output quiet.
func Discard() *logrus.Logger {
	return newLogger(io.Discard, "panic", "text")
}

func LogError(logger logrus.FieldLogger, module, fn, context string, data any, err error) {
	fields := logrus.Fields{
		"module":   module,
		"funcName": fn,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	logger.WithFields(fields).Error(err.Error())
}
