// Package flog wraps logrus with the caller-annotated formatter used
// across this module, so every log line carries file:function:line
// without each call site having to ask for it.
package flog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// Log is the general-purpose logger (debug/info/warn).
	Log *logrus.Logger
	// ErrLog is the error/fatal logger, mirrored to stderr.
	ErrLog *logrus.Logger
)

// Config selects output paths and verbosity for Init.
type Config struct {
	InfoLogPath string
	ErrorLogPath string
	Level        string // debug, info, warn, error
}

type callerFormatter struct{}

func (callerFormatter) Format(e *logrus.Entry) ([]byte, error) {
	ts := e.Time.Format("15:04:05 MST 2006/01/02")
	level := strings.ToUpper(e.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	return []byte(fmt.Sprintf("[%s] [%s] (%s) %s\n", ts, level, caller(), e.Message)), nil
}

func caller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") || strings.Contains(file, "flog.go") {
			continue
		}
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), runtime.FuncForPC(pc).Name(), line)
	}
	return "unknown:unknown:0"
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Init wires Log/ErrLog according to cfg. It is safe to call more than
// once; the previous loggers are replaced.
func Init(cfg Config) error {
	lvl := parseLevel(cfg.Level)

	Log = logrus.New()
	Log.SetFormatter(callerFormatter{})
	Log.SetLevel(lvl)
	if w, err := output(cfg.InfoLogPath, os.Stdout); err != nil {
		Log.SetOutput(os.Stdout)
		Log.Warnf("falling back to stdout, could not open %s: %v", cfg.InfoLogPath, err)
	} else {
		Log.SetOutput(w)
	}

	ErrLog = logrus.New()
	ErrLog.SetFormatter(callerFormatter{})
	ErrLog.SetLevel(lvl)
	if w, err := output(cfg.ErrorLogPath, os.Stderr); err != nil {
		ErrLog.SetOutput(os.Stderr)
		ErrLog.Warnf("falling back to stderr, could not open %s: %v", cfg.ErrorLogPath, err)
	} else {
		ErrLog.SetOutput(w)
	}
	return nil
}

func output(path string, fallback *os.File) (io.Writer, error) {
	if path == "" {
		return fallback, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return io.MultiWriter(fallback, f), nil
}

func init() {
	// usable before Init is called, e.g. in package-level init() elsewhere
	Log = logrus.New()
	Log.SetFormatter(callerFormatter{})
	ErrLog = logrus.New()
	ErrLog.SetFormatter(callerFormatter{})
	ErrLog.SetOutput(os.Stderr)
}

func Debugf(format string, args ...interface{}) { Log.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Log.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Log.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { ErrLog.Errorf(format, args...) }
