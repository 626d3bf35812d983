package util

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLevel maps a config level name onto the pterm logger.
func SetLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		pterm.DefaultLogger.Level = pterm.LogLevelDebug
	case "info", "":
		pterm.DefaultLogger.Level = pterm.LogLevelInfo
	case "warn":
		pterm.DefaultLogger.Level = pterm.LogLevelWarn
	case "error":
		pterm.DefaultLogger.Level = pterm.LogLevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

// SetLogFile tees log output into a size-rotated file. The returned closer
// flushes and closes the file; stderr output is unaffected.
func SetLogFile(path string, maxSizeMB, maxBackups int) io.Closer {
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	pterm.DefaultLogger.Writer = io.MultiWriter(os.Stderr, file)
	return file
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}
