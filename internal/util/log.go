package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// The Log* helpers format like fmt.Sprintf and write one timestamped line
// through pterm's default logger, which goes to stderr unless SetLogOutput
// says otherwise.

// LogDebug is for per-frame and per-state tracing. Hidden unless EnableDebug.
func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess marks a completed upgrade. pterm's logger has no success level.
func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogWarning reports a recoverable failure: a lost peer, a failed dial.
func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug lowers the level so that frame forwarding, skipped control
// frames, pings and state changes are logged.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLogOutput redirects the logger, e.g. to a file or io.Discard.
func SetLogOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}
