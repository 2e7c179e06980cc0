// Package logger provides a small leveled logger shared by all daosnfs
// packages.
//
// The logger is intentionally simple: a process-wide level, a text or JSON
// line format, and a configurable destination. FSAL operations log at Debug
// on entry and on failure paths only; anything the server should act on is
// returned as a structured status instead of being logged here.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

type Format int

const (
	FormatText Format = iota
	FormatJSON
)

var (
	mu            sync.RWMutex
	currentLevel  = LevelInfo
	currentFormat = FormatText
	logger        = stdlog.New(os.Stdout, "", 0)
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SetLevel sets the minimum level that will be emitted. Unrecognized values
// leave the level unchanged.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// SetFormat selects between human-readable text lines and JSON objects.
func SetFormat(format string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(format) {
	case "json":
		currentFormat = FormatJSON
	case "text":
		currentFormat = FormatText
	}
}

// SetOutput redirects log output. Accepts "stdout", "stderr", or a file path
// (opened append-only, created if missing).
func SetOutput(output string) error {
	var w io.Writer

	switch output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log output %q: %w", output, err)
		}
		w = f
	}

	mu.Lock()
	defer mu.Unlock()
	logger = stdlog.New(w, "", 0)
	return nil
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	minLevel, outFormat, out := currentLevel, currentFormat, logger
	mu.RUnlock()

	if level < minLevel {
		return
	}

	now := time.Now()
	message := fmt.Sprintf(format, v...)

	if outFormat == FormatJSON {
		line, err := json.Marshal(map[string]string{
			"time":    now.Format(time.RFC3339),
			"level":   level.String(),
			"message": message,
		})
		if err == nil {
			out.Println(string(line))
		}
		return
	}

	prefix := fmt.Sprintf("[%s] [%s] ", now.Format("2006-01-02 15:04:05"), level.String())
	out.Println(prefix + message)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
