// Package logger provides component-tagged structured logging for the gateway.
//
// Every call names the component that emitted it ("session", "send", "api", …)
// and may carry a field map:
//
//	logger.InfoCF("session", "State changed", map[string]interface{}{"to": "ready"})
//
// Output is produced by a log/slog handler; Configure selects text or JSON.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// Level is the minimum severity that is written.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "debug",
	INFO:  "info",
	WARN:  "warn",
	ERROR: "error",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "unknown"
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a level name to a Level. Unknown names are an error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

var (
	mu       sync.RWMutex
	levelVar = new(slog.LevelVar)
	base     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
)

// Configure replaces the output handler. format is "json" or "text".
func Configure(w io.Writer, format string, level Level) {
	mu.Lock()
	defer mu.Unlock()

	levelVar.Set(level.slogLevel())
	opts := &slog.HandlerOptions{Level: levelVar}
	if strings.EqualFold(format, "json") {
		base = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		base = slog.New(slog.NewTextHandler(w, opts))
	}
}

// SetLevel changes the minimum level without touching the handler.
func SetLevel(level Level) {
	levelVar.Set(level.slogLevel())
}

func log(level Level, component, message string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	lvl := level.slogLevel()
	if !l.Enabled(context.Background(), lvl) {
		return
	}

	attrs := make([]slog.Attr, 0, len(fields)+1)
	attrs = append(attrs, slog.String("component", component))

	// Stable field order keeps log lines diffable.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}

	l.LogAttrs(context.Background(), lvl, message, attrs...)
}

func DebugC(component, message string) { log(DEBUG, component, message, nil) }
func InfoC(component, message string)  { log(INFO, component, message, nil) }
func WarnC(component, message string)  { log(WARN, component, message, nil) }
func ErrorC(component, message string) { log(ERROR, component, message, nil) }

func DebugCF(component, message string, fields map[string]interface{}) {
	log(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	log(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	log(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	log(ERROR, component, message, fields)
}
